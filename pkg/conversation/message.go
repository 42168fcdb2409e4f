package conversation

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

type MessageID uuid.UUID

func NewMessageID() MessageID {
	return MessageID(uuid.New())
}

func (id MessageID) String() string {
	return uuid.UUID(id).String()
}

func (id MessageID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

func (id *MessageID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

// Message is a single entry of a conversation's history.
type Message struct {
	ID      MessageID `json:"id"`
	Time    time.Time `json:"time"`
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	// ResponsePlaceholder is shown by the caller as a hint for the next user reply.
	ResponsePlaceholder string `json:"responsePlaceholder,omitempty"`
}

type MessageOption func(*Message)

func WithResponsePlaceholder(placeholder string) MessageOption {
	return func(message *Message) {
		message.ResponsePlaceholder = placeholder
	}
}

func WithTime(time time.Time) MessageOption {
	return func(message *Message) {
		message.Time = time
	}
}

func WithID(id MessageID) MessageOption {
	return func(message *Message) {
		message.ID = id
	}
}

func NewMessage(role Role, content string, options ...MessageOption) Message {
	ret := Message{
		ID:      NewMessageID(),
		Time:    time.Now(),
		Role:    role,
		Content: content,
	}

	for _, option := range options {
		option(&ret)
	}

	return ret
}

func NewUserMessage(content string, options ...MessageOption) Message {
	return NewMessage(RoleUser, content, options...)
}

func NewBotMessage(content string, options ...MessageOption) Message {
	return NewMessage(RoleBot, content, options...)
}

func (m Message) View() string {
	return fmt.Sprintf("[%s]: %s", m.Role, strings.TrimRight(m.Content, "\n"))
}

// Messages is the ordered, append-only history of a conversation.
type Messages []Message

// First returns the opening message, if any.
func (messages Messages) First() (Message, bool) {
	if len(messages) == 0 {
		return Message{}, false
	}
	return messages[0], true
}

// Clone returns a copy that can be handed out without exposing the backing array.
func (messages Messages) Clone() Messages {
	if messages == nil {
		return nil
	}
	ret := make(Messages, len(messages))
	copy(ret, messages)
	return ret
}

// Transcript renders all messages prefixed with their role, one per line.
func (messages Messages) Transcript() string {
	prompt := ""
	for _, message := range messages {
		prompt += message.View() + "\n"
	}
	return prompt
}
