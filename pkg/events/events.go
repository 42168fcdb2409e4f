// Package events publishes conversation updates on watermill topics so that
// views (a terminal, a chat panel, a log) can refresh independently of the
// conversation engine.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rolltidehero/rubberduck-vscode/pkg/chat"
	"github.com/rolltidehero/rubberduck-vscode/pkg/conversation"
	"github.com/rolltidehero/rubberduck-vscode/pkg/helpers"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const DefaultTopic = "conversation"

const SequenceNumberMetadataKey = "sequence_number"

// ConversationUpdated is the payload published after each change.
type ConversationUpdated struct {
	ConversationID string                 `json:"conversation_id"`
	Title          string                 `json:"title"`
	Codicon        string                 `json:"codicon,omitempty"`
	State          conversation.StateType `json:"state"`
	BotAction      string                 `json:"bot_action,omitempty"`
	ErrorMessage   string                 `json:"error_message,omitempty"`
	MessageCount   int                    `json:"message_count"`
	LastMessage    *conversation.Message  `json:"last_message,omitempty"`
	Time           time.Time              `json:"time"`
}

func NewConversationUpdated(ctx context.Context, c *chat.Conversation) *ConversationUpdated {
	messages := c.Messages()
	ret := &ConversationUpdated{
		ConversationID: c.ID(),
		Title:          c.GetTitle(ctx),
		Codicon:        c.Codicon(),
		State:          c.State().Type(),
		MessageCount:   len(messages),
		Time:           time.Now(),
	}
	switch s := c.State().(type) {
	case conversation.WaitingForBotAnswer:
		ret.BotAction = s.BotAction
	case conversation.Error:
		ret.ErrorMessage = s.ErrorMessage
	case conversation.UserCanReply:
	}
	if len(messages) > 0 {
		last := messages[len(messages)-1]
		ret.LastMessage = &last
	}
	return ret
}

func NewConversationUpdatedFromJSON(b []byte) (*ConversationUpdated, error) {
	ret := &ConversationUpdated{}
	if err := json.Unmarshal(b, ret); err != nil {
		return nil, errors.Wrap(err, "could not decode conversation event")
	}
	return ret, nil
}

// Publisher distributes conversation updates to a set of watermill
// publishers, each subscribed under a topic. Messages carry a sequence
// number and the conversation id as correlation id.
type Publisher struct {
	publishers     map[string][]message.Publisher
	sequenceNumber uint64
	mutex          sync.Mutex
	logger         zerolog.Logger
}

var _ chat.Observer = (*Publisher)(nil)

type PublisherOption func(*Publisher)

func WithPublisherLogger(logger zerolog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func NewPublisher(options ...PublisherOption) *Publisher {
	ret := &Publisher{
		publishers: map[string][]message.Publisher{},
		logger:     log.Logger,
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

func (p *Publisher) SubscribePublisher(topic string, pub message.Publisher) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.publishers[topic] = append(p.publishers[topic], helpers.CorrelationPublisherDecorator{Publisher: pub})
}

// Publish serializes payload and sends it to every subscribed publisher.
// Delivery failures are logged; only encoding errors are returned.
func (p *Publisher) Publish(ctx context.Context, payload interface{}) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	b, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "could not encode event")
	}

	for topic, pubs := range p.publishers {
		for _, pub := range pubs {
			msg := message.NewMessage(watermill.NewUUID(), b)
			msg.Metadata.Set(SequenceNumberMetadataKey, fmt.Sprintf("%d", p.sequenceNumber))
			msg.SetContext(ctx)
			if err := pub.Publish(topic, msg); err != nil {
				p.logger.Warn().Err(err).Str("topic", topic).Msg("failed to publish")
			}
		}
	}
	p.sequenceNumber++

	return nil
}

func (p *Publisher) ConversationUpdated(ctx context.Context, c *chat.Conversation) error {
	ctx = helpers.ContextWithCorrelationID(ctx, c.ID())
	return p.Publish(ctx, NewConversationUpdated(ctx, c))
}
