package conversation

import (
	"encoding/json"
)

type StateType string

const (
	StateTypeUserCanReply        StateType = "userCanReply"
	StateTypeWaitingForBotAnswer StateType = "waitingForBotAnswer"
	StateTypeError               StateType = "error"
)

// DefaultBotAction is used when a waiting state has no more specific label.
const DefaultBotAction = "Answering"

// State is the turn state of a conversation. Exactly one of
// UserCanReply, WaitingForBotAnswer or Error is active at any time.
type State interface {
	Type() StateType
	isState()
}

type UserCanReply struct{}

func (UserCanReply) Type() StateType { return StateTypeUserCanReply }
func (UserCanReply) isState()        {}

type WaitingForBotAnswer struct {
	BotAction string
}

func (WaitingForBotAnswer) Type() StateType { return StateTypeWaitingForBotAnswer }
func (WaitingForBotAnswer) isState()        {}

type Error struct {
	ErrorMessage string
}

func (Error) Type() StateType { return StateTypeError }
func (Error) isState()        {}

var (
	_ State = UserCanReply{}
	_ State = WaitingForBotAnswer{}
	_ State = Error{}
)

type stateJSON struct {
	Type         StateType `json:"type"`
	BotAction    string    `json:"botAction,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
}

// MarshalState serializes a state with a "type" discriminator, the shape
// that UI shells expect.
func MarshalState(s State) ([]byte, error) {
	ret := stateJSON{Type: s.Type()}
	switch v := s.(type) {
	case UserCanReply:
	case WaitingForBotAnswer:
		ret.BotAction = v.BotAction
	case Error:
		ret.ErrorMessage = v.ErrorMessage
	}
	return json.Marshal(ret)
}
