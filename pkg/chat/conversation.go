// Package chat runs template-driven conversations: it owns the turn-taking
// state machine, invokes the completion backend and routes completions to
// their handlers.
//
// A Conversation is not safe for concurrent use. Callers serialize Answer and
// Retry per conversation (see the session package).
package chat

import (
	"context"

	"github.com/google/uuid"
	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
	"github.com/rolltidehero/rubberduck-vscode/pkg/artifact"
	"github.com/rolltidehero/rubberduck-vscode/pkg/backend"
	"github.com/rolltidehero/rubberduck-vscode/pkg/conversation"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const UnknownErrorMessage = "Unknown error"

var ErrUnsupportedCompletionHandler = errors.New("unsupported completion handler")

type Conversation struct {
	id            string
	state         conversation.State
	messages      conversation.Messages
	initVariables map[string]interface{}

	mirror   artifact.Mirror
	host     artifact.Host
	client   backend.Client
	observer Observer
	strategy Strategy
	logger   zerolog.Logger
}

type ConversationOption func(*Conversation)

func WithConversationID(id string) ConversationOption {
	return func(c *Conversation) {
		c.id = id
	}
}

// WithInitVariables sets the conversation-start bindings. The map is deep
// copied.
func WithInitVariables(vars map[string]interface{}) ConversationOption {
	return func(c *Conversation) {
		c.initVariables = cloneVariables(vars)
	}
}

func WithArtifactHost(host artifact.Host) ConversationOption {
	return func(c *Conversation) {
		c.host = host
	}
}

func WithObserver(observer Observer) ConversationOption {
	return func(c *Conversation) {
		c.observer = observer
	}
}

func WithLogger(logger zerolog.Logger) ConversationOption {
	return func(c *Conversation) {
		c.logger = logger
	}
}

func NewConversation(strategy Strategy, client backend.Client, options ...ConversationOption) *Conversation {
	ret := &Conversation{
		id:            uuid.NewString(),
		strategy:      strategy,
		client:        client,
		initVariables: map[string]interface{}{},
		logger:        log.Logger,
	}
	for _, o := range options {
		o(ret)
	}
	ret.state = strategy.InitialState()
	ret.logger = ret.logger.With().Str("conversation", ret.id).Logger()
	return ret
}

func cloneVariables(vars map[string]interface{}) map[string]interface{} {
	if vars == nil {
		return map[string]interface{}{}
	}
	return clone.Clone(vars).(map[string]interface{})
}

func (c *Conversation) ID() string {
	return c.id
}

func (c *Conversation) State() conversation.State {
	return c.state
}

// Messages returns a copy of the message history.
func (c *Conversation) Messages() conversation.Messages {
	return c.messages.Clone()
}

func (c *Conversation) InitVariables() map[string]interface{} {
	return cloneVariables(c.initVariables)
}

// ArtifactContent returns the latest content routed to the artifact mirror.
func (c *Conversation) ArtifactContent() (string, bool) {
	return c.mirror.Content()
}

func (c *Conversation) GetTitle(ctx context.Context) string {
	return c.strategy.Title(ctx, c)
}

func (c *Conversation) IsTitleMessage() bool {
	return c.strategy.IsTitleMessage(c)
}

func (c *Conversation) Codicon() string {
	return c.strategy.Codicon()
}

// Answer appends userMessage when given and runs a backend turn. Failures of
// the turn are reported through the Error state; only configuration errors
// are also returned.
func (c *Conversation) Answer(ctx context.Context, userMessage *string) error {
	if userMessage != nil {
		c.messages = append(c.messages, conversation.NewUserMessage(*userMessage))
		c.notify(ctx)
	}

	c.setState(ctx, conversation.WaitingForBotAnswer{BotAction: c.strategy.BotAction(c)})
	return c.executeTurn(ctx)
}

// Retry re-runs the backend turn against the existing history.
func (c *Conversation) Retry(ctx context.Context) error {
	c.setState(ctx, conversation.WaitingForBotAnswer{BotAction: c.strategy.BotAction(c)})
	return c.executeTurn(ctx)
}

func (c *Conversation) executeTurn(ctx context.Context) error {
	turn, err := c.strategy.NextTurn(ctx, c)
	if err != nil {
		c.logger.Warn().Err(err).Msg("could not prepare turn")
		c.setError(ctx, err.Error())
		return nil
	}

	c.logger.Debug().
		Str("handler", string(turn.Processor.CompletionHandler)).
		Int("prompt_length", len(turn.Request.Prompt)).
		Msg("requesting completion")

	completion, err := c.client.GenerateCompletion(ctx, turn.Request)
	if err != nil {
		c.logger.Warn().Err(err).Msg("completion failed")
		c.setError(ctx, err.Error())
		return nil
	}
	if completion.IsError() {
		c.logger.Info().Str("error", completion.ErrorMessage).Msg("backend returned an error")
		c.setError(ctx, completion.ErrorMessage)
		return nil
	}

	if err := c.strategy.RouteCompletion(ctx, c, turn, completion.Content); err != nil {
		c.logger.Error().Err(err).Msg("could not route completion")
		c.setError(ctx, err.Error())
		if errors.Is(err, ErrUnsupportedCompletionHandler) {
			return err
		}
	}

	return nil
}

func (c *Conversation) addBotMessage(ctx context.Context, m conversation.Message) {
	c.messages = append(c.messages, m)
	c.state = conversation.UserCanReply{}
	c.notify(ctx)
}

func (c *Conversation) setState(ctx context.Context, s conversation.State) {
	c.state = s
	c.notify(ctx)
}

func (c *Conversation) setError(ctx context.Context, msg string) {
	if msg == "" {
		msg = UnknownErrorMessage
	}
	c.setState(ctx, conversation.Error{ErrorMessage: msg})
}

// syncArtifact pushes the mirror to the host. Failures are only logged.
func (c *Conversation) syncArtifact(ctx context.Context) {
	if c.host == nil {
		return
	}
	if err := c.mirror.Sync(ctx, c.host); err != nil {
		c.logger.Warn().Err(err).Msg("could not update artifact")
	}
}

func (c *Conversation) notify(ctx context.Context) {
	if c.observer == nil {
		return
	}
	if err := c.observer.ConversationUpdated(ctx, c); err != nil {
		c.logger.Warn().Err(err).Msg("observer failed")
	}
}
