package events

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rolltidehero/rubberduck-vscode/pkg/helpers"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ConversationEventHandler receives decoded conversation updates.
type ConversationEventHandler func(ctx context.Context, e *ConversationUpdated) error

// EventRouter wires an in-process gochannel pubsub to a watermill router.
type EventRouter struct {
	logger     watermill.LoggerAdapter
	Publisher  message.Publisher
	Subscriber message.Subscriber
	router     *message.Router
	zlog       zerolog.Logger
}

type EventRouterOption func(*EventRouter)

func WithLogger(logger zerolog.Logger) EventRouterOption {
	return func(r *EventRouter) {
		r.zlog = logger
		r.logger = helpers.NewWatermill(logger)
	}
}

func NewEventRouter(options ...EventRouterOption) (*EventRouter, error) {
	ret := &EventRouter{
		logger: watermill.NopLogger{},
		zlog:   log.Logger,
	}
	for _, o := range options {
		o(ret)
	}

	goPubSub := gochannel.NewGoChannel(gochannel.Config{
		BlockPublishUntilSubscriberAck: true,
	}, ret.logger)
	ret.Publisher = goPubSub
	ret.Subscriber = goPubSub

	router, err := message.NewRouter(message.RouterConfig{}, ret.logger)
	if err != nil {
		return nil, err
	}
	ret.router = router

	return ret, nil
}

func (e *EventRouter) Close() error {
	if err := e.Publisher.Close(); err != nil {
		e.zlog.Error().Err(err).Msg("failed to close pubsub")
	}
	if err := e.router.Close(); err != nil {
		e.zlog.Error().Err(err).Msg("failed to close router")
	}
	return nil
}

func (e *EventRouter) AddHandler(name string, topic string, f func(msg *message.Message) error) {
	e.router.AddNoPublisherHandler(name, topic, e.Subscriber, f)
}

// AddConversationHandler decodes conversation updates on topic and passes
// them to handler. Undecodable payloads are logged and dropped.
func (e *EventRouter) AddConversationHandler(name string, topic string, handler ConversationEventHandler) {
	e.AddHandler(name, topic, func(msg *message.Message) error {
		ev, err := NewConversationUpdatedFromJSON(msg.Payload)
		if err != nil {
			e.zlog.Error().Err(err).Str("message_id", msg.UUID).Msg("dropping malformed event")
			return nil
		}
		return handler(msg.Context(), ev)
	})
}

func (e *EventRouter) Running() chan struct{} {
	return e.router.Running()
}

func (e *EventRouter) Run(ctx context.Context) error {
	return e.router.Run(ctx)
}
