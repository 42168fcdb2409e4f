package chat

import (
	"context"
)

// Observer is notified after every change to a conversation's state or
// messages. Errors are logged by the conversation and otherwise ignored.
type Observer interface {
	ConversationUpdated(ctx context.Context, c *Conversation) error
}

type ObserverFunc func(ctx context.Context, c *Conversation) error

func (f ObserverFunc) ConversationUpdated(ctx context.Context, c *Conversation) error {
	return f(ctx, c)
}

// RefreshFunc adapts a plain "something changed" callback.
type RefreshFunc func(ctx context.Context) error

func (f RefreshFunc) ConversationUpdated(ctx context.Context, _ *Conversation) error {
	return f(ctx)
}

// Observers notifies each observer in order and returns the first error.
type Observers []Observer

func (o Observers) ConversationUpdated(ctx context.Context, c *Conversation) error {
	var ret error
	for _, observer := range o {
		if observer == nil {
			continue
		}
		if err := observer.ConversationUpdated(ctx, c); err != nil && ret == nil {
			ret = err
		}
	}
	return ret
}
