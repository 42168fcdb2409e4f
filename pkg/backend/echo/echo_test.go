package echo

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rolltidehero/rubberduck-vscode/pkg/backend"
	"github.com/stretchr/testify/require"
)

func TestEchoReturnsPrompt(t *testing.T) {
	c := NewClient()
	completion, err := c.GenerateCompletion(context.Background(), backend.Request{Prompt: "hello"})
	require.NoError(t, err)
	require.Equal(t, backend.NewSuccess("hello"), completion)
}

func TestEchoHonorsCancellation(t *testing.T) {
	c := &Client{TimePerCharacter: time.Second}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.GenerateCompletion(ctx, backend.Request{Prompt: "hello"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestScriptedClientReplaysInOrder(t *testing.T) {
	boom := errors.New("connection reset")
	c := NewScriptedClient(backend.NewSuccess("one"), backend.NewError("rate limited")).PushError(boom)

	first, err := c.GenerateCompletion(context.Background(), backend.Request{Prompt: "a"})
	require.NoError(t, err)
	require.Equal(t, "one", first.Content)

	second, err := c.GenerateCompletion(context.Background(), backend.Request{Prompt: "b"})
	require.NoError(t, err)
	require.True(t, second.IsError())

	_, err = c.GenerateCompletion(context.Background(), backend.Request{Prompt: "c"})
	require.Equal(t, boom, err)

	_, err = c.GenerateCompletion(context.Background(), backend.Request{Prompt: "d"})
	require.ErrorIs(t, err, ErrScriptExhausted)

	require.Len(t, c.Requests(), 4)
	last, ok := c.LastRequest()
	require.True(t, ok)
	require.Equal(t, "d", last.Prompt)
}
