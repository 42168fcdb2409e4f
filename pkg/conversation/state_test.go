package conversation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarshalStateWaitingCarriesBotAction(t *testing.T) {
	b, err := MarshalState(WaitingForBotAnswer{BotAction: "Generating test"})
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"waitingForBotAnswer","botAction":"Generating test"}`, string(b))
}

func TestMarshalStateErrorCarriesMessage(t *testing.T) {
	b, err := MarshalState(Error{ErrorMessage: "rate limited"})
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"error","errorMessage":"rate limited"}`, string(b))
}

func TestMarshalStateUserCanReply(t *testing.T) {
	b, err := MarshalState(UserCanReply{})
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"userCanReply"}`, string(b))
}

func TestMessagesFirstAndClone(t *testing.T) {
	var messages Messages
	_, ok := messages.First()
	require.False(t, ok)
	require.Nil(t, messages.Clone())

	messages = append(messages, NewUserMessage("Fix bug"), NewBotMessage("done", WithResponsePlaceholder("more?")))
	first, ok := messages.First()
	require.True(t, ok)
	require.Equal(t, "Fix bug", first.Content)
	require.Equal(t, RoleUser, first.Role)

	cloned := messages.Clone()
	cloned[0].Content = "changed"
	require.Equal(t, "Fix bug", messages[0].Content)
	require.Equal(t, "more?", messages[1].ResponsePlaceholder)
}

func TestMessagesTranscript(t *testing.T) {
	messages := Messages{NewUserMessage("hi"), NewBotMessage("hello\n")}
	require.Equal(t, "[user]: hi\n[bot]: hello\n", messages.Transcript())
}
