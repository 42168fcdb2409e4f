package chat

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/rolltidehero/rubberduck-vscode/pkg/artifact"
	"github.com/rolltidehero/rubberduck-vscode/pkg/backend"
	"github.com/rolltidehero/rubberduck-vscode/pkg/backend/echo"
	"github.com/rolltidehero/rubberduck-vscode/pkg/conversation"
	"github.com/rolltidehero/rubberduck-vscode/pkg/conversation/template"
	"github.com/rolltidehero/rubberduck-vscode/pkg/conversation/variables"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func basicChatTemplate() *template.ConversationTemplate {
	return &template.ConversationTemplate{
		ID:    "chat",
		Label: "Start chat",
		Type:  template.TypeBasicChat,
		Header: template.Header{
			Title:                  "New chat",
			UseFirstMessageAsTitle: true,
			Icon:                   template.Icon{Type: "codicon", Value: "comment-discussion"},
		},
		Variables: []template.VariableDeclaration{
			{Name: "firstMessage", Type: template.SourceMessage, Time: template.TimingMessage, Index: 0, Property: "content"},
		},
		Chat: template.MessageProcessor{
			Prompt: template.Prompt{
				Template:  "{{range .messages}}{{.Role}}: {{.Content}}\n{{end}}bot:",
				MaxTokens: 1024,
				Stop:      []string{"user:"},
			},
		},
	}
}

func generateTestTemplate() *template.ConversationTemplate {
	return &template.ConversationTemplate{
		ID:    "generate-unit-test",
		Label: "Generate unit test",
		Type:  template.TypeSelectedCodeAnalysisChat,
		Header: template.Header{
			Title: "Test for {{filename}}",
			Icon:  template.Icon{Type: "codicon", Value: "beaker"},
		},
		Variables: []template.VariableDeclaration{
			{Name: "filename", Type: template.SourceConstant, Time: template.TimingConversationStart, Value: "auth.ts"},
		},
		Analysis: &template.MessageProcessor{
			Prompt:            template.Prompt{Template: "ANALYSIS {{filename}}", MaxTokens: 512, Temperature: 0.2},
			CompletionHandler: template.CompletionHandlerUpdateTemporaryEditor,
			Placeholder:       "Generating test",
		},
		Chat: template.MessageProcessor{
			Prompt:            template.Prompt{Template: "REFINE {{temporaryEditorContent}} WITH {{(index .messages 1).Content}}", MaxTokens: 512},
			CompletionHandler: template.CompletionHandlerUpdateTemporaryEditor,
		},
	}
}

func explainTemplate() *template.ConversationTemplate {
	return &template.ConversationTemplate{
		ID:    "explain-code",
		Label: "Explain code",
		Type:  template.TypeSelectedCodeAnalysisChat,
		Header: template.Header{
			Title: "Explain {{variableX}}",
			Icon:  template.Icon{Type: "codicon", Value: "book"},
		},
		Analysis: &template.MessageProcessor{
			Prompt: template.Prompt{Template: "ANALYSIS", MaxTokens: 256},
		},
		Chat: template.MessageProcessor{
			Prompt:            template.Prompt{Template: "CHAT", MaxTokens: 256},
			CompletionHandler: template.CompletionHandlerMessage,
		},
	}
}

type recordingObserver struct {
	states []conversation.StateType
	err    error
}

func (r *recordingObserver) ConversationUpdated(_ context.Context, c *Conversation) error {
	r.states = append(r.states, c.State().Type())
	return r.err
}

func newConversation(
	t *testing.T,
	tmpl *template.ConversationTemplate,
	client backend.Client,
	opts CreateOptions,
) (*Conversation, bool) {
	t.Helper()
	ct, err := NewConversationType(tmpl, SourceBuiltIn)
	require.NoError(t, err)
	if opts.InitVariables == nil {
		opts.InitVariables, err = ct.ResolveInitVariables(context.Background())
		require.NoError(t, err)
	}
	opts.Client = client
	res, err := ct.CreateConversation(context.Background(), opts)
	require.NoError(t, err)
	return res.Conversation, res.ShouldImmediatelyAnswer
}

func strPtr(s string) *string {
	return &s
}

func TestBasicChatStartsWaitingForUser(t *testing.T) {
	c, immediate := newConversation(t, basicChatTemplate(), echo.NewScriptedClient(), CreateOptions{})
	require.False(t, immediate)
	require.Equal(t, conversation.UserCanReply{}, c.State())
	require.Empty(t, c.Messages())
}

func TestAnalysisChatStartsWaitingForBot(t *testing.T) {
	c, immediate := newConversation(t, explainTemplate(), echo.NewScriptedClient(), CreateOptions{})
	require.True(t, immediate)
	require.Equal(t, conversation.WaitingForBotAnswer{BotAction: conversation.DefaultBotAction}, c.State())

	c, _ = newConversation(t, generateTestTemplate(), echo.NewScriptedClient(), CreateOptions{})
	require.Equal(t, conversation.WaitingForBotAnswer{BotAction: "Generating test"}, c.State())
}

func TestBasicChatAnswer(t *testing.T) {
	client := echo.NewScriptedClient(backend.NewSuccess("  Use a mutex.\n"))
	c, _ := newConversation(t, basicChatTemplate(), client, CreateOptions{})

	require.NoError(t, c.Answer(context.Background(), strPtr("How do I fix this race?")))

	require.Equal(t, conversation.UserCanReply{}, c.State())
	messages := c.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, conversation.RoleUser, messages[0].Role)
	assert.Equal(t, conversation.RoleBot, messages[1].Role)
	assert.Equal(t, "Use a mutex.", messages[1].Content)

	req, ok := client.LastRequest()
	require.True(t, ok)
	assert.Equal(t, "user: How do I fix this race?\nbot:", req.Prompt)
	assert.Equal(t, 1024, req.MaxTokens)
	assert.Equal(t, []string{"user:"}, req.Stop)
}

func TestPromptBranchesOnMessageRole(t *testing.T) {
	tmpl := basicChatTemplate()
	tmpl.Chat.Prompt.Template = `{{range .messages}}{{if eq .Role "user"}}U{{else}}B{{end}}:{{.Content}};{{end}}`
	client := echo.NewScriptedClient(backend.NewSuccess("hello"), backend.NewSuccess("bye"))
	c, _ := newConversation(t, tmpl, client, CreateOptions{})

	require.NoError(t, c.Answer(context.Background(), strPtr("hi")))
	req, _ := client.LastRequest()
	require.Equal(t, "U:hi;", req.Prompt)

	require.NoError(t, c.Answer(context.Background(), strPtr("ok")))
	req, _ = client.LastRequest()
	require.Equal(t, "U:hi;B:hello;U:ok;", req.Prompt)
}

type botActionObserver struct {
	actions []string
}

func (b *botActionObserver) ConversationUpdated(_ context.Context, c *Conversation) error {
	if s, ok := c.State().(conversation.WaitingForBotAnswer); ok {
		b.actions = append(b.actions, s.BotAction)
	}
	return nil
}

func TestWaitingStateUsesProcessorPlaceholder(t *testing.T) {
	observer := &botActionObserver{}
	client := echo.NewScriptedClient(
		backend.NewSuccess("it('works')"),
		backend.NewSuccess("it('works twice')"),
		backend.NewSuccess("it('works again')"),
	)
	tmpl := generateTestTemplate()
	tmpl.Chat.Placeholder = "Refining test"
	c, _ := newConversation(t, tmpl, client, CreateOptions{Observer: observer})

	require.NoError(t, c.Answer(context.Background(), nil))
	require.NoError(t, c.Answer(context.Background(), strPtr("add a failing case")))
	require.NoError(t, c.Retry(context.Background()))

	require.Equal(t, []string{"Generating test", "Refining test", "Refining test"}, observer.actions)
}

func TestOpeningTurnUsesAnalysisProcessor(t *testing.T) {
	client := echo.NewScriptedClient(backend.NewSuccess("It validates tokens."), backend.NewSuccess("Yes."))
	c, _ := newConversation(t, explainTemplate(), client, CreateOptions{})

	require.NoError(t, c.Answer(context.Background(), nil))
	req, _ := client.LastRequest()
	require.Equal(t, "ANALYSIS", req.Prompt)
	require.Equal(t, "It validates tokens.", c.Messages()[0].Content)

	require.NoError(t, c.Answer(context.Background(), strPtr("Is it safe?")))
	req, _ = client.LastRequest()
	require.Equal(t, "CHAT", req.Prompt)
	require.Len(t, c.Messages(), 3)
}

func TestUpdateTemporaryEditorGeneratesThenUpdatesTest(t *testing.T) {
	client := echo.NewScriptedClient(
		backend.NewSuccess("\n  it('works', () => {})\n"),
		backend.NewSuccess("it('works with tokens', () => {})"),
	)
	host := artifact.NewMemoryHost()
	c, _ := newConversation(t, generateTestTemplate(), client, CreateOptions{ArtifactHost: host})

	require.NoError(t, c.Answer(context.Background(), nil))

	messages := c.Messages()
	require.Len(t, messages, 1)
	require.Equal(t, TestGeneratedMessage, messages[0].Content)
	require.Equal(t, RefineTestResponsePrompt, messages[0].ResponsePlaceholder)
	content, ok := c.ArtifactContent()
	require.True(t, ok)
	require.Equal(t, "it('works', () => {})", content)
	require.Len(t, host.Opened(), 1)

	req, _ := client.LastRequest()
	require.Equal(t, "ANALYSIS auth.ts", req.Prompt)
	require.Equal(t, 0.2, req.Temperature)

	require.NoError(t, c.Answer(context.Background(), strPtr("cover tokens")))

	req, _ = client.LastRequest()
	require.Equal(t, "REFINE it('works', () => {}) WITH cover tokens", req.Prompt)

	messages = c.Messages()
	require.Len(t, messages, 3)
	require.Equal(t, TestUpdatedMessage, messages[2].Content)

	opened := host.Opened()
	require.Len(t, opened, 1)
	replaced, _ := host.Get(opened[0])
	require.Equal(t, "it('works with tokens', () => {})", replaced)
	require.Equal(t, conversation.UserCanReply{}, c.State())
}

type brokenHost struct{}

func (brokenHost) Open(context.Context, string) (artifact.Handle, error) {
	return "", errors.New("editor closed")
}

func (brokenHost) Replace(context.Context, artifact.Handle, string) error {
	return errors.New("editor closed")
}

func TestArtifactFailureIsNotATurnFailure(t *testing.T) {
	client := echo.NewScriptedClient(backend.NewSuccess("test"))
	c, _ := newConversation(t, generateTestTemplate(), client, CreateOptions{ArtifactHost: brokenHost{}})

	require.NoError(t, c.Answer(context.Background(), nil))
	require.Equal(t, conversation.UserCanReply{}, c.State())
	require.Equal(t, TestGeneratedMessage, c.Messages()[0].Content)
}

func TestBackendErrorOutcomeSetsErrorState(t *testing.T) {
	client := echo.NewScriptedClient(backend.NewError("Rate limit reached"))
	c, _ := newConversation(t, basicChatTemplate(), client, CreateOptions{})

	require.NoError(t, c.Answer(context.Background(), strPtr("hi")))
	require.Equal(t, conversation.Error{ErrorMessage: "Rate limit reached"}, c.State())

	messages := c.Messages()
	require.Len(t, messages, 1)
	require.Equal(t, conversation.RoleUser, messages[0].Role)
}

func TestBackendFailureSetsErrorState(t *testing.T) {
	client := echo.NewScriptedClient().PushError(errors.New("connection reset"))
	c, _ := newConversation(t, basicChatTemplate(), client, CreateOptions{})

	require.NoError(t, c.Answer(context.Background(), strPtr("hi")))
	require.Equal(t, conversation.Error{ErrorMessage: "connection reset"}, c.State())

	client = echo.NewScriptedClient(backend.NewError(""))
	c, _ = newConversation(t, basicChatTemplate(), client, CreateOptions{})
	require.NoError(t, c.Answer(context.Background(), strPtr("hi")))
	require.Equal(t, conversation.Error{ErrorMessage: UnknownErrorMessage}, c.State())
}

func TestResolutionFailureSetsErrorState(t *testing.T) {
	tmpl := basicChatTemplate()
	tmpl.Variables = append(tmpl.Variables, template.VariableDeclaration{
		Name:        "selectedText",
		Type:        template.SourceSelectedText,
		Time:        template.TimingMessage,
		Constraints: []template.Constraint{{Type: template.ConstraintTextLength, Min: 1}},
	})
	client := echo.NewScriptedClient(backend.NewSuccess("never"))

	ct, err := NewConversationType(tmpl, SourceBuiltIn, WithTypeResolver(
		variables.NewResolver(variables.WithSource(template.SourceSelectedText, variables.Static("")))))
	require.NoError(t, err)
	res, err := ct.CreateConversation(context.Background(), CreateOptions{Client: client})
	require.NoError(t, err)
	c := res.Conversation

	require.NoError(t, c.Answer(context.Background(), strPtr("hi")))
	state, ok := c.State().(conversation.Error)
	require.True(t, ok)
	require.Contains(t, state.ErrorMessage, "at least 1 characters")
	require.Empty(t, client.Requests())
}

func TestRenderFailureSetsErrorState(t *testing.T) {
	tmpl := basicChatTemplate()
	tmpl.Chat.Prompt.Template = "{{.undefinedVariable}}"
	client := echo.NewScriptedClient(backend.NewSuccess("never"))
	c, _ := newConversation(t, tmpl, client, CreateOptions{})

	require.NoError(t, c.Answer(context.Background(), strPtr("hi")))
	require.Equal(t, conversation.StateTypeError, c.State().Type())
	require.Empty(t, client.Requests())
}

func TestRetryAddsOneBotMessagePerCall(t *testing.T) {
	client := echo.NewScriptedClient(
		backend.NewError("overloaded"),
		backend.NewSuccess("first"),
		backend.NewSuccess("second"),
	)
	c, _ := newConversation(t, basicChatTemplate(), client, CreateOptions{})

	require.NoError(t, c.Answer(context.Background(), strPtr("hi")))
	require.Equal(t, conversation.StateTypeError, c.State().Type())
	require.Len(t, c.Messages(), 1)

	require.NoError(t, c.Retry(context.Background()))
	require.Equal(t, conversation.UserCanReply{}, c.State())
	require.Len(t, c.Messages(), 2)

	require.NoError(t, c.Retry(context.Background()))
	messages := c.Messages()
	require.Len(t, messages, 3)
	require.Equal(t, "second", messages[2].Content)
}

func TestUnsupportedHandlerFailsFast(t *testing.T) {
	tmpl := basicChatTemplate()
	tmpl.Chat.CompletionHandler = "open-browser"
	client := echo.NewScriptedClient(backend.NewSuccess("x"))
	c := NewConversation(NewTemplateStrategy(tmpl), client)

	err := c.Answer(context.Background(), strPtr("hi"))
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrUnsupportedCompletionHandler))
	require.Equal(t, conversation.StateTypeError, c.State().Type())
	require.Len(t, c.Messages(), 1)
}

func TestTitleUsesFirstMessage(t *testing.T) {
	client := echo.NewScriptedClient(backend.NewSuccess("ok"))
	c, _ := newConversation(t, basicChatTemplate(), client, CreateOptions{})

	require.False(t, c.IsTitleMessage())
	require.Equal(t, "New chat", c.GetTitle(context.Background()))

	require.NoError(t, c.Answer(context.Background(), strPtr("Why is this slow?")))
	require.True(t, c.IsTitleMessage())
	require.Equal(t, "Why is this slow?", c.GetTitle(context.Background()))
	require.Equal(t, "comment-discussion", c.Codicon())
}

func TestTitleEvaluatesTemplate(t *testing.T) {
	c, _ := newConversation(t, explainTemplate(), echo.NewScriptedClient(), CreateOptions{
		InitVariables: map[string]interface{}{"variableX": "auth.ts"},
	})
	require.False(t, c.IsTitleMessage())
	require.Equal(t, "Explain auth.ts", c.GetTitle(context.Background()))

	c, _ = newConversation(t, generateTestTemplate(), echo.NewScriptedClient(), CreateOptions{})
	require.Equal(t, "Test for auth.ts", c.GetTitle(context.Background()))
}

func TestTitleFallsBackToRawTemplate(t *testing.T) {
	c, _ := newConversation(t, explainTemplate(), echo.NewScriptedClient(), CreateOptions{
		InitVariables: map[string]interface{}{},
	})
	require.Equal(t, "Explain {{variableX}}", c.GetTitle(context.Background()))
}

func TestObserverSeesEveryTransition(t *testing.T) {
	observer := &recordingObserver{err: errors.New("panel disposed")}
	client := echo.NewScriptedClient(backend.NewSuccess("ok"))
	c, _ := newConversation(t, basicChatTemplate(), client, CreateOptions{Observer: observer})

	require.NoError(t, c.Answer(context.Background(), strPtr("hi")))
	require.Equal(t, []conversation.StateType{
		conversation.StateTypeUserCanReply,
		conversation.StateTypeWaitingForBotAnswer,
		conversation.StateTypeUserCanReply,
	}, observer.states)
}

func TestRefreshFuncAdapter(t *testing.T) {
	calls := 0
	refresh := RefreshFunc(func(context.Context) error {
		calls++
		return nil
	})
	client := echo.NewScriptedClient(backend.NewSuccess("ok"))
	c, _ := newConversation(t, basicChatTemplate(), client, CreateOptions{
		Observer: Observers{refresh, nil},
	})

	require.NoError(t, c.Retry(context.Background()))
	require.Equal(t, 2, calls)
}

func TestInitVariablesAreCopied(t *testing.T) {
	vars := map[string]interface{}{"selectedText": "a := 1", "tags": []string{"go"}}
	c, _ := newConversation(t, basicChatTemplate(), echo.NewScriptedClient(), CreateOptions{InitVariables: vars})

	vars["selectedText"] = "changed"
	vars["tags"].([]string)[0] = "changed"

	got := c.InitVariables()
	require.Equal(t, "a := 1", got["selectedText"])
	require.Equal(t, []string{"go"}, got["tags"])

	got["selectedText"] = "mutated"
	require.Equal(t, "a := 1", c.InitVariables()["selectedText"])
}

func TestResolveInitVariablesOnlyUsesStartTiming(t *testing.T) {
	ct, err := NewConversationType(generateTestTemplate(), SourceLocalWorkspace)
	require.NoError(t, err)
	require.Equal(t, "generate-unit-test", ct.ID())
	require.Equal(t, SourceLocalWorkspace, ct.Source())
	require.Len(t, ct.Variables(), 1)

	vars, err := ct.ResolveInitVariables(context.Background())
	require.NoError(t, err)
	require.Equal(t, map[string]interface{}{"filename": "auth.ts"}, vars)
}

func TestCreateConversationRequiresClient(t *testing.T) {
	ct, err := NewConversationType(basicChatTemplate(), SourceBuiltIn)
	require.NoError(t, err)
	_, err = ct.CreateConversation(context.Background(), CreateOptions{})
	require.Error(t, err)

	res, err := ct.CreateConversation(context.Background(), CreateOptions{
		ConversationID: "c-1",
		Client:         echo.NewClient(),
	})
	require.NoError(t, err)
	require.Equal(t, "c-1", res.Conversation.ID())
}
