package chat

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/rolltidehero/rubberduck-vscode/pkg/backend"
	"github.com/rolltidehero/rubberduck-vscode/pkg/conversation"
	"github.com/rolltidehero/rubberduck-vscode/pkg/conversation/expression"
	"github.com/rolltidehero/rubberduck-vscode/pkg/conversation/template"
	"github.com/rolltidehero/rubberduck-vscode/pkg/conversation/variables"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// TemporaryEditorContentBinding exposes the artifact content to templates.
	TemporaryEditorContentBinding = "temporaryEditorContent"

	TestGeneratedMessage     = "Test generated."
	TestUpdatedMessage       = "Test updated."
	RefineTestResponsePrompt = "Instruct how to refine the test…"
)

// Turn is a prepared backend call together with the processor that produced it.
type Turn struct {
	Processor *template.MessageProcessor
	Request   backend.Request
}

// Strategy supplies the conversation-kind specific behavior of a Conversation.
type Strategy interface {
	InitialState() conversation.State
	// BotAction labels the waiting state of the next turn.
	BotAction(c *Conversation) string
	NextTurn(ctx context.Context, c *Conversation) (*Turn, error)
	RouteCompletion(ctx context.Context, c *Conversation, turn *Turn, content string) error
	Title(ctx context.Context, c *Conversation) string
	IsTitleMessage(c *Conversation) bool
	Codicon() string
}

// TemplateStrategy drives a conversation from a ConversationTemplate.
type TemplateStrategy struct {
	template  *template.ConversationTemplate
	resolver  *variables.Resolver
	evaluator *expression.Evaluator
	logger    zerolog.Logger
}

var _ Strategy = (*TemplateStrategy)(nil)

type StrategyOption func(*TemplateStrategy)

func WithResolver(r *variables.Resolver) StrategyOption {
	return func(s *TemplateStrategy) {
		s.resolver = r
	}
}

func WithEvaluator(e *expression.Evaluator) StrategyOption {
	return func(s *TemplateStrategy) {
		s.evaluator = e
	}
}

func WithStrategyLogger(logger zerolog.Logger) StrategyOption {
	return func(s *TemplateStrategy) {
		s.logger = logger
	}
}

func NewTemplateStrategy(tmpl *template.ConversationTemplate, options ...StrategyOption) *TemplateStrategy {
	ret := &TemplateStrategy{
		template: tmpl,
		logger:   log.Logger,
	}
	for _, o := range options {
		o(ret)
	}
	if ret.resolver == nil {
		ret.resolver = variables.NewResolver(variables.WithLogger(ret.logger))
	}
	if ret.evaluator == nil {
		ret.evaluator = expression.NewEvaluator()
	}
	return ret
}

func (s *TemplateStrategy) InitialState() conversation.State {
	switch s.template.Type {
	case template.TypeBasicChat:
		return conversation.UserCanReply{}
	default:
		return conversation.WaitingForBotAnswer{BotAction: s.botAction(nil)}
	}
}

func (s *TemplateStrategy) BotAction(c *Conversation) string {
	return s.botAction(c.messages)
}

// botAction is the placeholder of the processor that answers after messages.
func (s *TemplateStrategy) botAction(messages conversation.Messages) string {
	p, _, err := s.processor(messages)
	if err != nil || p.Placeholder == "" {
		return conversation.DefaultBotAction
	}
	return p.Placeholder
}

// processor picks analysis for the opening turn of analysis conversations and
// chat otherwise.
func (s *TemplateStrategy) processor(messages conversation.Messages) (*template.MessageProcessor, string, error) {
	switch s.template.Type {
	case template.TypeBasicChat:
		return &s.template.Chat, "chat", nil
	case template.TypeSelectedCodeAnalysisChat:
		if len(messages) == 0 {
			if s.template.Analysis == nil {
				return nil, "", errors.Wrapf(template.ErrInvalidTemplate, "template %s has no analysis processor", s.template.ID)
			}
			return s.template.Analysis, "analysis", nil
		}
		return &s.template.Chat, "chat", nil
	default:
		return nil, "", errors.Wrapf(template.ErrInvalidTemplate, "unknown conversation type %q", s.template.Type)
	}
}

// evaluate renders text against the message-time variables, the
// conversation-start variables and the artifact content.
func (s *TemplateStrategy) evaluate(ctx context.Context, c *Conversation, name, text string) (string, error) {
	resolved, err := s.resolver.Resolve(ctx, s.template.Variables, variables.Context{
		Time:     template.TimingMessage,
		Messages: c.messages,
	})
	if err != nil {
		return "", err
	}

	bindings := map[string]interface{}{}
	for k, v := range c.initVariables {
		bindings[k] = v
	}
	for k, v := range resolved {
		bindings[k] = v
	}
	if content, ok := c.mirror.Content(); ok {
		bindings[TemporaryEditorContentBinding] = content
	}

	return s.evaluator.Render(s.template.ID+"/"+name, text, bindings)
}

func (s *TemplateStrategy) NextTurn(ctx context.Context, c *Conversation) (*Turn, error) {
	p, name, err := s.processor(c.messages)
	if err != nil {
		return nil, err
	}

	prompt, err := s.evaluate(ctx, c, name, p.Prompt.Template)
	if err != nil {
		return nil, err
	}

	return &Turn{
		Processor: p,
		Request: backend.Request{
			Prompt:      prompt,
			MaxTokens:   p.Prompt.MaxTokens,
			Stop:        p.Prompt.Stop,
			Temperature: p.Prompt.Temperature,
		},
	}, nil
}

func (s *TemplateStrategy) RouteCompletion(ctx context.Context, c *Conversation, turn *Turn, content string) error {
	switch turn.Processor.CompletionHandler {
	case template.CompletionHandlerUpdateTemporaryEditor:
		c.mirror.Set(strings.TrimSpace(content))

		text := TestGeneratedMessage
		if len(c.messages) > 0 {
			text = TestUpdatedMessage
		}
		c.addBotMessage(ctx, conversation.NewBotMessage(text,
			conversation.WithResponsePlaceholder(RefineTestResponsePrompt)))

		c.syncArtifact(ctx)
		return nil

	case template.CompletionHandlerMessage, template.CompletionHandlerDefault:
		c.addBotMessage(ctx, conversation.NewBotMessage(strings.TrimSpace(content)))
		return nil

	default:
		return errors.Wrapf(ErrUnsupportedCompletionHandler, "%q", turn.Processor.CompletionHandler)
	}
}

// Title is the first message when the header asks for it, otherwise the
// evaluated header title. Evaluation failures fall back to the raw title.
func (s *TemplateStrategy) Title(ctx context.Context, c *Conversation) string {
	header := s.template.Header

	if header.UseFirstMessageAsTitle {
		if first, ok := c.messages.First(); ok {
			return first.Content
		}
	}

	title, err := s.evaluate(ctx, c, "title", header.Title)
	if err != nil {
		s.logger.Warn().Err(err).Str("template", s.template.ID).Msg("could not evaluate title")
		return header.Title
	}
	return title
}

func (s *TemplateStrategy) IsTitleMessage(c *Conversation) bool {
	return s.template.Header.UseFirstMessageAsTitle && len(c.messages) > 0
}

func (s *TemplateStrategy) Codicon() string {
	return s.template.Header.Icon.Value
}
