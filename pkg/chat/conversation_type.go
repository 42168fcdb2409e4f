package chat

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rolltidehero/rubberduck-vscode/pkg/artifact"
	"github.com/rolltidehero/rubberduck-vscode/pkg/backend"
	"github.com/rolltidehero/rubberduck-vscode/pkg/conversation/expression"
	"github.com/rolltidehero/rubberduck-vscode/pkg/conversation/template"
	"github.com/rolltidehero/rubberduck-vscode/pkg/conversation/variables"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Source tells where a conversation type was loaded from.
type Source string

const (
	SourceBuiltIn        Source = "built-in"
	SourceLocalWorkspace Source = "local-workspace"
	SourceExtension      Source = "extension"
)

// ConversationType creates conversations from one template.
type ConversationType struct {
	template  *template.ConversationTemplate
	source    Source
	resolver  *variables.Resolver
	evaluator *expression.Evaluator
	logger    zerolog.Logger
}

type TypeOption func(*ConversationType)

func WithTypeResolver(r *variables.Resolver) TypeOption {
	return func(t *ConversationType) {
		t.resolver = r
	}
}

func WithTypeEvaluator(e *expression.Evaluator) TypeOption {
	return func(t *ConversationType) {
		t.evaluator = e
	}
}

func WithTypeLogger(logger zerolog.Logger) TypeOption {
	return func(t *ConversationType) {
		t.logger = logger
	}
}

func NewConversationType(tmpl *template.ConversationTemplate, source Source, options ...TypeOption) (*ConversationType, error) {
	if tmpl == nil {
		return nil, errors.Wrap(template.ErrInvalidTemplate, "nil template")
	}
	if err := tmpl.Validate(); err != nil {
		return nil, err
	}

	ret := &ConversationType{
		template: tmpl,
		source:   source,
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
	return ret, nil
}

func (t *ConversationType) ID() string          { return t.template.ID }
func (t *ConversationType) Label() string       { return t.template.Label }
func (t *ConversationType) Description() string { return t.template.Description }
func (t *ConversationType) Source() Source      { return t.source }

func (t *ConversationType) Variables() []template.VariableDeclaration {
	return append([]template.VariableDeclaration(nil), t.template.Variables...)
}

// ResolveInitVariables resolves the conversation-start variables, to be
// passed as CreateOptions.InitVariables.
func (t *ConversationType) ResolveInitVariables(ctx context.Context) (map[string]interface{}, error) {
	ret, err := t.resolver.Resolve(ctx, t.template.Variables, variables.Context{
		Time: template.TimingConversationStart,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "could not start conversation %s", t.template.ID)
	}
	delete(ret, variables.MessagesBinding)
	return ret, nil
}

type CreateOptions struct {
	ConversationID string
	Client         backend.Client
	Observer       Observer
	InitVariables  map[string]interface{}
	ArtifactHost   artifact.Host
}

type CreateResult struct {
	Conversation *Conversation
	// ShouldImmediatelyAnswer is set for conversations that open with a bot turn.
	ShouldImmediatelyAnswer bool
}

func (t *ConversationType) CreateConversation(_ context.Context, opts CreateOptions) (CreateResult, error) {
	if opts.Client == nil {
		return CreateResult{}, errors.New("no backend client")
	}

	strategy := NewTemplateStrategy(t.template,
		WithResolver(t.resolver),
		WithEvaluator(t.evaluator),
		WithStrategyLogger(t.logger),
	)

	options := []ConversationOption{
		WithInitVariables(opts.InitVariables),
		WithLogger(t.logger.With().Str("template", t.template.ID).Logger()),
		WithObserver(opts.Observer),
		WithArtifactHost(opts.ArtifactHost),
	}
	if opts.ConversationID != "" {
		options = append(options, WithConversationID(opts.ConversationID))
	}

	return CreateResult{
		Conversation:            NewConversation(strategy, opts.Client, options...),
		ShouldImmediatelyAnswer: t.template.Type == template.TypeSelectedCodeAnalysisChat,
	}, nil
}
