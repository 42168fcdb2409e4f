// Package variables turns a template's variable declarations into bindings
// for the expression evaluator.
package variables

import (
	"context"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/rolltidehero/rubberduck-vscode/pkg/conversation"
	"github.com/rolltidehero/rubberduck-vscode/pkg/conversation/template"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// MessagesBinding is always bound to the message history.
const MessagesBinding = "messages"

var (
	ErrUnknownSource      = errors.New("unknown variable source")
	ErrDuplicateVariable  = errors.New("duplicate variable")
	ErrConstraintViolated = errors.New("variable constraint violated")
)

// Context is what a source may look at while resolving.
type Context struct {
	Time     template.Timing
	Messages conversation.Messages
}

// Source resolves the variables of one source kind. Sources must not depend
// on other variables: they are resolved concurrently.
type Source interface {
	Resolve(ctx context.Context, decl template.VariableDeclaration, rctx Context) (interface{}, error)
}

type SourceFunc func(ctx context.Context, decl template.VariableDeclaration, rctx Context) (interface{}, error)

func (f SourceFunc) Resolve(ctx context.Context, decl template.VariableDeclaration, rctx Context) (interface{}, error) {
	return f(ctx, decl, rctx)
}

// Static returns a source that always resolves to v.
func Static(v interface{}) Source {
	return SourceFunc(func(context.Context, template.VariableDeclaration, Context) (interface{}, error) {
		return v, nil
	})
}

type Resolver struct {
	sources map[template.SourceKind]Source
	logger  zerolog.Logger
}

type Option func(*Resolver)

func WithSource(kind template.SourceKind, source Source) Option {
	return func(r *Resolver) {
		r.sources[kind] = source
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// NewResolver returns a resolver that knows the constant and message sources
// plus whatever sources the options register.
func NewResolver(options ...Option) *Resolver {
	ret := &Resolver{
		sources: map[template.SourceKind]Source{
			template.SourceConstant: SourceFunc(resolveConstant),
			template.SourceMessage:  SourceFunc(resolveMessage),
		},
		logger: log.Logger,
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

// Resolve resolves the declarations whose timing matches rctx.Time. Either
// every variable resolves, or an error is returned and no bindings at all.
func (r *Resolver) Resolve(
	ctx context.Context,
	declarations []template.VariableDeclaration,
	rctx Context,
) (map[string]interface{}, error) {
	selected := []template.VariableDeclaration{}
	sources := []Source{}
	seen := map[string]bool{MessagesBinding: true}

	for _, decl := range declarations {
		if decl.Time != rctx.Time {
			continue
		}
		if seen[decl.Name] {
			return nil, errors.Wrapf(ErrDuplicateVariable, "variable %q is already defined", decl.Name)
		}
		seen[decl.Name] = true

		source, ok := r.sources[decl.Type]
		if !ok {
			return nil, errors.Wrapf(ErrUnknownSource, "variable %q has source %q", decl.Name, decl.Type)
		}
		selected = append(selected, decl)
		sources = append(sources, source)
	}

	values := make([]interface{}, len(selected))
	eg, ctx2 := errgroup.WithContext(ctx)
	for i := range selected {
		i := i
		eg.Go(func() error {
			decl := selected[i]
			v, err := sources[i].Resolve(ctx2, decl, rctx)
			if err != nil {
				return errors.Wrapf(err, "could not resolve variable %q", decl.Name)
			}
			if err := checkConstraints(decl, v); err != nil {
				return err
			}
			values[i] = v
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	ret := map[string]interface{}{
		MessagesBinding: rctx.Messages.Clone(),
	}
	for i, decl := range selected {
		ret[decl.Name] = values[i]
	}

	r.logger.Trace().
		Str("timing", string(rctx.Time)).
		Int("variables", len(selected)).
		Msg("resolved variables")

	return ret, nil
}

func checkConstraints(decl template.VariableDeclaration, v interface{}) error {
	for _, c := range decl.Constraints {
		switch c.Type {
		case template.ConstraintTextLength:
			if v == nil {
				return errors.Wrapf(ErrConstraintViolated, "variable %q is undefined", decl.Name)
			}
			s, ok := v.(string)
			if !ok {
				return errors.Wrapf(ErrConstraintViolated, "variable %q is not a string", decl.Name)
			}
			if utf8.RuneCountInString(s) < c.Min {
				return errors.Wrapf(ErrConstraintViolated, "variable %q must be at least %d characters long", decl.Name, c.Min)
			}
		default:
			return errors.Wrapf(ErrConstraintViolated, "variable %q has unsupported constraint %q", decl.Name, c.Type)
		}
	}
	return nil
}

func resolveConstant(_ context.Context, decl template.VariableDeclaration, _ Context) (interface{}, error) {
	return decl.Value, nil
}

// resolveMessage picks a property of the message at decl.Index. A message
// that does not exist yet resolves to the empty string.
func resolveMessage(_ context.Context, decl template.VariableDeclaration, rctx Context) (interface{}, error) {
	if decl.Index < 0 || decl.Index >= len(rctx.Messages) {
		return "", nil
	}
	m := rctx.Messages[decl.Index]
	switch decl.Property {
	case "content", "":
		return m.Content, nil
	case "role", "author":
		return string(m.Role), nil
	}
	return nil, errors.Errorf("unsupported message property %q", decl.Property)
}
