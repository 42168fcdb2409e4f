package template

import (
	"bytes"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/iancoleman/strcase"
	"github.com/mb0/glob"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"
)

const (
	metadataBlockTag    = "conversation-template"
	promptBlockPrefix   = "template-"
	markdownTemplateExt = ".rdt.md"
)

// DefaultPatterns are the file names LoadDir picks up when no pattern is given.
var DefaultPatterns = []string{"*" + markdownTemplateExt, "*.yaml", "*.yml", "*.json"}

// ParseYAML decodes a template from YAML (or JSON, which is valid YAML) and validates it.
func ParseYAML(r io.Reader) (*ConversationTemplate, error) {
	t, err := decodeYAML(r)
	if err != nil {
		return nil, err
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// ParseMarkdown reads the markdown template format: a fenced block tagged
// "conversation-template" holds the template itself, and prompt templates
// may reference fenced blocks tagged "template-<name>" by name.
func ParseMarkdown(source []byte) (*ConversationTemplate, error) {
	t, err := decodeMarkdown(source)
	if err != nil {
		return nil, err
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func decodeYAML(r io.Reader) (*ConversationTemplate, error) {
	t := &ConversationTemplate{}
	if err := yaml.NewDecoder(r).Decode(t); err != nil {
		return nil, errors.Wrap(err, "could not decode conversation template")
	}
	return t, nil
}

func decodeMarkdown(source []byte) (*ConversationTemplate, error) {
	document := goldmark.DefaultParser().Parse(text.NewReader(source))

	var metadata []byte
	prompts := map[string]string{}

	err := ast.Walk(document, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		v, ok := n.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}

		info := ""
		if v.Info != nil {
			info = string(v.Info.Segment.Value(source))
		}
		fields := strings.Fields(info)
		if len(fields) == 0 {
			return ast.WalkContinue, nil
		}

		code := codeBlockContent(v, source)
		switch {
		case len(fields) > 1 && fields[1] == metadataBlockTag:
			if metadata != nil {
				return ast.WalkStop, errors.Wrap(ErrInvalidTemplate, "more than one conversation-template block")
			}
			metadata = []byte(code)
		case strings.HasPrefix(fields[0], promptBlockPrefix):
			prompts[strings.TrimPrefix(fields[0], promptBlockPrefix)] = code
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, err
	}
	if metadata == nil {
		return nil, errors.Wrap(ErrInvalidTemplate, "no conversation-template block found")
	}

	t := &ConversationTemplate{}
	if err := yaml.Unmarshal(metadata, t); err != nil {
		return nil, errors.Wrap(err, "could not decode conversation-template block")
	}

	resolvePromptReference(&t.Chat, prompts)
	if t.Analysis != nil {
		resolvePromptReference(t.Analysis, prompts)
	}

	return t, nil
}

func resolvePromptReference(p *MessageProcessor, prompts map[string]string) {
	if s, ok := prompts[p.Prompt.Template]; ok {
		p.Prompt.Template = s
	}
}

func codeBlockContent(v *ast.FencedCodeBlock, source []byte) string {
	lines := v.Lines()
	if lines.Len() == 0 {
		return ""
	}
	var buf bytes.Buffer
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		buf.Write(line.Value(source))
	}
	return buf.String()
}

type Loader struct {
	fs     afero.Fs
	logger zerolog.Logger
}

type LoaderOption func(*Loader)

func WithLogger(logger zerolog.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

func NewLoader(fs afero.Fs, options ...LoaderOption) *Loader {
	ret := &Loader{
		fs:     fs,
		logger: log.Logger,
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

// Load reads a single template file. Templates without an id get one
// derived from their file name.
func (l *Loader) Load(path string) (*ConversationTemplate, error) {
	b, err := afero.ReadFile(l.fs, path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read template %s", path)
	}

	var t *ConversationTemplate
	if strings.HasSuffix(path, ".md") {
		t, err = decodeMarkdown(b)
	} else {
		t, err = decodeYAML(bytes.NewReader(b))
	}
	if err != nil {
		return nil, errors.Wrapf(err, "could not load template %s", path)
	}

	if t.ID == "" {
		t.ID = IDFromPath(path)
	}
	if err := t.Validate(); err != nil {
		return nil, errors.Wrapf(err, "could not load template %s", path)
	}

	return t, nil
}

// IDFromPath derives a template id from a file name, e.g.
// "Generate Unit Test.rdt.md" becomes "generate-unit-test".
func IDFromPath(path string) string {
	base := filepath.Base(path)
	for _, ext := range []string{markdownTemplateExt, ".yaml", ".yml", ".json", ".md"} {
		if strings.HasSuffix(base, ext) {
			base = strings.TrimSuffix(base, ext)
			break
		}
	}
	return strcase.ToKebab(base)
}

// LoadDir loads every template in dir whose file name matches one of the
// patterns (DefaultPatterns when none are given). Files that fail to load are
// logged and skipped.
func (l *Loader) LoadDir(dir string, patterns ...string) ([]*ConversationTemplate, error) {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}

	entries, err := afero.ReadDir(l.fs, dir)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read template directory %s", dir)
	}

	ret := []*ConversationTemplate{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		matched, err := matchesAny(patterns, entry.Name())
		if err != nil {
			return nil, err
		}
		if !matched {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		t, err := l.Load(path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("skipping conversation template")
			continue
		}
		ret = append(ret, t)
	}

	sort.Slice(ret, func(i, j int) bool {
		return ret[i].ID < ret[j].ID
	})

	return ret, nil
}

func matchesAny(patterns []string, name string) (bool, error) {
	for _, p := range patterns {
		matched, err := glob.Match(p, name)
		if err != nil {
			return false, errors.Wrapf(err, "invalid template pattern %q", p)
		}
		if matched {
			return true, nil
		}
	}
	return false, nil
}
