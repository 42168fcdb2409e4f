package cmds

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/rolltidehero/rubberduck-vscode/pkg/conversation/template"
	"github.com/rolltidehero/rubberduck-vscode/pkg/conversation/variables"
	"github.com/spf13/afero"
)

var ErrNoSelection = errors.New("no selection, pass --selection-file")

// Selection stands in for an editor selection: a file given on the command
// line.
type Selection struct {
	Path     string
	Text     string
	Language string
}

func LoadSelection(fs afero.Fs, path string, language string) (*Selection, error) {
	b, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read selection %s", path)
	}
	if language == "" {
		language = LanguageForPath(path)
	}
	return &Selection{Path: path, Text: string(b), Language: language}, nil
}

var languagesByExtension = map[string]string{
	".go":   "go",
	".ts":   "typescript",
	".tsx":  "typescriptreact",
	".js":   "javascript",
	".jsx":  "javascriptreact",
	".py":   "python",
	".rs":   "rust",
	".java": "java",
	".kt":   "kotlin",
	".rb":   "ruby",
	".php":  "php",
	".c":    "c",
	".h":    "c",
	".cpp":  "cpp",
	".cs":   "csharp",
	".sh":   "shellscript",
	".sql":  "sql",
	".md":   "markdown",
	".yaml": "yaml",
	".yml":  "yaml",
	".json": "json",
}

// LanguageForPath returns an editor language id for path, or "plaintext".
func LanguageForPath(path string) string {
	if l, ok := languagesByExtension[strings.ToLower(filepath.Ext(path))]; ok {
		return l
	}
	return "plaintext"
}

// StripExtensionParam makes filename variables drop the file extension:
//
//	- name: module
//	  type: filename
//	  time: conversation-start
//	  stripExtension: true
const StripExtensionParam = "stripExtension"

// ResolverOptions registers the selection-backed variable sources. A nil
// selection registers sources that fail with ErrNoSelection.
func (s *Selection) ResolverOptions() []variables.Option {
	source := func(f func(s *Selection, decl template.VariableDeclaration) interface{}) variables.Source {
		return variables.SourceFunc(func(_ context.Context, decl template.VariableDeclaration, _ variables.Context) (interface{}, error) {
			if s == nil {
				return nil, ErrNoSelection
			}
			return f(s, decl), nil
		})
	}

	return []variables.Option{
		variables.WithSource(template.SourceSelectedText, source(func(s *Selection, _ template.VariableDeclaration) interface{} {
			return s.Text
		})),
		variables.WithSource(template.SourceSelectedLocationText, source(func(s *Selection, _ template.VariableDeclaration) interface{} {
			return map[string]interface{}{
				"path":     s.Path,
				"text":     s.Text,
				"language": s.Language,
			}
		})),
		variables.WithSource(template.SourceFilename, source(func(s *Selection, decl template.VariableDeclaration) interface{} {
			name := filepath.Base(s.Path)
			if strip, _ := decl.Param(StripExtensionParam); strip == true {
				name = strings.TrimSuffix(name, filepath.Ext(name))
			}
			return name
		})),
		variables.WithSource(template.SourceLanguage, source(func(s *Selection, _ template.VariableDeclaration) interface{} {
			return s.Language
		})),
	}
}

// ParseVars parses name=value pairs.
func ParseVars(pairs []string) (map[string]interface{}, error) {
	ret := map[string]interface{}{}
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, errors.Errorf("invalid variable %q, expected name=value", p)
		}
		ret[name] = value
	}
	return ret, nil
}
