// Package expression renders prompt templates against variable bindings.
//
// Templates use Go text/template syntax with the sprig function set. A bare
// reference to a bound name, such as {{selectedText}}, is accepted as a
// shorthand for {{.selectedText}}. Output is never escaped: bound values are
// inserted verbatim, since templates are trusted and values routinely contain
// code.
package expression

import (
	"bytes"
	"regexp"
	"text/template"

	"github.com/go-go-golems/glazed/pkg/helpers/templating"
	"github.com/pkg/errors"
)

// Evaluator compiles templates with a fixed helper set.
type Evaluator struct {
	funcs template.FuncMap
}

type Option func(*Evaluator)

// WithFuncs adds helpers to the evaluator. Later options override earlier ones.
func WithFuncs(funcs template.FuncMap) Option {
	return func(e *Evaluator) {
		for k, v := range funcs {
			e.funcs[k] = v
		}
	}
}

// NewEvaluator returns an evaluator with the comparison helpers
// (eq, neq, lt, gt, lte, gte) and any additional helpers from options.
func NewEvaluator(options ...Option) *Evaluator {
	ret := &Evaluator{
		funcs: template.FuncMap{},
	}
	WithFuncs(ComparisonHelpers())(ret)
	for _, o := range options {
		o(ret)
	}
	return ret
}

// Template is a compiled template. Parsing is deferred to Render because
// bare references can only be told apart from helper calls once the
// bindings are known.
type Template struct {
	name  string
	text  string
	funcs template.FuncMap
}

func (e *Evaluator) Compile(name, text string) *Template {
	return &Template{
		name:  name,
		text:  text,
		funcs: e.funcs,
	}
}

// Render evaluates the template. Syntax errors, references to unbound names
// and helper failures are all returned as errors.
func (t *Template) Render(bindings map[string]interface{}) (string, error) {
	source := expandBareReferences(t.text, bindings)

	tmpl, err := templating.CreateTemplate(t.name).
		Funcs(t.funcs).
		Option("missingkey=error").
		Parse(source)
	if err != nil {
		return "", errors.Wrapf(err, "could not parse template %s", t.name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, bindings); err != nil {
		return "", errors.Wrapf(err, "could not render template %s", t.name)
	}

	return buf.String(), nil
}

// Render is a convenience for Compile followed by Render.
func (e *Evaluator) Render(name, text string, bindings map[string]interface{}) (string, error) {
	return e.Compile(name, text).Render(bindings)
}

var bareReference = regexp.MustCompile(`\{\{(-?\s*)([A-Za-z_][A-Za-z0-9_]*)(\s*-?)\}\}`)

var keywords = map[string]bool{
	"end": true, "else": true, "nil": true, "true": true, "false": true,
	"break": true, "continue": true,
}

func expandBareReferences(text string, bindings map[string]interface{}) string {
	return bareReference.ReplaceAllStringFunc(text, func(match string) string {
		parts := bareReference.FindStringSubmatch(match)
		if keywords[parts[2]] {
			return match
		}
		if _, ok := bindings[parts[2]]; !ok {
			return match
		}
		return "{{" + parts[1] + "." + parts[2] + parts[3] + "}}"
	})
}
