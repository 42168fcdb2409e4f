// Package template describes conversations declaratively.
//
// A ConversationTemplate carries the variables a conversation needs, a header
// used to title it in a UI, and one or two message processors: "chat" drives
// ongoing turns, "analysis" drives the opening turn of analysis-style
// templates. Templates are loaded once and never mutated afterwards.
package template

import (
	"github.com/pkg/errors"
)

var ErrInvalidTemplate = errors.New("invalid conversation template")

type Type string

const (
	TypeBasicChat                Type = "basic-chat"
	TypeSelectedCodeAnalysisChat Type = "selected-code-analysis-chat"
)

func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case TypeBasicChat, TypeSelectedCodeAnalysisChat:
		return t, nil
	}
	return "", errors.Wrapf(ErrInvalidTemplate, "unsupported conversation type %q", s)
}

type CompletionHandler string

const (
	// CompletionHandlerDefault is an unset handler and behaves like CompletionHandlerMessage.
	CompletionHandlerDefault               CompletionHandler = ""
	CompletionHandlerMessage               CompletionHandler = "message"
	CompletionHandlerUpdateTemporaryEditor CompletionHandler = "update-temporary-editor"
)

func ParseCompletionHandler(s string) (CompletionHandler, error) {
	switch h := CompletionHandler(s); h {
	case CompletionHandlerDefault, CompletionHandlerMessage, CompletionHandlerUpdateTemporaryEditor:
		return h, nil
	}
	return "", errors.Wrapf(ErrInvalidTemplate, "unsupported completion handler %q", s)
}

type Icon struct {
	Type  string `yaml:"type" json:"type"`
	Value string `yaml:"value" json:"value"`
}

type Header struct {
	Title                  string `yaml:"title" json:"title"`
	UseFirstMessageAsTitle bool   `yaml:"useFirstMessageAsTitle,omitempty" json:"useFirstMessageAsTitle,omitempty"`
	Icon                   Icon   `yaml:"icon" json:"icon"`
}

type Prompt struct {
	Template    string   `yaml:"template" json:"template"`
	MaxTokens   int      `yaml:"maxTokens" json:"maxTokens"`
	Stop        []string `yaml:"stop,omitempty" json:"stop,omitempty"`
	Temperature float64  `yaml:"temperature,omitempty" json:"temperature,omitempty"`
}

type MessageProcessor struct {
	Prompt            Prompt            `yaml:"prompt" json:"prompt"`
	CompletionHandler CompletionHandler `yaml:"completionHandler,omitempty" json:"completionHandler,omitempty"`
	// Placeholder labels the bot action while this processor's turn is running.
	Placeholder string `yaml:"placeholder,omitempty" json:"placeholder,omitempty"`
}

type ConversationTemplate struct {
	ID          string                `yaml:"id" json:"id"`
	Label       string                `yaml:"label" json:"label"`
	Description string                `yaml:"description" json:"description"`
	Type        Type                  `yaml:"type" json:"type"`
	Header      Header                `yaml:"header" json:"header"`
	Variables   []VariableDeclaration `yaml:"variables,omitempty" json:"variables,omitempty"`
	Chat        MessageProcessor      `yaml:"chat" json:"chat"`
	// Analysis is set iff Type is not TypeBasicChat.
	Analysis *MessageProcessor `yaml:"analysis,omitempty" json:"analysis,omitempty"`
}

// Validate checks the structural invariants the conversation engine relies on.
// It does not validate prompt contents.
func (t *ConversationTemplate) Validate() error {
	if t.ID == "" {
		return errors.Wrap(ErrInvalidTemplate, "missing id")
	}
	if _, err := ParseType(string(t.Type)); err != nil {
		return errors.Wrapf(err, "template %s", t.ID)
	}

	switch t.Type {
	case TypeBasicChat:
		if t.Analysis != nil {
			return errors.Wrapf(ErrInvalidTemplate, "template %s: basic-chat templates must not declare an analysis processor", t.ID)
		}
	case TypeSelectedCodeAnalysisChat:
		if t.Analysis == nil {
			return errors.Wrapf(ErrInvalidTemplate, "template %s: %s templates require an analysis processor", t.ID, t.Type)
		}
	}

	processors := map[string]*MessageProcessor{"chat": &t.Chat}
	if t.Analysis != nil {
		processors["analysis"] = t.Analysis
	}
	for name, p := range processors {
		if _, err := ParseCompletionHandler(string(p.CompletionHandler)); err != nil {
			return errors.Wrapf(err, "template %s, %s processor", t.ID, name)
		}
	}

	seen := map[string]bool{}
	for _, v := range t.Variables {
		if err := v.Validate(); err != nil {
			return errors.Wrapf(err, "template %s", t.ID)
		}
		if seen[v.Name] {
			return errors.Wrapf(ErrInvalidTemplate, "template %s: variable %q is declared twice", t.ID, v.Name)
		}
		seen[v.Name] = true
	}

	return nil
}

// VariablesAt returns the declarations resolved in the given phase, in declaration order.
func (t *ConversationTemplate) VariablesAt(time Timing) []VariableDeclaration {
	ret := []VariableDeclaration{}
	for _, v := range t.Variables {
		if v.Time == time {
			ret = append(ret, v)
		}
	}
	return ret
}
