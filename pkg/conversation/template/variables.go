package template

import (
	"github.com/pkg/errors"
)

type Timing string

const (
	// TimingConversationStart variables are resolved once, when a conversation is created.
	TimingConversationStart Timing = "conversation-start"
	// TimingMessage variables are resolved for every turn.
	TimingMessage Timing = "message"
)

// SourceKind names the strategy used to resolve a variable.
// The resolver ships "constant" and "message"; hosts register their own
// kinds (selected text, file names, ...).
type SourceKind string

const (
	SourceConstant             SourceKind = "constant"
	SourceMessage              SourceKind = "message"
	SourceSelectedText         SourceKind = "selected-text"
	SourceSelectedLocationText SourceKind = "selected-location-text"
	SourceFilename             SourceKind = "filename"
	SourceLanguage             SourceKind = "language"
)

type ConstraintType string

const ConstraintTextLength ConstraintType = "text-length"

type Constraint struct {
	Type ConstraintType `yaml:"type" json:"type"`
	Min  int            `yaml:"min" json:"min"`
}

type VariableDeclaration struct {
	Name        string       `yaml:"name" json:"name"`
	Type        SourceKind   `yaml:"type" json:"type"`
	Time        Timing       `yaml:"time" json:"time"`
	Constraints []Constraint `yaml:"constraints,omitempty" json:"constraints,omitempty"`

	// Value is the payload of constant variables.
	Value interface{} `yaml:"value,omitempty" json:"value,omitempty"`
	// Index and Property select a field of a message for message variables.
	Index    int    `yaml:"index,omitempty" json:"index,omitempty"`
	Property string `yaml:"property,omitempty" json:"property,omitempty"`

	// Params holds any other source-specific parameter.
	Params map[string]interface{} `yaml:",inline" json:"-"`
}

func (v VariableDeclaration) Validate() error {
	if v.Name == "" {
		return errors.Wrap(ErrInvalidTemplate, "variable without name")
	}
	if v.Type == "" {
		return errors.Wrapf(ErrInvalidTemplate, "variable %q has no type", v.Name)
	}
	switch v.Time {
	case TimingConversationStart, TimingMessage:
	default:
		return errors.Wrapf(ErrInvalidTemplate, "variable %q has unsupported time %q", v.Name, v.Time)
	}
	for _, c := range v.Constraints {
		switch c.Type {
		case ConstraintTextLength:
		default:
			return errors.Wrapf(ErrInvalidTemplate, "variable %q has unsupported constraint %q", v.Name, c.Type)
		}
	}
	return nil
}

// Param returns a source-specific parameter.
func (v VariableDeclaration) Param(name string) (interface{}, bool) {
	p, ok := v.Params[name]
	return p, ok
}
