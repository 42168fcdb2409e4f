// Package backend defines the text-completion collaborator the conversation
// engine talks to. Implementations live in the subpackages.
package backend

import (
	"context"
)

type Request struct {
	Prompt      string
	MaxTokens   int
	Stop        []string
	Temperature float64
}

type CompletionType string

const (
	CompletionTypeSuccess CompletionType = "success"
	CompletionTypeError   CompletionType = "error"
)

// Completion is the outcome of a request. Error outcomes (rate limits,
// refusals, API errors) are expected and reported here rather than as Go
// errors.
type Completion struct {
	Type         CompletionType
	Content      string
	ErrorMessage string
}

func NewSuccess(content string) Completion {
	return Completion{Type: CompletionTypeSuccess, Content: content}
}

func NewError(errorMessage string) Completion {
	return Completion{Type: CompletionTypeError, ErrorMessage: errorMessage}
}

func (c Completion) IsError() bool {
	return c.Type == CompletionTypeError
}

type Client interface {
	// GenerateCompletion returns an error only for failures that are not
	// reported by the backend itself.
	GenerateCompletion(ctx context.Context, req Request) (Completion, error)
}

type ClientFunc func(ctx context.Context, req Request) (Completion, error)

func (f ClientFunc) GenerateCompletion(ctx context.Context, req Request) (Completion, error) {
	return f(ctx, req)
}
