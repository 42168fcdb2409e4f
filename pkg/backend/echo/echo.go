// Package echo provides offline backends: Client replays the prompt back and
// ScriptedClient hands out canned completions in order.
package echo

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rolltidehero/rubberduck-vscode/pkg/backend"
)

type Client struct {
	TimePerCharacter time.Duration
}

var _ backend.Client = (*Client)(nil)

func NewClient() *Client {
	return &Client{}
}

func (e *Client) GenerateCompletion(ctx context.Context, req backend.Request) (backend.Completion, error) {
	if e.TimePerCharacter > 0 {
		for range req.Prompt {
			select {
			case <-ctx.Done():
				return backend.Completion{}, ctx.Err()
			case <-time.After(e.TimePerCharacter):
			}
		}
	}
	return backend.NewSuccess(req.Prompt), nil
}

var ErrScriptExhausted = errors.New("no scripted completion left")

type scripted struct {
	completion backend.Completion
	err        error
}

// ScriptedClient returns its queued results in order and records every request.
type ScriptedClient struct {
	mu       sync.Mutex
	script   []scripted
	requests []backend.Request
}

var _ backend.Client = (*ScriptedClient)(nil)

func NewScriptedClient(completions ...backend.Completion) *ScriptedClient {
	ret := &ScriptedClient{}
	for _, c := range completions {
		ret.Push(c)
	}
	return ret
}

func (s *ScriptedClient) Push(c backend.Completion) *ScriptedClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = append(s.script, scripted{completion: c})
	return s
}

func (s *ScriptedClient) PushError(err error) *ScriptedClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = append(s.script, scripted{err: err})
	return s
}

func (s *ScriptedClient) GenerateCompletion(ctx context.Context, req backend.Request) (backend.Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)
	if err := ctx.Err(); err != nil {
		return backend.Completion{}, err
	}
	if len(s.script) == 0 {
		return backend.Completion{}, ErrScriptExhausted
	}
	next := s.script[0]
	s.script = s.script[1:]
	return next.completion, next.err
}

func (s *ScriptedClient) Requests() []backend.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]backend.Request(nil), s.requests...)
}

func (s *ScriptedClient) LastRequest() (backend.Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		return backend.Request{}, false
	}
	return s.requests[len(s.requests)-1], true
}
