// Package session keeps track of running conversations and serializes the
// turns of each one. Overlapping calls on a conversation are rejected rather
// than queued.
package session

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rolltidehero/rubberduck-vscode/pkg/chat"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrConversationBusy     = errors.New("conversation is busy")
	ErrConversationNotFound = errors.New("conversation not found")
)

type entry struct {
	conversation *chat.Conversation
	typeID       string
	busy         sync.Mutex
}

type Manager struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   []string
	logger  zerolog.Logger
}

type ManagerOption func(*Manager)

func WithLogger(logger zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

func NewManager(options ...ManagerOption) *Manager {
	ret := &Manager{
		entries: map[string]*entry{},
		logger:  log.Logger,
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

// Start creates a conversation of type ct and registers it. Conversation-start
// variables are resolved unless opts already carries them. Conversations that
// open with a bot turn run that turn before Start returns.
func (m *Manager) Start(ctx context.Context, ct *chat.ConversationType, opts chat.CreateOptions) (*chat.Conversation, error) {
	if opts.InitVariables == nil {
		vars, err := ct.ResolveInitVariables(ctx)
		if err != nil {
			return nil, err
		}
		opts.InitVariables = vars
	}

	res, err := ct.CreateConversation(ctx, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "could not create conversation of type %s", ct.ID())
	}

	c := res.Conversation
	e := &entry{conversation: c, typeID: ct.ID()}

	m.mu.Lock()
	if _, ok := m.entries[c.ID()]; ok {
		m.mu.Unlock()
		return nil, errors.Errorf("conversation %s already exists", c.ID())
	}
	m.entries[c.ID()] = e
	m.order = append(m.order, c.ID())
	m.mu.Unlock()

	m.logger.Debug().
		Str("conversation", c.ID()).
		Str("type", ct.ID()).
		Bool("immediate_answer", res.ShouldImmediatelyAnswer).
		Msg("conversation started")

	if res.ShouldImmediatelyAnswer {
		if err := m.run(e, func() error { return c.Answer(ctx, nil) }); err != nil {
			return c, err
		}
	}

	return c, nil
}

func (m *Manager) lookup(id string) (*entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, errors.Wrapf(ErrConversationNotFound, "%s", id)
	}
	return e, nil
}

func (m *Manager) run(e *entry, f func() error) error {
	if !e.busy.TryLock() {
		return errors.Wrapf(ErrConversationBusy, "%s", e.conversation.ID())
	}
	defer e.busy.Unlock()
	return f()
}

func (m *Manager) Answer(ctx context.Context, id string, userMessage *string) error {
	e, err := m.lookup(id)
	if err != nil {
		return err
	}
	return m.run(e, func() error { return e.conversation.Answer(ctx, userMessage) })
}

func (m *Manager) Retry(ctx context.Context, id string) error {
	e, err := m.lookup(id)
	if err != nil {
		return err
	}
	return m.run(e, func() error { return e.conversation.Retry(ctx) })
}

// With runs f on the conversation while no turn is in progress.
func (m *Manager) With(id string, f func(c *chat.Conversation) error) error {
	e, err := m.lookup(id)
	if err != nil {
		return err
	}
	return m.run(e, func() error { return f(e.conversation) })
}

func (m *Manager) Get(id string) (*chat.Conversation, error) {
	e, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return e.conversation, nil
}

// List returns the conversations in the order they were started.
func (m *Manager) List() []*chat.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	ret := make([]*chat.Conversation, 0, len(m.order))
	for _, id := range m.order {
		ret = append(ret, m.entries[id].conversation)
	}
	return ret
}

func (m *Manager) Close(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[id]; !ok {
		return errors.Wrapf(ErrConversationNotFound, "%s", id)
	}
	delete(m.entries, id)
	for i, o := range m.order {
		if o == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}
