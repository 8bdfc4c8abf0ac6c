package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Manager owns the sessions for a set of configured servers and connects
// them concurrently. Session iteration order is the sorted server id order,
// so capability manifests are deterministic.
type Manager struct {
	logger *slog.Logger
	opts   []SessionOption

	mu        sync.Mutex
	sessions  map[string]ServerSession
	order     []string
	observers []StateFunc
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the structured logger used by the manager and
// propagated to its sessions.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithManagerStateFunc installs a state observer notified of every
// session's transitions.
func WithManagerStateFunc(fn StateFunc) ManagerOption {
	return func(m *Manager) { m.observers = append(m.observers, fn) }
}

// WithSessionOptions appends options applied to every session the manager
// creates.
func WithSessionOptions(opts ...SessionOption) ManagerOption {
	return func(m *Manager) { m.opts = append(m.opts, opts...) }
}

// NewManager creates sessions for each configured server. Nothing connects
// until Connect.
func NewManager(configs map[string]ServerConfig, opts ...ManagerOption) (*Manager, error) {
	m := &Manager{
		sessions: make(map[string]ServerSession, len(configs)),
	}
	for _, fn := range opts {
		fn(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}

	ids := make([]string, 0, len(configs))
	for id := range configs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		cfg := configs[id]
		if err := cfg.validate(); err != nil {
			return nil, fmt.Errorf("server %q: %w", id, err)
		}
		sessOpts := append([]SessionOption{
			WithSessionLogger(m.logger),
			WithStateFunc(m.notifyState),
		}, m.opts...)
		m.sessions[id] = NewSession(id, cfg, sessOpts...)
		m.order = append(m.order, id)
	}
	return m, nil
}

// OnStateChange registers an additional state observer. Usable after
// construction; observers run in registration order.
func (m *Manager) OnStateChange(fn StateFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

func (m *Manager) notifyState(serverID string, state ConnState) {
	m.mu.Lock()
	observers := make([]StateFunc, len(m.observers))
	copy(observers, m.observers)
	m.mu.Unlock()
	for _, fn := range observers {
		fn(serverID, state)
	}
}

// AddSession registers a pre-built session (a LocalServer, or a fake in
// tests) under its own id. Fails on duplicate ids.
func (m *Manager) AddSession(sess ServerSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := sess.ID()
	if _, exists := m.sessions[id]; exists {
		return fmt.Errorf("server %q already registered", id)
	}
	m.sessions[id] = sess
	m.order = append(m.order, id)
	sort.Strings(m.order)
	return nil
}

// Connect connects all sessions concurrently. Individual failures do not
// abort the rest; the joined error reports every server that could not be
// reached. A nil error means every server is usable.
func (m *Manager) Connect(ctx context.Context) error {
	type connectable interface {
		Connect(ctx context.Context) error
	}

	sessions := m.Sessions()
	errs := make([]error, len(sessions))
	var wg sync.WaitGroup
	for i, sess := range sessions {
		c, ok := sess.(connectable)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(i int, id string, c connectable) {
			defer wg.Done()
			if err := c.Connect(ctx); err != nil {
				errs[i] = fmt.Errorf("server %q: %w", id, err)
			}
		}(i, sess.ID(), c)
	}
	wg.Wait()

	return errors.Join(errs...)
}

// Session returns the session for a server id.
func (m *Manager) Session(id string) (ServerSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrServerNotFound, id)
	}
	return sess, nil
}

// Sessions returns all sessions in sorted server id order.
func (m *Manager) Sessions() []ServerSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ServerSession, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.sessions[id])
	}
	return out
}

// States returns a snapshot of every session's state keyed by server id.
func (m *Manager) States() map[string]ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]ConnState, len(m.sessions))
	for id, sess := range m.sessions {
		out[id] = sess.State()
	}
	return out
}

// Close closes every session, collecting errors.
func (m *Manager) Close() error {
	var errs []error
	for _, sess := range m.Sessions() {
		if err := sess.Close(); err != nil {
			errs = append(errs, fmt.Errorf("server %q: %w", sess.ID(), err))
		}
	}
	return errors.Join(errs...)
}
