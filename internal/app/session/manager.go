package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Manager hands out one Session per bearer token and closes sessions
// that have been idle for longer than ttl.
type Manager struct {
	deps   Deps
	cfg    Config
	ttl    time.Duration
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*managed
	closed   bool
}

type managed struct {
	session *Session
	// ready is closed once session or err is set.
	ready    chan struct{}
	err      error
	lastUsed time.Time
}

// NewManager builds a manager. A ttl of zero keeps sessions until Close.
func NewManager(deps Deps, cfg Config, ttl time.Duration) *Manager {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{deps: deps, cfg: cfg, ttl: ttl, logger: logger, sessions: make(map[string]*managed)}
}

// Acquire returns the session for token, starting it on first use and
// loading its thread list.
func (m *Manager) Acquire(ctx context.Context, token string) (*Session, error) {
	now := m.now()
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errClosed
	}
	if entry, ok := m.sessions[token]; ok {
		entry.lastUsed = now
		m.mu.Unlock()
		select {
		case <-entry.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return entry.session, entry.err
	}
	entry := &managed{ready: make(chan struct{}), lastUsed: now}
	m.sessions[token] = entry
	m.mu.Unlock()

	sess, err := Start(ctx, m.deps, m.cfg, token)
	if err == nil {
		if err = sess.LoadThreads(ctx); err != nil {
			_ = sess.Close()
			sess = nil
		}
	}
	entry.session, entry.err = sess, err
	close(entry.ready)
	if err != nil {
		m.mu.Lock()
		if m.sessions[token] == entry {
			delete(m.sessions, token)
		}
		m.mu.Unlock()
		return nil, err
	}
	m.logger.Info("session started", "user_id", string(sess.User()))
	return sess, nil
}

// Release closes the session bound to token.
func (m *Manager) Release(token string) error {
	m.mu.Lock()
	entry, ok := m.sessions[token]
	delete(m.sessions, token)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	<-entry.ready
	if entry.session == nil {
		return nil
	}
	return entry.session.Close()
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Evict closes sessions idle since before now-ttl and returns how many it closed.
func (m *Manager) Evict() int {
	if m.ttl <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.ttl)
	var stale []*managed
	m.mu.Lock()
	for token, entry := range m.sessions {
		select {
		case <-entry.ready:
		default:
			continue
		}
		if entry.lastUsed.Before(cutoff) {
			stale = append(stale, entry)
			delete(m.sessions, token)
		}
	}
	m.mu.Unlock()
	for _, entry := range stale {
		if err := entry.session.Close(); err != nil {
			m.logger.Warn("closing idle session failed", "user_id", string(entry.session.User()), "error", err)
		}
	}
	return len(stale)
}

// Run evicts idle sessions every interval until ctx ends.
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := m.Evict(); n > 0 {
				m.logger.Info("idle sessions closed", "count", n)
			}
		}
	}
}

// Close ends every session.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	entries := m.sessions
	m.sessions = make(map[string]*managed)
	m.mu.Unlock()
	var errs []error
	for _, entry := range entries {
		<-entry.ready
		if entry.session != nil {
			errs = append(errs, entry.session.Close())
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) now() time.Time {
	if m.deps.Clock != nil {
		return m.deps.Clock.Now()
	}
	return time.Now()
}
