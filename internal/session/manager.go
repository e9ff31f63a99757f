package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrNoSession is returned by [Manager.Stop] when nothing is running.
var ErrNoSession = errors.New("session: no active session")

// Builder creates a fresh, unstarted session from cfg. It is called once per
// [Manager.Start], so every session gets its own backends and buffers.
type Builder func(cfg Config) (*Session, error)

// Info holds metadata about the active session.
type Info struct {
	SessionID string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`
	Backend   string    `json:"backend,omitempty"`
}

// Manager manages the lifecycle of biofeedback sessions. Only one session
// can be active at a time. All exported methods are safe for concurrent use.
type Manager struct {
	build Builder

	mu      sync.Mutex
	cfg     Config
	current *Session
}

// NewManager returns a Manager that creates sessions with build from cfg.
func NewManager(cfg Config, build Builder) *Manager {
	return &Manager{cfg: cfg, build: build}
}

// Start builds and starts a new session. Returns an error if a session is
// already active.
func (m *Manager) Start(ctx context.Context) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		return Info{}, fmt.Errorf("session: a session is already active (id=%s)", m.current.ID())
	}

	s, err := m.build(m.cfg)
	if err != nil {
		return Info{}, fmt.Errorf("session: build: %w", err)
	}
	if err := s.Start(ctx); err != nil {
		return Info{}, err
	}
	m.current = s
	return infoOf(s), nil
}

// Stop ends the active session and releases everything it holds.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	s := m.current
	m.current = nil
	m.mu.Unlock()

	if s == nil {
		return ErrNoSession
	}
	_, err := s.Stop(ctx)
	return err
}

// IsActive reports whether a session is currently running.
func (m *Manager) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}

// Current returns the active session, or nil.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Info returns metadata about the active session. The zero value is
// returned when no session is active.
func (m *Manager) Info() Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return Info{}
	}
	return infoOf(m.current)
}

// Config returns the configuration new sessions are built with.
func (m *Manager) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// SetSamplingRate updates the rate for future sessions and applies it to the
// active one.
func (m *Manager) SetSamplingRate(rate float64) error {
	if rate <= 0 {
		return fmt.Errorf("session: invalid sampling rate %v", rate)
	}
	m.mu.Lock()
	m.cfg.SamplingRate = rate
	s := m.current
	m.mu.Unlock()

	if s == nil {
		return nil
	}
	slog.Info("applying sampling rate", "session_id", s.ID(), "rate", rate)
	return s.SetSamplingRate(rate)
}

// SetAlpha updates the facial smoothing factor for future sessions and
// applies it to the active one.
func (m *Manager) SetAlpha(alpha float64) {
	m.mu.Lock()
	m.cfg.Alpha = alpha
	s := m.current
	m.mu.Unlock()

	if s != nil {
		s.SetAlpha(alpha)
	}
}

func infoOf(s *Session) Info {
	return Info{
		SessionID: s.ID(),
		StartedAt: s.StartedAt(),
		Backend:   s.Bridge().Active(),
	}
}
