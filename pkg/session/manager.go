package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/teslashibe/qrsnap/pkg/decode"
	"github.com/teslashibe/qrsnap/pkg/video"
)

// Manager holds the current session. Loading a new stream tears down the
// previous one, so dedup state never carries across streams.
type Manager struct {
	ctx     context.Context
	decoder decode.Decoder
	opts    Options
	logger  *slog.Logger

	mu      sync.Mutex
	current *Session
}

// NewManager creates a manager. Sessions run until Stop or until ctx is done.
func NewManager(ctx context.Context, dec decode.Decoder, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{ctx: ctx, decoder: dec, opts: opts, logger: logger.With("component", "session")}
}

// Load stops the current session, if any, and starts one for src.
func (m *Manager) Load(name string, src video.Source) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		if err := m.current.Stop(); err != nil {
			m.logger.Warn("previous session stop", "error", err)
		}
		m.current = nil
	}

	opts := m.opts
	opts.Logger = m.logger
	s, err := New(name, src, m.decoder, opts)
	if err != nil {
		return nil, err
	}
	if err := s.Start(m.ctx); err != nil {
		s.Stop()
		return nil, err
	}
	m.current = s
	return s, nil
}

// Current returns the active session.
func (m *Manager) Current() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, ErrNoSession
	}
	return m.current, nil
}

// Stop tears down the active session.
func (m *Manager) Stop() error {
	m.mu.Lock()
	s := m.current
	m.current = nil
	m.mu.Unlock()
	if s == nil {
		return ErrNoSession
	}
	return s.Stop()
}
