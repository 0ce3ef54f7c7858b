package tutor

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gyaanguru/tutor/internal/domain"
	"github.com/gyaanguru/tutor/internal/reasoning"
)

const defaultSweepInterval = 5 * time.Minute

// ProfileSource supplies the learner profile for a new session.
type ProfileSource interface {
	LoadOrDefault(ctx context.Context, accountID string) (domain.LearnerProfile, bool)
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Profiles  ProfileSource
	Completer reasoning.Completer
	IdleTTL   time.Duration
	Logger    *slog.Logger
	// OnCreate hooks run for every new session before it is returned.
	OnCreate []func(*Session)
	Now      func() time.Time
}

// Manager owns the live sessions of all accounts.
type Manager struct {
	cfg    ManagerConfig
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a session manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		cfg:      cfg,
		logger:   cfg.Logger,
		sessions: make(map[string]*Session),
	}
}

// Create loads the account's profile and opens a new session in setup.
// A profile that cannot be read degrades to the default profile.
func (m *Manager) Create(ctx context.Context, accountID string) *Session {
	profile := domain.DefaultProfile(accountID)
	degraded := true
	if m.cfg.Profiles != nil {
		profile, degraded = m.cfg.Profiles.LoadOrDefault(ctx, accountID)
	}

	s := NewSession(SessionConfig{
		ID:        uuid.Must(uuid.NewV7()).String(),
		AccountID: accountID,
		Profile:   profile,
		Degraded:  degraded,
		Completer: m.cfg.Completer,
		Logger:    m.logger,
		Now:       m.cfg.Now,
	})
	for _, hook := range m.cfg.OnCreate {
		hook(s)
	}

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()

	m.logger.Info("tutoring session created", "session_id", s.ID(), "account_id", accountID, "profile_degraded", degraded)
	return s
}

// Get returns a session owned by accountID.
func (m *Manager) Get(accountID, sessionID string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok || s.AccountID() != accountID {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// List returns the live sessions of an account, newest first.
func (m *Manager) List(accountID string) []*Session {
	m.mu.RLock()
	var out []*Session
	for _, s := range m.sessions {
		if s.AccountID() == accountID {
			out = append(out, s)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() > out[j].ID() })
	return out
}

// Close closes and forgets a session owned by accountID.
func (m *Manager) Close(accountID, sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok || s.AccountID() != accountID {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	s.Close()
	return nil
}

// CloseAll closes every live session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep closes sessions idle for longer than the configured TTL and returns
// how many were closed. Sessions with a reply in flight are kept.
func (m *Manager) Sweep() int {
	if m.cfg.IdleTTL <= 0 {
		return 0
	}
	cutoff := m.cfg.Now().Add(-m.cfg.IdleTTL)

	m.mu.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		if s.Pending() || s.IdleSince().After(cutoff) {
			continue
		}
		expired = append(expired, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, s := range expired {
		m.logger.Info("closing idle tutoring session", "session_id", s.ID(), "account_id", s.AccountID())
		s.Close()
	}
	return len(expired)
}

// StartSweeper runs Sweep periodically until ctx is done.
func (m *Manager) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		m.logger.Info("session sweeper started", "interval", interval, "ttl", m.cfg.IdleTTL)

		for {
			select {
			case <-ticker.C:
				if n := m.Sweep(); n > 0 {
					m.logger.Info("session sweeper closed idle sessions", "count", n)
				}
			case <-ctx.Done():
				m.logger.Info("session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
