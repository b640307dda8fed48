package identity

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/filipexyz/beacon/internal/clock"
	"github.com/filipexyz/beacon/internal/storage"
	"golang.org/x/sync/singleflight"
)

// DefaultSessionWindow is how long a session survives without activity.
const DefaultSessionWindow = 30 * time.Minute

// Session is the persisted session record.
type Session struct {
	ID        string `json:"session_id"`
	Timestamp int64  `json:"timestamp"`
}

// SessionOption configures a SessionManager.
type SessionOption func(*SessionManager)

// WithSessionClock sets the clock.
func WithSessionClock(c clock.Clock) SessionOption {
	return func(m *SessionManager) {
		m.clock = c
	}
}

// WithSessionLogger sets the logger.
func WithSessionLogger(l *slog.Logger) SessionOption {
	return func(m *SessionManager) {
		m.logger = l
	}
}

// WithExpirationWindow sets the sliding expiration window.
func WithExpirationWindow(d time.Duration) SessionOption {
	return func(m *SessionManager) {
		if d > 0 {
			m.window = d
		}
	}
}

// SessionManager owns the session-scoped session record. A session is
// valid while now - timestamp <= window; every valid read slides the
// timestamp forward.
type SessionManager struct {
	store  storage.Store
	clock  clock.Clock
	logger *slog.Logger

	group singleflight.Group

	mu      sync.Mutex
	window  time.Duration
	loaded  bool
	session *Session
}

// NewSessionManager creates a manager over the session storage area.
func NewSessionManager(sessionArea storage.Store, opts ...SessionOption) *SessionManager {
	m := &SessionManager{
		store:  sessionArea,
		clock:  clock.Real(),
		logger: slog.Default(),
		window: DefaultSessionWindow,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "session_identity")
	return m
}

// GetOrCreateSessionID returns the current session id, refreshing its
// timestamp, or starts a new session if the stored one expired.
func (m *SessionManager) GetOrCreateSessionID(ctx context.Context) string {
	m.ensureLoaded(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	if m.validLocked(now) {
		m.session.Timestamp = now.UnixMilli()
	} else {
		if m.session != nil {
			m.logger.Debug("session expired", "session_id", m.session.ID)
		}
		m.session = newSession(now)
	}
	m.persistLocked(ctx)
	return m.session.ID
}

func (m *SessionManager) ensureLoaded(ctx context.Context) {
	m.mu.Lock()
	loaded := m.loaded
	m.mu.Unlock()
	if loaded {
		return
	}

	ctx = context.WithoutCancel(ctx)
	m.group.Do(storage.KeySessionData, func() (any, error) {
		m.mu.Lock()
		if m.loaded {
			m.mu.Unlock()
			return nil, nil
		}
		m.mu.Unlock()

		var s Session
		err := storage.GetJSON(ctx, m.store, storage.KeySessionData, &s)
		switch {
		case err == nil && s.ID != "":
		case err == nil, errors.Is(err, storage.ErrNotFound):
		default:
			m.logger.Warn("failed to load session, starting fresh", "error", err)
		}

		m.mu.Lock()
		if err == nil && s.ID != "" {
			m.session = &s
		}
		m.loaded = true
		m.mu.Unlock()
		return nil, nil
	})
}

// RegenerateSession starts a new session regardless of expiry.
func (m *SessionManager) RegenerateSession(ctx context.Context) string {
	m.ensureLoaded(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = newSession(m.clock.Now())
	m.persistLocked(ctx)
	return m.session.ID
}

// ClearSession forgets the session here and in storage.
func (m *SessionManager) ClearSession(ctx context.Context) {
	m.mu.Lock()
	m.session = nil
	m.loaded = true
	m.mu.Unlock()

	if err := m.store.Remove(ctx, storage.KeySessionData); err != nil {
		m.logger.Warn("failed to remove session", "error", err)
	}
}

// Current returns a snapshot of the cached session.
func (m *SessionManager) Current() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return Session{}, false
	}
	return *m.session, true
}

// Peek loads the stored session without refreshing it. The bool is
// false when there is no session or it has expired.
func (m *SessionManager) Peek(ctx context.Context) (Session, bool) {
	m.ensureLoaded(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return Session{}, false
	}
	return *m.session, m.validLocked(m.clock.Now())
}

// IsSessionExpired reports whether there is no valid session right now.
func (m *SessionManager) IsSessionExpired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.validLocked(m.clock.Now())
}

// SessionAge returns the time since the last refresh, or 0 without a session.
func (m *SessionManager) SessionAge() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return 0
	}
	return m.clock.Now().Sub(time.UnixMilli(m.session.Timestamp))
}

// SessionTimeRemaining returns how long until the session expires, never
// negative.
func (m *SessionManager) SessionTimeRemaining() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return 0
	}
	remaining := m.window - m.clock.Now().Sub(time.UnixMilli(m.session.Timestamp))
	if remaining < 0 {
		return 0
	}
	return remaining
}

// SetExpirationWindow changes the window; non-positive values are ignored.
func (m *SessionManager) SetExpirationWindow(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	m.window = d
	m.mu.Unlock()
}

// ExpirationWindow returns the current window.
func (m *SessionManager) ExpirationWindow() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.window
}

func (m *SessionManager) validLocked(now time.Time) bool {
	if m.session == nil || m.session.ID == "" {
		return false
	}
	return now.Sub(time.UnixMilli(m.session.Timestamp)) <= m.window
}

func (m *SessionManager) persistLocked(ctx context.Context) {
	if err := storage.SetJSON(ctx, m.store, storage.KeySessionData, m.session); err != nil {
		m.logger.Warn("failed to persist session, keeping it in memory", "error", err)
	}
}

func newSession(now time.Time) *Session {
	ms := now.UnixMilli()
	return &Session{ID: strconv.FormatInt(ms, 10), Timestamp: ms}
}
