package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// sessionInfo tracks session metadata for cleanup
type sessionInfo struct {
	userID     string
	lastAccess time.Time
}

// SessionTracker maps bearer tokens to user sessions so the server can
// tell distinct authenticated clients apart and report how many are
// active. Sessions expire after a period of inactivity.
type SessionTracker struct {
	sessions       map[string]*sessionInfo // Maps session ID to session info
	mu             sync.RWMutex
	cleanupTicker  *time.Ticker
	cleanupDone    chan bool
	sessionTimeout time.Duration
	logger         *slog.Logger
	onCount        func(delta int)
}

// NewSessionTracker creates a new session tracker with default timeout and logger
func NewSessionTracker() *SessionTracker {
	return NewSessionTrackerWithLogger(24*time.Hour, slog.Default())
}

// NewSessionTrackerWithTimeout creates a new session tracker with custom timeout
func NewSessionTrackerWithTimeout(timeout time.Duration) *SessionTracker {
	return NewSessionTrackerWithLogger(timeout, slog.Default())
}

// NewSessionTrackerWithLogger creates a new session tracker with custom timeout and logger
func NewSessionTrackerWithLogger(timeout time.Duration, logger *slog.Logger) *SessionTracker {
	if logger == nil {
		logger = slog.Default()
	}

	m := &SessionTracker{
		sessions:       make(map[string]*sessionInfo),
		cleanupTicker:  time.NewTicker(10 * time.Minute),
		cleanupDone:    make(chan bool),
		sessionTimeout: timeout,
		logger:         logger,
	}

	// Start cleanup goroutine
	go m.cleanupExpiredSessions()

	return m
}

// OnCountChange registers a callback invoked with the session count
// delta whenever sessions are created or expire. Used to drive the
// active-sessions gauge.
func (m *SessionTracker) OnCountChange(fn func(delta int)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onCount = fn
}

// ErrNoAuthorizationHeader is returned when no Authorization header is provided
var ErrNoAuthorizationHeader = errors.New("no authorization header provided")

// ResolveSessionID resolves the session ID from an HTTP request.
// The bearer token uniquely identifies the client, so a stable session
// ID is derived from the Authorization header.
func (m *SessionTracker) ResolveSessionID(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", ErrNoAuthorizationHeader
	}

	return m.generateSessionID(authHeader), nil
}

// Touch records activity for a session, creating it on first sight.
// Returns true when the session is new.
func (m *SessionTracker) Touch(sessionID, userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if info, ok := m.sessions[sessionID]; ok {
		info.lastAccess = time.Now()
		info.userID = userID
		return false
	}

	m.sessions[sessionID] = &sessionInfo{
		userID:     userID,
		lastAccess: time.Now(),
	}
	if m.onCount != nil {
		m.onCount(1)
	}
	return true
}

// UserForSession returns the user ID associated with a session ID,
// or empty when the session is unknown.
func (m *SessionTracker) UserForSession(sessionID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if info, ok := m.sessions[sessionID]; ok {
		return info.userID
	}
	return ""
}

// generateSessionID creates a stable session ID from the auth token
func (m *SessionTracker) generateSessionID(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// RemoveSession removes a session from the tracker
func (m *SessionTracker) RemoveSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return
	}
	delete(m.sessions, sessionID)
	if m.onCount != nil {
		m.onCount(-1)
	}
}

// ActiveSessions returns the number of tracked sessions
func (m *SessionTracker) ActiveSessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// cleanupExpiredSessions periodically removes expired sessions
func (m *SessionTracker) cleanupExpiredSessions() {
	for {
		select {
		case <-m.cleanupTicker.C:
			m.mu.Lock()
			now := time.Now()
			expiredCount := 0
			for sessionID, info := range m.sessions {
				if now.Sub(info.lastAccess) > m.sessionTimeout {
					delete(m.sessions, sessionID)
					expiredCount++
				}
			}
			if expiredCount > 0 && m.onCount != nil {
				m.onCount(-expiredCount)
			}
			m.mu.Unlock()
			if expiredCount > 0 {
				m.logger.Info("Cleaned up expired sessions", "count", expiredCount)
			}
		case <-m.cleanupDone:
			return
		}
	}
}

// Stop stops the session cleanup goroutine
func (m *SessionTracker) Stop() {
	if m.cleanupTicker != nil {
		m.cleanupTicker.Stop()
	}
	if m.cleanupDone != nil {
		close(m.cleanupDone)
	}
}

// MetricsCallback returns an OnCountChange callback that updates the
// given server context's active-sessions gauge.
func MetricsCallback(sc *ServerContext) func(delta int) {
	return func(delta int) {
		m := sc.Metrics()
		if m == nil {
			return
		}
		ctx := context.Background()
		for i := 0; i < delta; i++ {
			m.IncrementActiveSessions(ctx)
		}
		for i := 0; i > delta; i-- {
			m.DecrementActiveSessions(ctx)
		}
	}
}
