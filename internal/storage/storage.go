// Package storage provides the pluggable persistence layer for conversation
// sessions. Three backends implement the same capability set: an in-process
// store, a file-per-session store, and a MySQL store. The backend is chosen
// once at startup; callers only ever see the Store interface.
package storage

import (
	"context"
	"errors"
	"time"

	"brokerbot/internal/models"
)

var (
	// ErrSessionNotFound is returned when a session is absent or has
	// expired. Expired sessions are indistinguishable from deleted ones.
	ErrSessionNotFound = errors.New("session not found")

	// ErrStorageUnavailable wraps any backend I/O failure. Callers must not
	// treat a write that returned this error as persisted.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// Store is the capability set every backend provides. Writes are atomic per
// session: a concurrent reader never observes a partially written session.
type Store interface {
	// CreateSession persists a fresh empty session and returns it.
	CreateSession(ctx context.Context) (*models.Session, error)

	// GetSession loads a session. Returns ErrSessionNotFound if the id is
	// unknown or the session has expired.
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)

	// SaveSession persists the full session state.
	SaveSession(ctx context.Context, session *models.Session) error

	// ListSessions returns the ids of all live (non-expired) sessions, in
	// backend-native order.
	ListSessions(ctx context.Context) ([]string, error)

	// ListAll returns every stored session id, expired ones included. The
	// sweeper uses this to find candidates for DeleteIfExpired.
	ListAll(ctx context.Context) ([]string, error)

	// DeleteSession removes a session. Returns ErrSessionNotFound if absent.
	DeleteSession(ctx context.Context, sessionID string) error

	// DeleteIfExpired atomically deletes the session iff its last activity
	// is older than the configured timeout, reporting whether it did. The
	// sweeper calls this under the per-session lock so a session touched
	// after the sweep decision is never lost.
	DeleteIfExpired(ctx context.Context, sessionID string) (bool, error)

	// SweepExpired removes every expired session and returns the count.
	SweepExpired(ctx context.Context) (int, error)
}

func expired(lastActivity time.Time, timeout time.Duration) bool {
	return time.Since(lastActivity) > timeout
}
