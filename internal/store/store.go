// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/callagent/internal/domain"
)

var (
	// ErrNotFound is returned when no session has the requested id.
	ErrNotFound = errors.New("session not found")
	// ErrVersionConflict is returned when a conditional update loses to
	// another writer.
	ErrVersionConflict = errors.New("session version conflict")
	// ErrExists is returned when creating a session whose id is taken.
	ErrExists = errors.New("session already exists")
)

// SessionStore persists call sessions keyed by session id.
type SessionStore interface {
	// Get retrieves a session. Returns ErrNotFound for unknown ids.
	Get(ctx context.Context, sessionID string) (*domain.Session, error)

	// Create inserts a new session.
	Create(ctx context.Context, session *domain.Session) error

	// Update writes current_step, collected_data, interruption_count and
	// conversation_history, and stamps updated_at. The write only applies if
	// the stored version equals expectedVersion (optimistic locking). On
	// success session.Version and session.UpdatedAt reflect the stored row.
	Update(ctx context.Context, session *domain.Session, expectedVersion int64) error

	// Delete removes a session.
	Delete(ctx context.Context, sessionID string) error

	// ListStale returns ids of sessions not updated within ttl.
	ListStale(ctx context.Context, ttl time.Duration) ([]string, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
