package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/callagent/internal/domain"
	"github.com/ashureev/callagent/internal/shared"
	_ "github.com/lib/pq"
)

// PostgresStore implements SessionStore using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres connects to dsn and ensures the schema exists.
func NewPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS call_sessions (
		session_id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		current_step TEXT NOT NULL,
		collected_data JSONB NOT NULL,
		interruption_count INTEGER NOT NULL DEFAULT 0,
		conversation_history JSONB NOT NULL,
		version BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_call_sessions_updated ON call_sessions(updated_at);
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// Get retrieves a session by id.
func (s *PostgresStore) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	query := `
		SELECT session_id, agent_id, current_step, collected_data,
		       interruption_count, conversation_history, version, created_at, updated_at
		FROM call_sessions WHERE session_id = $1`

	var session domain.Session
	var step, collectedJSON, historyJSON string

	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(
		&session.SessionID, &session.AgentID, &step, &collectedJSON,
		&session.InterruptionCount, &historyJSON, &session.Version,
		&session.CreatedAt, &session.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	session.CurrentStep = domain.Step(step)
	if err := decodeSessionJSON(&session, collectedJSON, historyJSON); err != nil {
		return nil, err
	}
	return &session, nil
}

// Create inserts a new session.
func (s *PostgresStore) Create(ctx context.Context, session *domain.Session) error {
	collectedJSON, historyJSON, err := encodeSessionJSON(session)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO call_sessions (
			session_id, agent_id, current_step, collected_data,
			interruption_count, conversation_history, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_id) DO NOTHING`

	result, err := s.db.ExecContext(ctx, query,
		session.SessionID, session.AgentID, string(session.CurrentStep), collectedJSON,
		session.InterruptionCount, historyJSON, session.Version,
		session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrExists
	}
	return nil
}

// Update writes the mutable session fields if the stored version matches.
// Serialization failures are retried with exponential backoff.
func (s *PostgresStore) Update(ctx context.Context, session *domain.Session, expectedVersion int64) error {
	collectedJSON, historyJSON, err := encodeSessionJSON(session)
	if err != nil {
		return err
	}

	query := `
		UPDATE call_sessions SET
			current_step = $1,
			collected_data = $2,
			interruption_count = $3,
			conversation_history = $4,
			version = version + 1,
			updated_at = NOW()
		WHERE session_id = $5 AND version = $6
		RETURNING updated_at`

	maxRetries := 3
	baseDelay := 50 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		var updatedAt time.Time
		err = s.db.QueryRowContext(ctx, query,
			string(session.CurrentStep), collectedJSON, session.InterruptionCount,
			historyJSON, session.SessionID, expectedVersion,
		).Scan(&updatedAt)
		if err == nil {
			session.Version = expectedVersion + 1
			session.UpdatedAt = updatedAt
			return nil
		}
		if errors.Is(err, sql.ErrNoRows) {
			return s.missOrConflict(ctx, session.SessionID)
		}
		if !shared.IsPostgresRetryableError(err) || i == maxRetries-1 {
			break
		}
		delay := baseDelay * time.Duration(1<<i)
		slog.Debug("Postgres serialization failure, retrying", "session_id", session.SessionID, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("update session: %w", err)
}

func (s *PostgresStore) missOrConflict(ctx context.Context, sessionID string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM call_sessions WHERE session_id = $1`, sessionID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check session existence: %w", err)
	}
	return ErrVersionConflict
}

// Delete removes a session.
func (s *PostgresStore) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM call_sessions WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// ListStale returns ids of sessions idle longer than ttl.
func (s *PostgresStore) ListStale(ctx context.Context, ttl time.Duration) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT session_id FROM call_sessions WHERE updated_at < $1`, time.Now().Add(-ttl))
	if err != nil {
		return nil, fmt.Errorf("query stale sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close stale sessions rows", "error", closeErr)
		}
	}()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stale session row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale sessions: %w", err)
	}
	return ids, nil
}
