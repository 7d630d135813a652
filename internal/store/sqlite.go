package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/callagent/internal/domain"
	"github.com/ashureev/callagent/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements SessionStore using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes writers to avoid SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed session store.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", sqliteDSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

// sqliteDSN applies the pragmas on every pooled connection, not only the
// one that runs initSchema.
func sqliteDSN(dbPath string) string {
	return dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS call_sessions (
		session_id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		current_step TEXT NOT NULL,
		collected_data TEXT NOT NULL,
		interruption_count INTEGER NOT NULL DEFAULT 0,
		conversation_history TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_call_sessions_updated ON call_sessions(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// Get retrieves a session by id.
func (s *SQLiteStore) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	query := `
		SELECT session_id, agent_id, current_step, collected_data,
		       interruption_count, conversation_history, version, created_at, updated_at
		FROM call_sessions WHERE session_id = ?`

	var session domain.Session
	var step, collectedJSON, historyJSON string
	var createdAt, updatedAt int64

	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(
		&session.SessionID, &session.AgentID, &step, &collectedJSON,
		&session.InterruptionCount, &historyJSON, &session.Version,
		&createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	session.CurrentStep = domain.Step(step)
	session.CreatedAt = time.Unix(createdAt, 0)
	session.UpdatedAt = time.Unix(updatedAt, 0)
	if err := decodeSessionJSON(&session, collectedJSON, historyJSON); err != nil {
		return nil, err
	}
	return &session, nil
}

// Create inserts a new session.
func (s *SQLiteStore) Create(ctx context.Context, session *domain.Session) error {
	collectedJSON, historyJSON, err := encodeSessionJSON(session)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO call_sessions (
			session_id, agent_id, current_step, collected_data,
			interruption_count, conversation_history, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO NOTHING`

	return withBusyRetry(ctx, "create session", func() error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()

		result, err := s.db.ExecContext(ctx, query,
			session.SessionID, session.AgentID, string(session.CurrentStep), collectedJSON,
			session.InterruptionCount, historyJSON, session.Version,
			session.CreatedAt.Unix(), session.UpdatedAt.Unix(),
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
	})
}

// Update writes the mutable session fields if the stored version matches.
func (s *SQLiteStore) Update(ctx context.Context, session *domain.Session, expectedVersion int64) error {
	collectedJSON, historyJSON, err := encodeSessionJSON(session)
	if err != nil {
		return err
	}

	now := time.Now()
	query := `
		UPDATE call_sessions SET
			current_step = ?,
			collected_data = ?,
			interruption_count = ?,
			conversation_history = ?,
			version = version + 1,
			updated_at = ?
		WHERE session_id = ? AND version = ?`

	err = withBusyRetry(ctx, "update session", func() error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()

		result, err := s.db.ExecContext(ctx, query,
			string(session.CurrentStep), collectedJSON, session.InterruptionCount,
			historyJSON, now.Unix(), session.SessionID, expectedVersion,
		)
		if err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			return s.missOrConflict(ctx, session.SessionID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	session.Version = expectedVersion + 1
	session.UpdatedAt = time.Unix(now.Unix(), 0)
	return nil
}

func (s *SQLiteStore) missOrConflict(ctx context.Context, sessionID string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM call_sessions WHERE session_id = ?`, sessionID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check session existence: %w", err)
	}
	slog.Warn("Session update lost optimistic lock", "session_id", sessionID)
	return ErrVersionConflict
}

// Delete removes a session.
func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	return withBusyRetry(ctx, "delete session", func() error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()

		if _, err := s.db.ExecContext(ctx, `DELETE FROM call_sessions WHERE session_id = ?`, sessionID); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		return nil
	})
}

// ListStale returns ids of sessions idle longer than ttl.
func (s *SQLiteStore) ListStale(ctx context.Context, ttl time.Duration) ([]string, error) {
	threshold := time.Now().Add(-ttl).Unix()
	rows, err := s.db.QueryContext(ctx, `SELECT session_id FROM call_sessions WHERE updated_at < ?`, threshold)
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

// withBusyRetry retries op with exponential backoff while SQLite reports
// lock contention.
func withBusyRetry(ctx context.Context, name string, op func() error) error {
	maxRetries := 3
	baseDelay := 50 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = op()
		if err == nil || !shared.IsSQLiteConflictError(err) {
			return err
		}
		if i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i) // exponential backoff: 50ms, 100ms, 200ms
			slog.Debug("SQLite busy, retrying", "op", name, "attempt", i+1, "delay", delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", name, maxRetries, err)
}

func encodeSessionJSON(session *domain.Session) (string, string, error) {
	collected := session.CollectedData
	if collected == nil {
		collected = map[string]string{}
	}
	history := session.ConversationHistory
	if history == nil {
		history = []domain.HistoryEntry{}
	}
	collectedJSON, err := json.Marshal(collected)
	if err != nil {
		return "", "", fmt.Errorf("encode collected data: %w", err)
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return "", "", fmt.Errorf("encode conversation history: %w", err)
	}
	return string(collectedJSON), string(historyJSON), nil
}

func decodeSessionJSON(session *domain.Session, collectedJSON, historyJSON string) error {
	session.CollectedData = map[string]string{}
	if err := json.Unmarshal([]byte(collectedJSON), &session.CollectedData); err != nil {
		return fmt.Errorf("decode collected data: %w", err)
	}
	session.ConversationHistory = []domain.HistoryEntry{}
	if err := json.Unmarshal([]byte(historyJSON), &session.ConversationHistory); err != nil {
		return fmt.Errorf("decode conversation history: %w", err)
	}
	return nil
}
