// Package sweeper removes call sessions that have been idle past their TTL.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/callagent/internal/observability"
	"github.com/ashureev/callagent/internal/shared"
	"github.com/ashureev/callagent/internal/store"
)

// CleanupCallback is called for each session removed by the sweeper.
type CleanupCallback func(sessionID string)

// Sweeper periodically deletes idle sessions.
type Sweeper struct {
	repo      store.SessionStore
	ttl       time.Duration
	interval  time.Duration
	onCleanup CleanupCallback
	metrics   *observability.Metrics
}

// New creates a sweeper. onCleanup and metrics may be nil.
func New(repo store.SessionStore, ttl, interval time.Duration, onCleanup CleanupCallback, metrics *observability.Metrics) *Sweeper {
	return &Sweeper{repo: repo, ttl: ttl, interval: interval, onCleanup: onCleanup, metrics: metrics}
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	slog.Info("Session sweeper started", "interval", s.interval, "ttl", s.ttl)

	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-ctx.Done():
			slog.Info("Session sweeper shutting down", "reason", ctx.Err())
			return nil
		}
	}
}

// Sweep performs one pass and returns how many sessions were removed.
func (s *Sweeper) Sweep(ctx context.Context) int {
	ids, err := s.repo.ListStale(ctx, s.ttl)
	if err != nil {
		slog.Error("Sweeper failed to list stale sessions", "error", err)
		return 0
	}
	if len(ids) == 0 {
		return 0
	}

	slog.Info("Sweeper found stale sessions", "count", len(ids))

	removed := 0
	for _, id := range ids {
		if err := deleteWithRetry(ctx, s.repo, id); err != nil {
			slog.Warn("Sweeper failed to delete session after retries", "error", err, "session_id", id)
			continue
		}
		removed++
		if s.onCleanup != nil {
			s.onCleanup(id)
		}
	}

	s.metrics.Swept(removed)
	slog.Info("Sweeper cleanup completed", "removed", removed)
	return removed
}

// deleteWithRetry deletes a session with exponential backoff on database
// lock contention.
func deleteWithRetry(ctx context.Context, repo store.SessionStore, sessionID string) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = repo.Delete(ctx, sessionID)
		if err == nil {
			return nil
		}
		if !shared.IsRetryableStoreError(err) {
			return err
		}
		if i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i) // exponential backoff: 100ms, 200ms, 400ms
			slog.Debug("Session delete hit lock contention, retrying",
				"session_id", sessionID,
				"attempt", i+1,
				"delay", delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return err
}
