package store

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/callagent/internal/domain"
)

func newSQLiteForTest(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func stores(t *testing.T) map[string]SessionStore {
	return map[string]SessionStore{
		"memory": NewMemory(),
		"sqlite": newSQLiteForTest(t),
	}
}

func testSession(id string) *domain.Session {
	now := time.Now().Truncate(time.Second)
	return domain.NewSession(id, "default", now)
}

func TestSQLiteStore_ConnectionPragmas(t *testing.T) {
	s := newSQLiteForTest(t)
	ctx := context.Background()

	// Hold two connections so the second one is a fresh pool member.
	for i := 0; i < 2; i++ {
		conn, err := s.db.Conn(ctx)
		if err != nil {
			t.Fatalf("Conn: %v", err)
		}
		defer conn.Close()

		var mode string
		if err := conn.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
			t.Fatalf("journal_mode: %v", err)
		}
		if mode != "wal" {
			t.Errorf("Expected journal_mode wal on connection %d, got %q", i, mode)
		}

		var timeout int
		if err := conn.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&timeout); err != nil {
			t.Fatalf("busy_timeout: %v", err)
		}
		if timeout != 5000 {
			t.Errorf("Expected busy_timeout 5000 on connection %d, got %d", i, timeout)
		}

		var syncMode int
		if err := conn.QueryRowContext(ctx, "PRAGMA synchronous").Scan(&syncMode); err != nil {
			t.Fatalf("synchronous: %v", err)
		}
		if syncMode != 1 {
			t.Errorf("Expected synchronous NORMAL (1) on connection %d, got %d", i, syncMode)
		}
	}
}

func TestSessionStore_RoundTrip(t *testing.T) {
	for name, repo := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := testSession("sess-1")
			if err := repo.Create(ctx, s); err != nil {
				t.Fatalf("Create: %v", err)
			}

			loaded, err := repo.Get(ctx, "sess-1")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			loaded.CurrentStep = domain.StepConfirming
			loaded.CollectedData["name"] = "Jane"
			loaded.CollectedData["email"] = "jane@example.com"
			loaded.InterruptionCount = 2
			at := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
			loaded.Append(domain.RoleClient, "Jane", at)
			loaded.Append(domain.RoleAgent, "Could you please tell me your email?", at)

			if err := repo.Update(ctx, loaded, 0); err != nil {
				t.Fatalf("Update: %v", err)
			}
			if loaded.Version != 1 {
				t.Errorf("Expected version 1 after update, got %d", loaded.Version)
			}

			got, err := repo.Get(ctx, "sess-1")
			if err != nil {
				t.Fatalf("Get after update: %v", err)
			}
			if got.CurrentStep != domain.StepConfirming {
				t.Errorf("Expected step confirming, got %s", got.CurrentStep)
			}
			if !reflect.DeepEqual(got.CollectedData, loaded.CollectedData) {
				t.Errorf("Collected data mismatch: got %v, want %v", got.CollectedData, loaded.CollectedData)
			}
			if got.InterruptionCount != 2 || got.Version != 1 {
				t.Errorf("Unexpected count/version: %d/%d", got.InterruptionCount, got.Version)
			}
			if len(got.ConversationHistory) != 2 {
				t.Fatalf("Expected 2 history entries, got %d", len(got.ConversationHistory))
			}
			h := got.ConversationHistory[1]
			if h.Role != domain.RoleAgent || h.Text != "Could you please tell me your email?" || !h.Timestamp.Equal(at) {
				t.Errorf("Unexpected history entry %+v", h)
			}
		})
	}
}

func TestSessionStore_NotFound(t *testing.T) {
	for name, repo := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := repo.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get: expected ErrNotFound, got %v", err)
			}
			if err := repo.Update(ctx, testSession("missing"), 0); !errors.Is(err, ErrNotFound) {
				t.Errorf("Update: expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestSessionStore_CreateDuplicate(t *testing.T) {
	for name, repo := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := repo.Create(ctx, testSession("dup")); err != nil {
				t.Fatalf("Create: %v", err)
			}
			if err := repo.Create(ctx, testSession("dup")); !errors.Is(err, ErrExists) {
				t.Errorf("Expected ErrExists, got %v", err)
			}
		})
	}
}

func TestSessionStore_VersionConflict(t *testing.T) {
	for name, repo := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := repo.Create(ctx, testSession("sess-1")); err != nil {
				t.Fatalf("Create: %v", err)
			}

			a, _ := repo.Get(ctx, "sess-1")
			b, _ := repo.Get(ctx, "sess-1")

			a.CollectedData["name"] = "A"
			if err := repo.Update(ctx, a, a.Version); err != nil {
				t.Fatalf("first Update: %v", err)
			}
			b.CollectedData["name"] = "B"
			if err := repo.Update(ctx, b, b.Version); !errors.Is(err, ErrVersionConflict) {
				t.Fatalf("Expected ErrVersionConflict, got %v", err)
			}

			got, _ := repo.Get(ctx, "sess-1")
			if got.CollectedData["name"] != "A" {
				t.Errorf("Losing writer overwrote the session: %v", got.CollectedData)
			}
		})
	}
}

func TestSessionStore_DeleteAndStale(t *testing.T) {
	for name, repo := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			old := testSession("old")
			old.UpdatedAt = time.Now().Add(-2 * time.Hour)
			if err := repo.Create(ctx, old); err != nil {
				t.Fatalf("Create old: %v", err)
			}
			if err := repo.Create(ctx, testSession("fresh")); err != nil {
				t.Fatalf("Create fresh: %v", err)
			}

			ids, err := repo.ListStale(ctx, time.Hour)
			if err != nil {
				t.Fatalf("ListStale: %v", err)
			}
			if len(ids) != 1 || ids[0] != "old" {
				t.Errorf("Expected [old], got %v", ids)
			}

			if err := repo.Delete(ctx, "old"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, err := repo.Get(ctx, "old"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Expected ErrNotFound after delete, got %v", err)
			}
		})
	}
}

func TestSQLiteStore_ConcurrentUpdates(t *testing.T) {
	repo := newSQLiteForTest(t)
	ctx := context.Background()
	if err := repo.Create(ctx, testSession("sess-1")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Writers racing on the same version: exactly one may win.
	const writers = 8
	var wg sync.WaitGroup
	results := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := repo.Get(ctx, "sess-1")
			if err != nil {
				results <- err
				return
			}
			s.InterruptionCount++
			results <- repo.Update(ctx, s, 0)
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrVersionConflict):
		default:
			t.Errorf("Unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("Expected exactly one winning writer, got %d", wins)
	}
}
