package generator

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	defaultAttempts  = 3
	defaultBaseDelay = time.Second
)

// Retrying wraps a Generator with exponential backoff: after each failed
// attempt it waits baseDelay, 2*baseDelay, 4*baseDelay, ...
type Retrying struct {
	next      Generator
	attempts  int
	baseDelay time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
}

// WithRetry returns g retried up to attempts times. Zero values select
// 3 attempts starting at one second.
func WithRetry(g Generator, attempts int, baseDelay time.Duration) *Retrying {
	if attempts <= 0 {
		attempts = defaultAttempts
	}
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}
	return &Retrying{next: g, attempts: attempts, baseDelay: baseDelay, sleep: sleepCtx}
}

// Generate implements Generator.
func (r *Retrying) Generate(ctx context.Context, req Request) (string, error) {
	var err error
	for i := 0; i < r.attempts; i++ {
		var out string
		out, err = r.next.Generate(ctx, req)
		if err == nil {
			return out, nil
		}
		if i == r.attempts-1 {
			break
		}
		delay := r.baseDelay * time.Duration(1<<i)
		slog.Debug("generator call failed, retrying", "attempt", i+1, "delay", delay, "error", err)
		if sleepErr := r.sleep(ctx, delay); sleepErr != nil {
			return "", sleepErr
		}
	}
	return "", fmt.Errorf("generator failed after %d attempts: %w", r.attempts, err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
