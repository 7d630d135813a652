package conversation

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the referenced session does not exist.
	ErrNotFound = errors.New("session not found")
	// ErrUnknownAgent means the session points at an agent with no definition.
	ErrUnknownAgent = errors.New("agent definition not found")
	// ErrPersistence means the computed turn could not be saved. The reply
	// was not committed and the caller may retry.
	ErrPersistence = errors.New("failed to persist session")
	// ErrConflict means another writer updated the session first.
	ErrConflict = errors.New("session was modified concurrently")
)

// ValidationError reports a malformed request. No state was touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.Reason
	}
	return fmt.Sprintf("invalid request: %s %s", e.Field, e.Reason)
}

// IsRetryable reports whether the caller may resend the same message.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPersistence) || errors.Is(err, ErrConflict)
}
