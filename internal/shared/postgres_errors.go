package shared

import (
	"errors"

	"github.com/lib/pq"
)

// IsPostgresRetryableError reports serialization failures and deadlocks,
// which PostgreSQL expects the client to retry.
func IsPostgresRetryableError(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code {
	case "40001", "40P01": // serialization_failure, deadlock_detected
		return true
	}
	return false
}
