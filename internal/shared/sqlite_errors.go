// Package shared provides database error helpers used by the session stores
// and background workers.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import (
	"errors"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// IsSQLiteConflictError reports SQLITE_BUSY and SQLITE_LOCKED, the lock
// contention errors a writer should back off and retry on. Wrapped driver
// errors are matched by code; errors that only survive as text (for
// example after crossing a fmt.Errorf without %w) by message.
func IsSQLiteConflictError(err error) bool {
	if err == nil {
		return false
	}
	var sqlErr *sqlite.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Code() & 0xff { // primary result code
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// IsRetryableStoreError reports whether a store write failed on contention
// in either backend.
func IsRetryableStoreError(err error) bool {
	return IsSQLiteConflictError(err) || IsPostgresRetryableError(err)
}
