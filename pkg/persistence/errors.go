package persistence

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"tenantops/pkg/retry"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")

	// ErrStaleWrite is returned when a compare-and-set update finds the row changed.
	ErrStaleWrite = errors.New("stale write: record changed since it was read")
)

// Error is a store failure tagged with the operation and whether a retry may succeed.
type Error struct {
	Err       error
	Op        string
	Transient bool
}

func (e *Error) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s failed (%s): %v", e.Op, kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a store failure worth retrying.
func IsTransient(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return false
}

// wrap classifies a driver error for op.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrStaleWrite) {
		return err
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	return &Error{Op: op, Transient: isTransientDriverError(err), Err: err}
}

func isTransientDriverError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"55P03", // lock_not_available
			"57P03", // cannot_connect_now
			"53300": // too_many_connections
			return true
		}
		return strings.HasPrefix(pgErr.Code, "08") // connection exceptions
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"database is locked", "sqlite_busy", "database table is locked", "connection refused", "connection reset", "broken pipe"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// WithRetry runs fn, retrying transient store failures with exponential backoff.
// Exhaustion yields a transient *Error wrapping the last failure.
func (s *Store) WithRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := retry.Do(ctx, s.policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		s.logger.Warn("⚠️  %s gave up after %d attempts: %v", op, exhausted.Attempts, exhausted.Err)
		return &Error{Op: op, Transient: true, Err: exhausted}
	}
	return err //nolint:wrapcheck // already classified by wrap
}
