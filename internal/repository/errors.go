package repository

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

var (
	// ErrConcurrentModification reports a lock timeout, serialization failure or a
	// stale version check. The operation can be retried as is.
	ErrConcurrentModification = errors.New("concurrent modification")
	// ErrDuplicate reports a unique constraint violation.
	ErrDuplicate = errors.New("duplicate record")
)

const (
	pqUniqueViolation      = "23505"
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
	pqLockNotAvailable     = "55P03"
	pqQueryCanceled        = "57014"
)

// classify wraps err with op and, when the driver error is recognised, with the
// matching sentinel.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqSerializationFailure, pqDeadlockDetected, pqLockNotAvailable, pqQueryCanceled:
			return fmt.Errorf("%s: %w: %w", op, ErrConcurrentModification, err)
		case pqUniqueViolation:
			return fmt.Errorf("%s: %w: %w", op, ErrDuplicate, err)
		}
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch {
		case liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked:
			return fmt.Errorf("%s: %w: %w", op, ErrConcurrentModification, err)
		case liteErr.ExtendedCode == sqlite3.ErrConstraintUnique || liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%s: %w: %w", op, ErrDuplicate, err)
		}
	}

	return fmt.Errorf("%s: %w", op, err)
}
