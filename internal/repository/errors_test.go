package repository

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
)

func TestClassifyPostgresErrors(t *testing.T) {
	lockErr := classify("lock program", &pq.Error{Code: pqLockNotAvailable})
	assert.ErrorIs(t, lockErr, ErrConcurrentModification)

	serialErr := classify("commit", &pq.Error{Code: pqSerializationFailure})
	assert.ErrorIs(t, serialErr, ErrConcurrentModification)

	dupErr := classify("create program", &pq.Error{Code: pqUniqueViolation})
	assert.ErrorIs(t, dupErr, ErrDuplicate)
	assert.NotErrorIs(t, dupErr, ErrConcurrentModification)
}

func TestClassifySQLiteErrors(t *testing.T) {
	busy := classify("begin", sqlite3.Error{Code: sqlite3.ErrBusy})
	assert.ErrorIs(t, busy, ErrConcurrentModification)

	unique := classify("insert", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique})
	assert.ErrorIs(t, unique, ErrDuplicate)
}

func TestClassifyKeepsOriginalError(t *testing.T) {
	err := classify("find program", sql.ErrNoRows)
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	assert.Equal(t, "find program: sql: no rows in result set", err.Error())
	assert.Nil(t, classify("noop", nil))
}
