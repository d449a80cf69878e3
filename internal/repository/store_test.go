package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/edu-billing-api/internal/models"
)

func TestStoreWithinTxLocksAndCommits(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	store := NewStore(db, 5*time.Second)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET LOCAL lock_timeout = '5000ms'")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM programs WHERE id = $1 FOR UPDATE")).
		WithArgs("prog-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "code", "total_seats", "available_seats", "state"}).
			AddRow("prog-1", "PRG-1", 1, 1, models.ProgramPlanned))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE programs SET available_seats = available_seats - 1, updated_at = $1 WHERE id = $2 AND available_seats > 0")).
		WithArgs(sqlmock.AnyArg(), "prog-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.WithinTx(context.Background(), func(tx LedgerTx) error {
		program, err := tx.LockProgram(context.Background(), "prog-1")
		if err != nil {
			return err
		}
		assert.Equal(t, 1, program.AvailableSeats)
		ok, err := tx.OccupySeat(context.Background(), program.ID, time.Now())
		assert.True(t, ok)
		return err
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreWithinTxRollsBackOnError(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	store := NewStore(db, 0)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := store.WithinTx(context.Background(), func(tx LedgerTx) error { return boom })
	assert.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreLockTimeoutMapsToConcurrentModification(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	store := NewStore(db, 0)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM enrollments WHERE id = \\$1 FOR UPDATE").
		WillReturnError(&pq.Error{Code: pqLockNotAvailable})
	mock.ExpectRollback()

	err := store.WithinTx(context.Background(), func(tx LedgerTx) error {
		_, err := tx.LockEnrollment(context.Background(), "enr-1")
		return err
	})
	assert.ErrorIs(t, err, ErrConcurrentModification)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateEnrollmentDetectsStaleVersion(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	store := NewStore(db, 0)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE enrollments SET paid_amount").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	enrollment := &models.Enrollment{ID: "enr-1", PaidAmount: decimal.NewFromInt(300), Version: 3}
	err := store.WithinTx(context.Background(), func(tx LedgerTx) error {
		return tx.UpdateEnrollment(context.Background(), enrollment)
	})
	assert.ErrorIs(t, err, ErrConcurrentModification)
	assert.Equal(t, 3, enrollment.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteTxSkipsRowLocks(t *testing.T) {
	raw, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer raw.Close()
	store := NewStore(sqlx.NewDb(raw, "sqlite3"), 5*time.Second)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM cash_movements WHERE id = ?") + "$").
		WithArgs("mov-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "type", "amount"}).AddRow("mov-1", models.MovementInflow, "50.00"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE cash_movements SET reversed_by = ? WHERE id = ? AND reversed_by IS NULL")).
		WithArgs("mov-2", "mov-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = store.WithinTx(context.Background(), func(tx LedgerTx) error {
		movement, err := tx.LockCashMovement(context.Background(), "mov-1")
		if err != nil {
			return err
		}
		assert.True(t, movement.Amount.Equal(decimal.NewFromInt(50)))
		return tx.MarkMovementReversed(context.Background(), movement.ID, "mov-2")
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestActiveMovementForPaymentReturnsNilWhenAbsent(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	store := NewStore(db, 0)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM cash_movements WHERE reference_id = \\$1").
		WithArgs("pay-1", models.ReferencePayment, models.ReferenceGenericIncome, models.MovementInflow).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	err := store.WithinTx(context.Background(), func(tx LedgerTx) error {
		movement, err := tx.ActiveMovementForPayment(context.Background(), "pay-1")
		assert.Nil(t, movement)
		return err
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
