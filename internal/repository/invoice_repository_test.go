package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/edu-billing-api/internal/models"
)

func TestInvoiceRepositoryListByCustomerAndState(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewInvoiceRepository(db)

	state := models.InvoiceIssued
	mock.ExpectQuery(regexp.QuoteMeta("FROM invoices WHERE state = $1 AND LOWER(business_name) LIKE $2 ORDER BY issued_on DESC, number DESC LIMIT 20 OFFSET 0")).
		WithArgs(state, "%acme%").
		WillReturnRows(sqlmock.NewRows([]string{"id", "number", "total", "state"}).AddRow("inv-1", "FAC-000001", "300.00", state))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM invoices WHERE state = $1")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	invoices, total, err := repo.List(context.Background(), models.InvoiceFilter{State: &state, BusinessName: " ACME "})
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	assert.Equal(t, "FAC-000001", invoices[0].Number)
	assert.Equal(t, 1, total)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInvoiceRepositoryTotalsSkipVoided(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewInvoiceRepository(db)

	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM invoices WHERE issued_on >= $1 AND issued_on <= $2 AND state <> $3")).
		WithArgs(from, to, models.InvoiceVoided).
		WillReturnRows(sqlmock.NewRows([]string{"count", "subtotal", "vat", "transaction_tax", "total", "first_issued_on", "last_issued_on"}).
			AddRow(2, "507.00", "78.00", "15.00", "600.00", from, to))

	row, err := repo.Totals(context.Background(), from, to)
	require.NoError(t, err)
	assert.Equal(t, 2, row.Count)
	assert.Equal(t, "600", row.Total.String())
	assert.True(t, row.First.Valid)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInvoiceRepositoryGroupTotalsRejectsUnknownGrouping(t *testing.T) {
	db, _, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewInvoiceRepository(db)

	_, err := repo.GroupTotals(context.Background(), time.Now(), time.Now(), "total; DROP TABLE invoices")
	require.Error(t, err)
}

func TestLastInvoiceNumberEmptyTable(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	store := NewStore(db, 0)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT number FROM invoices WHERE number LIKE $1 ORDER BY LENGTH(number) DESC, number DESC LIMIT 1")).
		WithArgs("FAC-%").
		WillReturnRows(sqlmock.NewRows([]string{"number"}))
	mock.ExpectCommit()

	err := store.WithinTx(context.Background(), func(tx LedgerTx) error {
		last, err := tx.LastInvoiceNumber(context.Background(), "FAC-")
		assert.Empty(t, last)
		return err
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateInvoiceAlreadyVoided(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	store := NewStore(db, 0)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE invoices SET state = \\$1, concept = \\$2").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.WithinTx(context.Background(), func(tx LedgerTx) error {
		return tx.UpdateInvoice(context.Background(), &models.Invoice{ID: "inv-1", State: models.InvoiceVoided})
	})
	assert.ErrorIs(t, err, ErrConcurrentModification)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestActiveInvoiceForPaymentLocksRow(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	store := NewStore(db, 0)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM invoices WHERE payment_id = $1 AND state = $2 FOR UPDATE")).
		WithArgs("pay-1", models.InvoiceIssued).
		WillReturnRows(sqlmock.NewRows([]string{"id", "number", "state"}).AddRow("inv-1", "FAC-000001", models.InvoiceIssued))
	mock.ExpectCommit()

	err := store.WithinTx(context.Background(), func(tx LedgerTx) error {
		invoice, err := tx.ActiveInvoiceForPayment(context.Background(), "pay-1")
		require.NoError(t, err)
		require.NotNil(t, invoice)
		assert.Equal(t, "inv-1", invoice.ID)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
