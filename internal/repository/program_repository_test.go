package repository

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/edu-billing-api/internal/models"
)

func TestProgramRepositoryListWithSearch(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewProgramRepository(db)

	state := models.ProgramStarted
	mock.ExpectQuery(regexp.QuoteMeta("FROM programs WHERE state = $1 AND (LOWER(name) LIKE $2 OR LOWER(code) LIKE $3) ORDER BY created_at DESC LIMIT 10 OFFSET 10")).
		WithArgs(state, "%excel%", "%excel%").
		WillReturnRows(sqlmock.NewRows([]string{"id", "code", "name", "base_cost"}).AddRow("prog-1", "EXC-01", "Excel", "1000.00"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM programs WHERE state = $1")).
		WithArgs(state, "%excel%", "%excel%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(11))

	programs, total, err := repo.List(context.Background(), models.ProgramFilter{State: &state, Search: " Excel ", Page: 2, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, programs, 1)
	assert.Equal(t, 11, total)
	assert.True(t, programs[0].BaseCost.Equal(decimal.NewFromInt(1000)))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProgramRepositoryCreateDuplicateCode(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewProgramRepository(db)

	mock.ExpectExec("INSERT INTO programs").WillReturnError(&pq.Error{Code: pqUniqueViolation})

	program := &models.Program{Code: "EXC-01", Name: "Excel", TotalSeats: 10, AvailableSeats: 10, State: models.ProgramPlanned}
	err := repo.Create(context.Background(), program)
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.NotEmpty(t, program.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProgramRepositoryStatistics(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewProgramRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT academic_state, payment_state, COUNT(*) AS count FROM enrollments WHERE program_id = $1")).
		WithArgs("prog-1").
		WillReturnRows(sqlmock.NewRows([]string{"academic_state", "payment_state", "count"}).
			AddRow(models.AcademicEnrolled, models.PaymentPartial, 2).
			AddRow(models.AcademicEnrolled, models.PaymentPaid, 1).
			AddRow(models.AcademicWithdrawn, models.PaymentCancelled, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(SUM(final_amount), 0) AS potential")).
		WithArgs("prog-1", models.PaymentCancelled).
		WillReturnRows(sqlmock.NewRows([]string{"potential", "collected"}).AddRow("2700.00", "1500.00"))

	agg, err := repo.Statistics(context.Background(), "prog-1")
	require.NoError(t, err)
	assert.Equal(t, 3, agg.ByAcademicState[models.AcademicEnrolled])
	assert.Equal(t, 1, agg.ByPaymentState[models.PaymentCancelled])
	assert.Equal(t, "2700", agg.Totals.Potential.String())
	assert.Equal(t, "1500", agg.Totals.Collected.String())
	require.NoError(t, mock.ExpectationsWereMet())
}
