package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/edu-billing-api/internal/models"
	"github.com/noah-isme/edu-billing-api/internal/repository"
	appErrors "github.com/noah-isme/edu-billing-api/pkg/errors"
	"github.com/noah-isme/edu-billing-api/pkg/jobs"
)

type stubRefresher struct {
	days []time.Time
	err  error
}

func (s *stubRefresher) RefreshOverdue(ctx context.Context, today time.Time) (repository.OverdueResult, error) {
	s.days = append(s.days, today)
	return repository.OverdueResult{}, s.err
}

func TestOverdueJobSweepsTheEnqueuedDay(t *testing.T) {
	refresher := &stubRefresher{}
	job := NewOverdueJob(refresher)
	job.now = fixedClock(time.Date(2024, time.March, 3, 23, 59, 0, 0, time.UTC))

	next := job.Next()
	assert.Equal(t, JobRefreshOverdue, next.Type)

	job.now = fixedClock(time.Date(2024, time.March, 4, 0, 1, 0, 0, time.UTC))
	require.NoError(t, job.Handle(context.Background(), next))
	require.Len(t, refresher.days, 1)
	assert.Equal(t, date(2024, time.March, 3), refresher.days[0])

	assert.Error(t, job.Handle(context.Background(), jobs.Job{Type: "other"}))
}

func TestOverdueJobAgainstLedger(t *testing.T) {
	f := newBillingFixture(t, catalogProgram("900.00", 5), threeMonthPlan())
	enrollment := f.enrollInInstallments(t, "student-1")

	job := NewOverdueJob(f.enrollments)
	require.NoError(t, job.Handle(context.Background(), jobs.Job{Type: JobRefreshOverdue, Payload: date(2024, time.April, 1)}))

	assert.Equal(t, models.PaymentDelinquent, f.ledger.enrollment(enrollment.ID).PaymentState)
	for _, inst := range f.ledger.schedule(enrollment.ID) {
		assert.Equal(t, models.InstallmentOverdue, inst.State)
	}
}

func TestRetryableJobError(t *testing.T) {
	assert.True(t, RetryableJobError(fmt.Errorf("sweep: %w", appErrors.Clone(appErrors.ErrConcurrentModification, ""))))
	assert.False(t, RetryableJobError(errors.New("boom")))
	assert.False(t, RetryableJobError(appErrors.ErrValidation))
}

func TestRolePolicy(t *testing.T) {
	policy := NewRolePolicy()

	assert.True(t, policy.Can(admin, models.ActionVoidPayment, models.ResourcePayment))
	assert.True(t, policy.Can(cashier, models.ActionRegisterPayment, models.ResourcePayment))
	assert.False(t, policy.Can(cashier, models.ActionVoidPayment, models.ResourcePayment))
	assert.True(t, policy.Can(cashier, models.ActionIssueInvoice, models.ResourceInvoice))
	assert.False(t, policy.Can(cashier, models.ActionVoidInvoice, models.ResourceInvoice))
	assert.True(t, policy.Can(accountant, models.ActionVoidInvoice, models.ResourceInvoice))
	assert.False(t, policy.Can(models.Actor{Role: models.RoleAdmin}, models.ActionViewReports, models.ResourceReport))

	err := authorize(denyAll{}, admin, models.ActionManageCash, models.ResourceCashMovement)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
	assert.NoError(t, authorize(nil, models.Actor{}, models.ActionManageCash, models.ResourceCashMovement))
}
