package service

import (
	"context"
	"fmt"
	"time"

	"github.com/noah-isme/edu-billing-api/internal/models"
	"github.com/noah-isme/edu-billing-api/internal/repository"
	appErrors "github.com/noah-isme/edu-billing-api/pkg/errors"
	"github.com/noah-isme/edu-billing-api/pkg/jobs"
)

// JobRefreshOverdue is the job type of the periodic overdue sweep.
const JobRefreshOverdue = "billing.refresh_overdue"

type overdueRefresher interface {
	RefreshOverdue(ctx context.Context, today time.Time) (repository.OverdueResult, error)
}

// OverdueJob runs the overdue sweep from the background queue.
type OverdueJob struct {
	ledger overdueRefresher
	now    func() time.Time
}

// NewOverdueJob constructs the job handler.
func NewOverdueJob(ledger overdueRefresher) *OverdueJob {
	return &OverdueJob{ledger: ledger, now: func() time.Time { return time.Now().UTC() }}
}

// Next builds the job enqueued on every tick. The sweep date is fixed when the job is
// created so a retried job sweeps the same day.
func (j *OverdueJob) Next() jobs.Job {
	return jobs.Job{Type: JobRefreshOverdue, Payload: models.DateOf(j.now())}
}

// Handle processes a sweep job.
func (j *OverdueJob) Handle(ctx context.Context, job jobs.Job) error {
	if job.Type != JobRefreshOverdue {
		return fmt.Errorf("unexpected job type %q", job.Type)
	}
	today, ok := job.Payload.(time.Time)
	if !ok {
		today = models.DateOf(j.now())
	}
	_, err := j.ledger.RefreshOverdue(ctx, today)
	return err
}

// RetryableJobError reports whether a failed job may succeed when attempted again.
func RetryableJobError(err error) bool {
	return appErrors.IsRetryable(err)
}
