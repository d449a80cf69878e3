package service

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/edu-billing-api/internal/models"
	"github.com/noah-isme/edu-billing-api/internal/validation"
	"github.com/noah-isme/edu-billing-api/pkg/money"
)

type incomeReader interface {
	ConfirmedIncome(ctx context.Context, from, to time.Time, column string) ([]models.IncomeBreakdown, error)
	CountByStatus(ctx context.Context, from, to time.Time) (map[models.PaymentStatus]int, error)
}

type cashTotalsReader interface {
	Totals(ctx context.Context, from *time.Time, to time.Time) (decimal.Decimal, decimal.Decimal, int, error)
}

type programStatistics interface {
	Statistics(ctx context.Context, id string) (*models.ProgramStatistics, error)
}

type reportExporter interface {
	Render(ctx context.Context, req models.ReportRequest) (*models.ReportFile, error)
}

// ReportService answers read-only financial questions.
type ReportService struct {
	payments    incomeReader
	cash        cashTotalsReader
	enrollments enrollmentPeriodReader
	programs    programStatistics
	exporter    reportExporter
	authz       Authorizer
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewReportService constructs the report service.
func NewReportService(payments incomeReader, cash cashTotalsReader, enrollments enrollmentPeriodReader, programs programStatistics, exporter reportExporter, authz Authorizer, validate *validator.Validate, logger *zap.Logger) *ReportService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportService{
		payments:    payments,
		cash:        cash,
		enrollments: enrollments,
		programs:    programs,
		exporter:    exporter,
		authz:       authz,
		validator:   validate,
		logger:      logger,
	}
}

// ProgramStatistics returns enrollment and income figures for one program.
func (s *ReportService) ProgramStatistics(ctx context.Context, actor models.Actor, programID string) (*models.ProgramStatistics, error) {
	if err := authorize(s.authz, actor, models.ActionViewReports, models.ResourceReport); err != nil {
		return nil, err
	}
	return s.programs.Statistics(ctx, programID)
}

// PeriodSummary aggregates confirmed income, voids and cash outflows of [from, to].
func (s *ReportService) PeriodSummary(ctx context.Context, actor models.Actor, from, to time.Time) (*models.PeriodSummary, error) {
	if err := authorize(s.authz, actor, models.ActionViewReports, models.ResourceReport); err != nil {
		return nil, err
	}
	from, to = models.DateOf(from), models.DateOf(to)
	if err := validation.DateRange(&from, &to).Err("invalid period"); err != nil {
		return nil, err
	}

	byKind, err := s.payments.ConfirmedIncome(ctx, from, to, "kind")
	if err != nil {
		return nil, storeError(err, "", "failed to summarise income by kind")
	}
	byMethod, err := s.payments.ConfirmedIncome(ctx, from, to, "method")
	if err != nil {
		return nil, storeError(err, "", "failed to summarise income by method")
	}
	counts, err := s.payments.CountByStatus(ctx, from, to)
	if err != nil {
		return nil, storeError(err, "", "failed to count payments")
	}
	inflows, outflows, _, err := s.cash.Totals(ctx, &from, to)
	if err != nil {
		return nil, storeError(err, "", "failed to summarise cash movements")
	}
	enrollments, err := s.enrollments.ListBetween(ctx, from, to, "")
	if err != nil {
		return nil, storeError(err, "", "failed to count enrollments")
	}

	confirmed := decimal.Zero
	for _, row := range byKind {
		confirmed = confirmed.Add(row.Amount)
	}
	return &models.PeriodSummary{
		From:          from,
		To:            to,
		Confirmed:     money.Round(confirmed),
		ByKind:        byKind,
		ByMethod:      byMethod,
		VoidedCount:   counts[models.PaymentStatusVoided],
		PendingCount:  counts[models.PaymentStatusPending],
		Outflows:      money.Round(outflows),
		Net:           money.Round(inflows.Sub(outflows)),
		NewEnrollment: len(enrollments),
	}, nil
}

// Export renders a dataset of the period as CSV or PDF.
func (s *ReportService) Export(ctx context.Context, actor models.Actor, req models.ReportRequest) (*models.ReportFile, error) {
	if err := authorize(s.authz, actor, models.ActionViewReports, models.ResourceReport); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid report request")
	}
	from, to := models.DateOf(req.From), models.DateOf(req.To)
	if err := validation.DateRange(&from, &to).Err("invalid period"); err != nil {
		return nil, err
	}
	file, err := s.exporter.Render(ctx, req)
	if err != nil {
		return nil, storeError(err, "", "failed to render report")
	}
	s.logger.Info("report exported", zap.String("type", string(req.Type)), zap.String("format", string(req.Format)), zap.String("actor_id", actor.ID))
	return file, nil
}
