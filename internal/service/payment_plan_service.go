package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/edu-billing-api/internal/models"
	"github.com/noah-isme/edu-billing-api/internal/validation"
	appErrors "github.com/noah-isme/edu-billing-api/pkg/errors"
	"github.com/noah-isme/edu-billing-api/pkg/money"
)

type paymentPlanRepository interface {
	FindByID(ctx context.Context, id string) (*models.PaymentPlan, error)
	ListByProgram(ctx context.Context, programID string, activeOnly bool) ([]models.PaymentPlan, error)
	NameTaken(ctx context.Context, programID, name, excludeID string) (bool, error)
	CountEnrollments(ctx context.Context, planID string, activeOnly bool) (int, error)
	Create(ctx context.Context, plan *models.PaymentPlan) error
	Update(ctx context.Context, plan *models.PaymentPlan) error
}

type programLookup interface {
	FindByID(ctx context.Context, id string) (*models.Program, error)
}

// PaymentPlanConfig carries the monetary floor every installment must clear.
type PaymentPlanConfig struct {
	MinInstallment decimal.Decimal
}

// PaymentPlanService manages installment templates and the schedules derived from them.
type PaymentPlanService struct {
	repo      paymentPlanRepository
	programs  programLookup
	authz     Authorizer
	audit     auditTrail
	validator *validator.Validate
	logger    *zap.Logger
	cfg       PaymentPlanConfig
}

// NewPaymentPlanService constructs the service.
func NewPaymentPlanService(repo paymentPlanRepository, programs programLookup, authz Authorizer, audit auditLogger, validate *validator.Validate, logger *zap.Logger, cfg PaymentPlanConfig) *PaymentPlanService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.MinInstallment.IsPositive() {
		cfg.MinInstallment = decimal.NewFromInt(10)
	}
	return &PaymentPlanService{
		repo:      repo,
		programs:  programs,
		authz:     authz,
		audit:     auditTrail{repo: audit, logger: logger},
		validator: validate,
		logger:    logger,
		cfg:       cfg,
	}
}

// BuildSchedule lays out the installments of plan for total starting on start. Every
// installment is round(total/count) except the last one, which absorbs the residual.
func BuildSchedule(plan models.PaymentPlan, total decimal.Decimal, start time.Time) []models.ScheduleItem {
	amounts := money.Split(total, plan.Installments)
	first := models.DateOf(start)
	items := make([]models.ScheduleItem, len(amounts))
	for i, amount := range amounts {
		items[i] = models.ScheduleItem{
			Index:   i + 1,
			DueDate: first.AddDate(0, 0, i*plan.IntervalDays),
			Amount:  amount,
		}
	}
	return items
}

func installmentAmount(total decimal.Decimal, count int) decimal.Decimal {
	if count <= 0 {
		return decimal.Zero
	}
	return money.Round(total.Div(decimal.NewFromInt(int64(count))))
}

func (s *PaymentPlanService) clearsFloor(total decimal.Decimal, count int) bool {
	return installmentAmount(total, count).GreaterThanOrEqual(s.cfg.MinInstallment)
}

// Get returns a plan by id.
func (s *PaymentPlanService) Get(ctx context.Context, id string) (*models.PaymentPlan, error) {
	plan, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, storeError(err, "payment plan not found", "failed to load payment plan")
	}
	return plan, nil
}

// ListByProgram returns the plans of a program.
func (s *PaymentPlanService) ListByProgram(ctx context.Context, programID string, activeOnly bool) ([]models.PaymentPlan, error) {
	plans, err := s.repo.ListByProgram(ctx, programID, activeOnly)
	if err != nil {
		return nil, storeError(err, "", "failed to list payment plans")
	}
	return plans, nil
}

// CreatePlan defines a new plan for a program.
func (s *PaymentPlanService) CreatePlan(ctx context.Context, actor models.Actor, req models.CreatePaymentPlanRequest) (*models.PaymentPlan, error) {
	if err := authorize(s.authz, actor, models.ActionManagePlans, models.ResourcePaymentPlan); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid payment plan payload")
	}

	name := strings.TrimSpace(req.Name)
	var v validation.Violations
	v.Merge(validation.PlanName(name))
	v.Merge(validation.InstallmentPlan(req.Installments, req.IntervalDays))
	if err := v.Err("invalid payment plan"); err != nil {
		return nil, err
	}

	program, err := s.programs.FindByID(ctx, req.ProgramID)
	if err != nil {
		return nil, storeError(err, "program not found", "failed to load program")
	}
	if !s.clearsFloor(program.BaseCost, req.Installments) {
		return nil, appErrors.Clone(appErrors.ErrBusinessRule,
			"installment amount "+installmentAmount(program.BaseCost, req.Installments).StringFixed(2)+" is below the minimum of "+s.cfg.MinInstallment.StringFixed(2))
	}

	taken, err := s.repo.NameTaken(ctx, program.ID, name, "")
	if err != nil {
		return nil, storeError(err, "", "failed to validate plan name")
	}
	if taken {
		return nil, appErrors.Clone(appErrors.ErrConflict, "a plan with this name already exists for the program")
	}

	plan := &models.PaymentPlan{
		ProgramID:    program.ID,
		Name:         name,
		Description:  req.Description,
		Installments: req.Installments,
		IntervalDays: req.IntervalDays,
		Active:       true,
	}
	if err := s.repo.Create(ctx, plan); err != nil {
		return nil, storeError(err, "", "failed to create payment plan")
	}

	s.audit.emit(ctx, actor, models.AuditActionCreate, models.ResourcePaymentPlan, plan.ID, nil, plan)
	s.logger.Info("payment plan created", zap.String("plan_id", plan.ID), zap.String("program_id", plan.ProgramID), zap.Int("installments", plan.Installments))
	return plan, nil
}

// UpdatePlan edits a plan. The schedule shape is frozen once any enrollment uses it.
func (s *PaymentPlanService) UpdatePlan(ctx context.Context, actor models.Actor, id string, upd models.PaymentPlanUpdate) (*models.PaymentPlan, error) {
	if err := authorize(s.authz, actor, models.ActionManagePlans, models.ResourcePaymentPlan); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(upd); err != nil {
		return nil, validationError(err, "invalid payment plan payload")
	}

	plan, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, storeError(err, "payment plan not found", "failed to load payment plan")
	}
	before := *plan

	if upd.ChangesTerms() {
		used, err := s.repo.CountEnrollments(ctx, id, false)
		if err != nil {
			return nil, storeError(err, "", "failed to count plan enrollments")
		}
		if used > 0 {
			return nil, appErrors.Clone(appErrors.ErrBusinessRule, "installments and interval cannot change once the plan has enrollments")
		}
		if upd.Installments != nil {
			plan.Installments = *upd.Installments
		}
		if upd.IntervalDays != nil {
			plan.IntervalDays = *upd.IntervalDays
		}
	}

	var v validation.Violations
	if upd.Name != nil {
		plan.Name = strings.TrimSpace(*upd.Name)
		v.Merge(validation.PlanName(plan.Name))
	}
	v.Merge(validation.InstallmentPlan(plan.Installments, plan.IntervalDays))
	if err := v.Err("invalid payment plan"); err != nil {
		return nil, err
	}
	if upd.Description != nil {
		plan.Description = upd.Description
	}

	if upd.ChangesTerms() {
		program, err := s.programs.FindByID(ctx, plan.ProgramID)
		if err != nil {
			return nil, storeError(err, "program not found", "failed to load program")
		}
		if !s.clearsFloor(program.BaseCost, plan.Installments) {
			return nil, appErrors.Clone(appErrors.ErrBusinessRule, "installment amount is below the configured minimum")
		}
	}
	if upd.Name != nil {
		taken, err := s.repo.NameTaken(ctx, plan.ProgramID, plan.Name, plan.ID)
		if err != nil {
			return nil, storeError(err, "", "failed to validate plan name")
		}
		if taken {
			return nil, appErrors.Clone(appErrors.ErrConflict, "a plan with this name already exists for the program")
		}
	}

	if err := s.repo.Update(ctx, plan); err != nil {
		return nil, storeError(err, "payment plan not found", "failed to update payment plan")
	}
	s.audit.emit(ctx, actor, models.AuditActionUpdate, models.ResourcePaymentPlan, id, before, plan)
	return plan, nil
}

// Deactivate hides a plan from new enrollments. It is refused while students following
// the plan are still academically active.
func (s *PaymentPlanService) Deactivate(ctx context.Context, actor models.Actor, id string) (*models.PaymentPlan, error) {
	if err := authorize(s.authz, actor, models.ActionManagePlans, models.ResourcePaymentPlan); err != nil {
		return nil, err
	}
	plan, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, storeError(err, "payment plan not found", "failed to load payment plan")
	}
	if !plan.Active {
		return plan, nil
	}
	active, err := s.repo.CountEnrollments(ctx, id, true)
	if err != nil {
		return nil, storeError(err, "", "failed to count plan enrollments")
	}
	if active > 0 {
		return nil, appErrors.Clone(appErrors.ErrBusinessRule, "plan still has active enrollments")
	}

	plan.Active = false
	if err := s.repo.Update(ctx, plan); err != nil {
		return nil, storeError(err, "payment plan not found", "failed to deactivate payment plan")
	}
	s.audit.emit(ctx, actor, models.AuditActionTransition, models.ResourcePaymentPlan, id,
		map[string]bool{"active": true}, map[string]bool{"active": false})
	return plan, nil
}

// GenerateSchedule previews the installments of a plan for total.
func (s *PaymentPlanService) GenerateSchedule(ctx context.Context, planID string, total decimal.Decimal, start time.Time) ([]models.ScheduleItem, error) {
	if err := validation.PositiveAmount(total, nil).Err("invalid schedule total"); err != nil {
		return nil, err
	}
	plan, err := s.repo.FindByID(ctx, planID)
	if err != nil {
		return nil, storeError(err, "payment plan not found", "failed to load payment plan")
	}
	if !s.clearsFloor(total, plan.Installments) {
		return nil, appErrors.Clone(appErrors.ErrBusinessRule,
			"installment amount "+installmentAmount(total, plan.Installments).StringFixed(2)+" is below the minimum of "+s.cfg.MinInstallment.StringFixed(2))
	}
	return BuildSchedule(*plan, total, start), nil
}

// Simulate returns the schedule of every active plan of the program, fewest
// installments first.
func (s *PaymentPlanService) Simulate(ctx context.Context, programID string, total decimal.Decimal, start time.Time) ([]models.PlanSimulation, error) {
	if err := validation.PositiveAmount(total, nil).Err("invalid simulation total"); err != nil {
		return nil, err
	}
	plans, err := s.repo.ListByProgram(ctx, programID, true)
	if err != nil {
		return nil, storeError(err, "", "failed to list payment plans")
	}
	sort.SliceStable(plans, func(i, j int) bool { return plans[i].Installments < plans[j].Installments })

	out := make([]models.PlanSimulation, 0, len(plans))
	for _, plan := range plans {
		out = append(out, models.PlanSimulation{
			Plan:              plan,
			InstallmentAmount: installmentAmount(total, plan.Installments),
			Total:             money.Round(total),
			Schedule:          BuildSchedule(plan, total, start),
			MeetsMinimum:      s.clearsFloor(total, plan.Installments),
		})
	}
	return out, nil
}

// RecommendPlan picks the most balanced active plan: among plans whose installment is
// at least twice the minimum, the median by installment amount.
func (s *PaymentPlanService) RecommendPlan(ctx context.Context, programID string, req models.RecommendPlanRequest) (*models.PlanSimulation, error) {
	if err := validation.PositiveAmount(req.Total, nil).Err("invalid recommendation total"); err != nil {
		return nil, err
	}
	plans, err := s.repo.ListByProgram(ctx, programID, true)
	if err != nil {
		return nil, storeError(err, "", "failed to list payment plans")
	}
	if len(plans) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "program has no active payment plans")
	}

	candidates := plans
	if req.PreferredCount != nil {
		var preferred []models.PaymentPlan
		for _, plan := range plans {
			if plan.Installments == *req.PreferredCount {
				preferred = append(preferred, plan)
			}
		}
		if len(preferred) > 0 {
			candidates = preferred
		}
	}

	comfortable := s.cfg.MinInstallment.Mul(decimal.NewFromInt(2))
	var viable []models.PaymentPlan
	for _, plan := range candidates {
		if installmentAmount(req.Total, plan.Installments).GreaterThanOrEqual(comfortable) {
			viable = append(viable, plan)
		}
	}
	if len(viable) == 0 {
		viable = candidates
	}

	sort.SliceStable(viable, func(i, j int) bool {
		ai := installmentAmount(req.Total, viable[i].Installments)
		aj := installmentAmount(req.Total, viable[j].Installments)
		if !ai.Equal(aj) {
			return ai.LessThan(aj)
		}
		return viable[i].Installments < viable[j].Installments
	})
	chosen := viable[len(viable)/2]

	return &models.PlanSimulation{
		Plan:              chosen,
		InstallmentAmount: installmentAmount(req.Total, chosen.Installments),
		Total:             money.Round(req.Total),
		Schedule:          BuildSchedule(chosen, req.Total, models.Today()),
		MeetsMinimum:      s.clearsFloor(req.Total, chosen.Installments),
	}, nil
}

// ValidateForEnrollment checks that the plan can be used to enroll into programID for
// the given total.
func (s *PaymentPlanService) ValidateForEnrollment(ctx context.Context, planID, programID string, total decimal.Decimal) (*models.PaymentPlan, error) {
	plan, err := s.repo.FindByID(ctx, planID)
	if err != nil {
		return nil, storeError(err, "payment plan not found", "failed to load payment plan")
	}
	if plan.ProgramID != programID {
		return nil, appErrors.Clone(appErrors.ErrBusinessRule, "payment plan does not belong to the program")
	}
	if !plan.Active {
		return nil, appErrors.Clone(appErrors.ErrBusinessRule, "payment plan is inactive")
	}
	if !s.clearsFloor(total, plan.Installments) {
		return nil, appErrors.Clone(appErrors.ErrBusinessRule, "installment amount is below the configured minimum")
	}
	return plan, nil
}
