package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/edu-billing-api/internal/models"
	"github.com/noah-isme/edu-billing-api/internal/repository"
	"github.com/noah-isme/edu-billing-api/internal/validation"
	appErrors "github.com/noah-isme/edu-billing-api/pkg/errors"
	"github.com/noah-isme/edu-billing-api/pkg/money"
)

type programRepository interface {
	List(ctx context.Context, filter models.ProgramFilter) ([]models.Program, int, error)
	FindByID(ctx context.Context, id string) (*models.Program, error)
	ExistsByCode(ctx context.Context, code string) (bool, error)
	Create(ctx context.Context, program *models.Program) error
	Statistics(ctx context.Context, programID string) (*repository.ProgramAggregates, error)
}

type ledgerStore interface {
	WithinTx(ctx context.Context, fn func(tx repository.LedgerTx) error) error
}

// ProgramService manages the program catalog: capacity, pricing and lifecycle.
type ProgramService struct {
	repo      programRepository
	store     ledgerStore
	authz     Authorizer
	audit     auditTrail
	cache     viewCache
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewProgramService constructs ProgramService.
func NewProgramService(repo programRepository, store ledgerStore, authz Authorizer, audit auditLogger, cache viewCache, validate *validator.Validate, logger *zap.Logger) *ProgramService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgramService{
		repo:      repo,
		store:     store,
		authz:     authz,
		audit:     auditTrail{repo: audit, logger: logger},
		cache:     cache,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// List returns programs with pagination metadata.
func (s *ProgramService) List(ctx context.Context, filter models.ProgramFilter) ([]models.Program, *models.Pagination, error) {
	programs, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to list programs")
	}
	page, size, _ := models.Page(filter.Page, filter.PageSize)
	return programs, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns a program, served from cache when possible.
func (s *ProgramService) Get(ctx context.Context, id string) (*models.Program, error) {
	var cached models.Program
	if s.cache != nil {
		if hit, _ := s.cache.Get(ctx, programCacheKey(id), &cached); hit {
			return &cached, nil
		}
	}
	program, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, storeError(err, "program not found", "failed to load program")
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, programCacheKey(id), program, 0)
	}
	return program, nil
}

// Create registers a new program in PLANNED state with every seat available.
func (s *ProgramService) Create(ctx context.Context, actor models.Actor, req models.CreateProgramRequest) (*models.Program, error) {
	if err := authorize(s.authz, actor, models.ActionManagePrograms, models.ResourceProgram); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid program payload")
	}

	code := strings.ToUpper(strings.TrimSpace(req.Code))
	var v validation.Violations
	v.Merge(validation.ProgramCode(code))
	v.Merge(validation.DurationWeeks(req.DurationWeeks))
	v.Merge(validation.Seats(req.TotalSeats, -1))
	v.Merge(validation.Amount(req.BaseCost, nil, nil).Prefix("base cost"))
	v.Merge(validation.DateRange(req.StartDate, req.EndDate))
	registration := optionalAmount(req.RegistrationFee, &v, "registration fee")
	enrollmentFee := optionalAmount(req.EnrollmentFee, &v, "enrollment fee")
	cashDiscount := decimal.Zero
	if req.CashDiscountPct != nil {
		cashDiscount = *req.CashDiscountPct
		v.Merge(validation.DiscountPercent(cashDiscount, decimal.NewFromInt(100)).Prefix("cash discount"))
	}
	if err := v.Err("invalid program"); err != nil {
		return nil, err
	}

	exists, err := s.repo.ExistsByCode(ctx, code)
	if err != nil {
		return nil, storeError(err, "", "failed to validate program code")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "program code already exists")
	}

	program := &models.Program{
		Code:            code,
		Name:            strings.TrimSpace(req.Name),
		Description:     req.Description,
		DurationWeeks:   req.DurationWeeks,
		Hours:           req.Hours,
		BaseCost:        money.Round(req.BaseCost),
		RegistrationFee: registration,
		EnrollmentFee:   enrollmentFee,
		TotalSeats:      req.TotalSeats,
		AvailableSeats:  req.TotalSeats,
		CashDiscountPct: cashDiscount,
		PromotionPct:    decimal.Zero,
		State:           models.ProgramPlanned,
		StartDate:       datePtr(req.StartDate),
		EndDate:         datePtr(req.EndDate),
		TutorID:         req.TutorID,
	}
	if err := s.repo.Create(ctx, program); err != nil {
		return nil, storeError(err, "", "failed to create program")
	}

	s.audit.emit(ctx, actor, models.AuditActionCreate, models.ResourceProgram, program.ID, nil, program)
	s.logger.Info("program created", zap.String("program_id", program.ID), zap.String("code", program.Code))
	return program, nil
}

// Update applies an enumerated update command. Total seats cannot drop below the
// occupied count and available seats shift by the same delta.
func (s *ProgramService) Update(ctx context.Context, actor models.Actor, id string, upd models.ProgramUpdate) (*models.Program, error) {
	if err := authorize(s.authz, actor, models.ActionManagePrograms, models.ResourceProgram); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(upd); err != nil {
		return nil, validationError(err, "invalid program payload")
	}

	var v validation.Violations
	if upd.Name != nil && strings.TrimSpace(*upd.Name) == "" {
		v.Add("program name is required")
	}
	v.Merge(validation.DurationWeeks(upd.DurationWeeks))
	if upd.BaseCost != nil {
		v.Merge(validation.Amount(*upd.BaseCost, nil, nil).Prefix("base cost"))
	}
	if upd.RegistrationFee != nil {
		v.Merge(validation.Amount(*upd.RegistrationFee, nil, nil).Prefix("registration fee"))
	}
	if upd.EnrollmentFee != nil {
		v.Merge(validation.Amount(*upd.EnrollmentFee, nil, nil).Prefix("enrollment fee"))
	}
	if upd.TotalSeats != nil {
		v.Merge(validation.Seats(*upd.TotalSeats, -1))
	}
	if upd.CashDiscountPct != nil {
		v.Merge(validation.DiscountPercent(*upd.CashDiscountPct, decimal.NewFromInt(100)).Prefix("cash discount"))
	}
	if err := v.Err("invalid program update"); err != nil {
		return nil, err
	}

	var before, after models.Program
	err := s.store.WithinTx(ctx, func(tx repository.LedgerTx) error {
		program, err := tx.LockProgram(ctx, id)
		if err != nil {
			return err
		}
		if program.State == models.ProgramConcluded || program.State == models.ProgramCancelled {
			return appErrors.Clone(appErrors.ErrBusinessRule, "program is closed and cannot be edited")
		}
		before = *program

		if upd.Name != nil {
			program.Name = strings.TrimSpace(*upd.Name)
		}
		if upd.Description != nil {
			program.Description = upd.Description
		}
		if upd.DurationWeeks != nil {
			program.DurationWeeks = upd.DurationWeeks
		}
		if upd.Hours != nil {
			program.Hours = upd.Hours
		}
		if upd.BaseCost != nil {
			program.BaseCost = money.Round(*upd.BaseCost)
		}
		if upd.RegistrationFee != nil {
			program.RegistrationFee = money.Round(*upd.RegistrationFee)
		}
		if upd.EnrollmentFee != nil {
			program.EnrollmentFee = money.Round(*upd.EnrollmentFee)
		}
		if upd.CashDiscountPct != nil {
			program.CashDiscountPct = *upd.CashDiscountPct
		}
		if upd.StartDate != nil {
			program.StartDate = datePtr(upd.StartDate)
		}
		if upd.EndDate != nil {
			program.EndDate = datePtr(upd.EndDate)
		}
		if upd.TutorID != nil {
			program.TutorID = upd.TutorID
		}
		if upd.TotalSeats != nil {
			occupied := program.OccupiedSeats()
			if *upd.TotalSeats < occupied {
				return appErrors.WithDetails(appErrors.ErrBusinessRule, "total seats below occupied seats",
					[]string{"total seats cannot be lower than the " + strconv.Itoa(occupied) + " occupied seats"})
			}
			program.AvailableSeats += *upd.TotalSeats - program.TotalSeats
			program.TotalSeats = *upd.TotalSeats
		}
		if dates := validation.DateRange(program.StartDate, program.EndDate); !dates.OK() {
			return dates.Err("invalid program update")
		}

		program.UpdatedAt = s.now()
		if err := tx.UpdateProgram(ctx, program); err != nil {
			return err
		}
		after = *program
		return nil
	})
	if err != nil {
		return nil, storeError(err, "program not found", "failed to update program")
	}

	s.invalidate(ctx, id)
	s.audit.emit(ctx, actor, models.AuditActionUpdate, models.ResourceProgram, id, before, after)
	return &after, nil
}

// OccupySeat takes one seat of the program.
func (s *ProgramService) OccupySeat(ctx context.Context, actor models.Actor, id string) (*models.Program, error) {
	if err := authorize(s.authz, actor, models.ActionManagePrograms, models.ResourceProgram); err != nil {
		return nil, err
	}
	var program *models.Program
	err := s.store.WithinTx(ctx, func(tx repository.LedgerTx) error {
		var err error
		if program, err = tx.LockProgram(ctx, id); err != nil {
			return err
		}
		ok, err := tx.OccupySeat(ctx, id, s.now())
		if err != nil {
			return err
		}
		if !ok {
			return appErrors.Clone(appErrors.ErrNoSeatsAvailable, "no seats available in program "+program.Code)
		}
		program.AvailableSeats--
		return nil
	})
	if err != nil {
		return nil, storeError(err, "program not found", "failed to occupy seat")
	}
	s.invalidate(ctx, id)
	return program, nil
}

// ReleaseSeat gives one seat back to the program.
func (s *ProgramService) ReleaseSeat(ctx context.Context, actor models.Actor, id string) (*models.Program, error) {
	if err := authorize(s.authz, actor, models.ActionManagePrograms, models.ResourceProgram); err != nil {
		return nil, err
	}
	var program *models.Program
	err := s.store.WithinTx(ctx, func(tx repository.LedgerTx) error {
		var err error
		if program, err = tx.LockProgram(ctx, id); err != nil {
			return err
		}
		ok, err := tx.ReleaseSeat(ctx, id, s.now())
		if err != nil {
			return err
		}
		if !ok {
			return appErrors.Clone(appErrors.ErrBusinessRule, "every seat of the program is already free")
		}
		program.AvailableSeats++
		return nil
	})
	if err != nil {
		return nil, storeError(err, "program not found", "failed to release seat")
	}
	s.invalidate(ctx, id)
	return program, nil
}

// ComputeCost returns what a new enrollment would be charged today.
func (s *ProgramService) ComputeCost(ctx context.Context, id string, cash bool) (decimal.Decimal, error) {
	program, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return decimal.Zero, storeError(err, "program not found", "failed to load program")
	}
	return program.Cost(cash, s.now()), nil
}

// Start moves a PLANNED program to STARTED.
func (s *ProgramService) Start(ctx context.Context, actor models.Actor, id string) (*models.Program, error) {
	return s.transition(ctx, actor, id, models.ProgramStarted)
}

// Conclude moves a STARTED program to CONCLUDED once no enrollment is academically active.
func (s *ProgramService) Conclude(ctx context.Context, actor models.Actor, id string) (*models.Program, error) {
	return s.transition(ctx, actor, id, models.ProgramConcluded)
}

// Cancel moves a PLANNED or STARTED program to CANCELLED.
func (s *ProgramService) Cancel(ctx context.Context, actor models.Actor, id string) (*models.Program, error) {
	return s.transition(ctx, actor, id, models.ProgramCancelled)
}

func (s *ProgramService) transition(ctx context.Context, actor models.Actor, id string, target models.ProgramState) (*models.Program, error) {
	if err := authorize(s.authz, actor, models.ActionChangeProgram, models.ResourceProgram); err != nil {
		return nil, err
	}
	var (
		program *models.Program
		from    models.ProgramState
	)
	err := s.store.WithinTx(ctx, func(tx repository.LedgerTx) error {
		var err error
		if program, err = tx.LockProgram(ctx, id); err != nil {
			return err
		}
		from = program.State
		if !from.CanTransition(target) {
			return appErrors.Clone(appErrors.ErrInvalidStateTransition, "program cannot move from "+string(from)+" to "+string(target))
		}
		if target == models.ProgramConcluded {
			active, err := tx.CountActiveEnrollments(ctx, id)
			if err != nil {
				return err
			}
			if active > 0 {
				return appErrors.WithDetails(appErrors.ErrBusinessRule, "program has active enrollments",
					[]string{strconv.Itoa(active) + " enrollments are still pre-enrolled, enrolled or in progress"})
			}
		}

		now := s.now()
		program.State = target
		program.UpdatedAt = now
		switch target {
		case models.ProgramStarted:
			program.StartedAt = &now
		case models.ProgramConcluded:
			program.ConcludedAt = &now
		case models.ProgramCancelled:
			program.CancelledAt = &now
		}
		return tx.UpdateProgram(ctx, program)
	})
	if err != nil {
		return nil, storeError(err, "program not found", "failed to change program state")
	}

	s.invalidate(ctx, id)
	s.audit.emit(ctx, actor, models.AuditActionTransition, models.ResourceProgram, id,
		map[string]models.ProgramState{"state": from}, map[string]models.ProgramState{"state": target})
	s.logger.Info("program state changed", zap.String("program_id", id), zap.String("from", string(from)), zap.String("to", string(target)))
	return program, nil
}

// ActivatePromotion turns on a percentage discount for non-cash enrollments.
func (s *ProgramService) ActivatePromotion(ctx context.Context, actor models.Actor, id string, req models.PromotionRequest) (*models.Program, error) {
	if err := authorize(s.authz, actor, models.ActionManagePrograms, models.ResourceProgram); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid promotion payload")
	}
	v := validation.DiscountPercent(req.Percent, decimal.NewFromInt(100))
	if !req.Percent.IsPositive() {
		v.Add("promotion percent must be greater than zero")
	}
	if req.ExpiresOn != nil && models.DateOf(*req.ExpiresOn).Before(models.DateOf(s.now())) {
		v.Add("promotion expiry cannot be in the past")
	}
	if err := v.Err("invalid promotion"); err != nil {
		return nil, err
	}
	return s.setPromotion(ctx, actor, id, func(p *models.Program) {
		p.PromotionActive = true
		p.PromotionPct = req.Percent
		p.PromotionDescription = req.Description
		p.PromotionExpiresOn = datePtr(req.ExpiresOn)
	})
}

// DeactivatePromotion turns the promotion off.
func (s *ProgramService) DeactivatePromotion(ctx context.Context, actor models.Actor, id string) (*models.Program, error) {
	if err := authorize(s.authz, actor, models.ActionManagePrograms, models.ResourceProgram); err != nil {
		return nil, err
	}
	return s.setPromotion(ctx, actor, id, func(p *models.Program) {
		p.PromotionActive = false
		p.PromotionPct = decimal.Zero
		p.PromotionDescription = nil
		p.PromotionExpiresOn = nil
	})
}

func (s *ProgramService) setPromotion(ctx context.Context, actor models.Actor, id string, apply func(*models.Program)) (*models.Program, error) {
	var program *models.Program
	err := s.store.WithinTx(ctx, func(tx repository.LedgerTx) error {
		var err error
		if program, err = tx.LockProgram(ctx, id); err != nil {
			return err
		}
		if !program.State.AcceptsEnrollments() {
			return appErrors.Clone(appErrors.ErrBusinessRule, "promotions only apply to planned or started programs")
		}
		apply(program)
		program.UpdatedAt = s.now()
		return tx.UpdateProgram(ctx, program)
	})
	if err != nil {
		return nil, storeError(err, "program not found", "failed to update promotion")
	}
	s.invalidate(ctx, id)
	s.audit.emit(ctx, actor, models.AuditActionUpdate, models.ResourceProgram, id, nil, map[string]interface{}{
		"promotion_active": program.PromotionActive,
		"promotion_pct":    program.PromotionPct,
	})
	return program, nil
}

// Statistics returns enrollment and income figures for the program.
func (s *ProgramService) Statistics(ctx context.Context, id string) (*models.ProgramStatistics, error) {
	var cached models.ProgramStatistics
	if s.cache != nil {
		if hit, _ := s.cache.Get(ctx, programStatsCacheKey(id), &cached); hit {
			return &cached, nil
		}
	}

	program, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, storeError(err, "program not found", "failed to load program")
	}
	agg, err := s.repo.Statistics(ctx, id)
	if err != nil {
		return nil, storeError(err, "", "failed to compute program statistics")
	}

	stats := &models.ProgramStatistics{
		ProgramID:       id,
		TotalSeats:      program.TotalSeats,
		OccupiedSeats:   program.OccupiedSeats(),
		ByAcademicState: agg.ByAcademicState,
		ByPaymentState:  agg.ByPaymentState,
		PotentialIncome: money.Round(agg.Totals.Potential),
		CollectedIncome: money.Round(agg.Totals.Collected),
		PendingBalance:  money.Round(agg.Totals.Potential.Sub(agg.Totals.Collected)),
		CollectionPct:   money.Ratio(agg.Totals.Collected, agg.Totals.Potential),
		OccupancyPct:    money.Ratio(decimal.NewFromInt(int64(program.OccupiedSeats())), decimal.NewFromInt(int64(program.TotalSeats))),
	}
	for _, state := range models.ActiveAcademicStates {
		stats.ActiveEnrollment += agg.ByAcademicState[state]
	}

	if s.cache != nil {
		_ = s.cache.Set(ctx, programStatsCacheKey(id), stats, 0)
	}
	return stats, nil
}

func (s *ProgramService) invalidate(ctx context.Context, id string) {
	if s.cache != nil {
		s.cache.InvalidateProgram(ctx, id)
	}
}

func optionalAmount(value *decimal.Decimal, v *validation.Violations, field string) decimal.Decimal {
	if value == nil {
		return decimal.Zero
	}
	v.Merge(validation.Amount(*value, nil, nil).Prefix(field))
	return money.Round(*value)
}

func datePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := models.DateOf(*t)
	return &d
}
