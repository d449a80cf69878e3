package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/edu-billing-api/internal/models"
	"github.com/noah-isme/edu-billing-api/internal/repository"
	"github.com/noah-isme/edu-billing-api/internal/validation"
	appErrors "github.com/noah-isme/edu-billing-api/pkg/errors"
	"github.com/noah-isme/edu-billing-api/pkg/money"
)

type enrollmentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error)
	ListInstallments(ctx context.Context, enrollmentID string) ([]models.Installment, error)
	MarkOverdue(ctx context.Context, today, at time.Time) (repository.OverdueResult, error)
}

type studentLookup interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type planValidator interface {
	ValidateForEnrollment(ctx context.Context, planID, programID string, total decimal.Decimal) (*models.PaymentPlan, error)
}

// PaymentEventHandler reacts to a confirmed payment inside the confirming transaction. A
// returned error aborts the confirmation.
type PaymentEventHandler interface {
	HandlePaymentConfirmed(ctx context.Context, tx repository.LedgerTx, event models.PaymentConfirmedEvent) error
}

// EnrollmentConfig carries the monetary limits applied to payments.
type EnrollmentConfig struct {
	MaxPaymentAmount decimal.Decimal
}

// EnrollmentService is the enrollment ledger: seats, agreed amounts, installments and
// every payment applied to them.
type EnrollmentService struct {
	repo      enrollmentRepository
	students  studentLookup
	programs  programLookup
	plans     planValidator
	store     ledgerStore
	cash      PaymentEventHandler
	authz     Authorizer
	audit     auditTrail
	cache     viewCache
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       EnrollmentConfig
	now       func() time.Time
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, students studentLookup, programs programLookup, plans planValidator, store ledgerStore, cash PaymentEventHandler, authz Authorizer, audit auditLogger, cache viewCache, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cfg EnrollmentConfig) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{
		repo:      repo,
		students:  students,
		programs:  programs,
		plans:     plans,
		store:     store,
		cash:      cash,
		authz:     authz,
		audit:     auditTrail{repo: audit, logger: logger},
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Get returns an enrollment by id.
func (s *EnrollmentService) Get(ctx context.Context, id string) (*models.Enrollment, error) {
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, storeError(err, "enrollment not found", "failed to load enrollment")
	}
	return enrollment, nil
}

// List returns enrollments with pagination metadata.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, *models.Pagination, error) {
	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, storeError(err, "", "failed to list enrollments")
	}
	page, size, _ := models.Page(filter.Page, filter.PageSize)
	return enrollments, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Installments returns the schedule of an enrollment.
func (s *EnrollmentService) Installments(ctx context.Context, id string) ([]models.Installment, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	installments, err := s.repo.ListInstallments(ctx, id)
	if err != nil {
		return nil, storeError(err, "", "failed to list installments")
	}
	return installments, nil
}

// Create enrolls a student. The seat, the enrollment and its installments are written in
// a single transaction under the program row lock.
func (s *EnrollmentService) Create(ctx context.Context, actor models.Actor, req models.CreateEnrollmentRequest) (*models.Enrollment, error) {
	if err := authorize(s.authz, actor, models.ActionCreateEnrollment, models.ResourceEnrollment); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid enrollment payload")
	}

	var v validation.Violations
	if !req.Modality.Valid() {
		v.Add("modality must be CASH or INSTALLMENTS")
	}
	if req.Modality == models.ModalityInstallments && (req.PlanID == nil || *req.PlanID == "") {
		v.Add("installment enrollments require a payment plan")
	}
	if req.Modality == models.ModalityCash && req.PlanID != nil && *req.PlanID != "" {
		v.Add("cash enrollments cannot use a payment plan")
	}
	if err := v.Err("invalid enrollment"); err != nil {
		return nil, err
	}

	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		return nil, storeError(err, "student not found", "failed to load student")
	}
	if !student.Active {
		return nil, appErrors.Clone(appErrors.ErrBusinessRule, "student is inactive")
	}
	program, err := s.programs.FindByID(ctx, req.ProgramID)
	if err != nil {
		return nil, storeError(err, "program not found", "failed to load program")
	}
	if !program.State.AcceptsEnrollments() {
		return nil, appErrors.Clone(appErrors.ErrBusinessRule, "program "+program.Code+" is not open for enrollment")
	}

	cash := req.Modality == models.ModalityCash
	now := s.now()
	var plan *models.PaymentPlan
	if !cash {
		plan, err = s.plans.ValidateForEnrollment(ctx, *req.PlanID, program.ID, program.Cost(false, now))
		if err != nil {
			return nil, err
		}
	}

	var enrollment *models.Enrollment
	err = s.store.WithinTx(ctx, func(tx repository.LedgerTx) error {
		locked, err := tx.LockProgram(ctx, program.ID)
		if err != nil {
			return err
		}
		if !locked.State.AcceptsEnrollments() {
			return appErrors.Clone(appErrors.ErrBusinessRule, "program "+locked.Code+" is not open for enrollment")
		}
		if locked.AvailableSeats <= 0 {
			return appErrors.Clone(appErrors.ErrNoSeatsAvailable, "no seats available in program "+locked.Code)
		}
		ok, err := tx.OccupySeat(ctx, locked.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return appErrors.Clone(appErrors.ErrNoSeatsAvailable, "no seats available in program "+locked.Code)
		}
		exists, err := tx.OpenEnrollmentExists(ctx, student.ID, locked.ID)
		if err != nil {
			return err
		}
		if exists {
			return appErrors.Clone(appErrors.ErrConflict, "student already has an open enrollment in this program")
		}

		total := money.Round(locked.BaseCost)
		final := locked.Cost(cash, now)
		discount := total.Sub(final)
		if err := validation.FinalAmount(total, discount, final).Err("invalid enrollment amounts"); err != nil {
			return err
		}

		enrollment = &models.Enrollment{
			ID:             uuid.NewString(),
			StudentID:      student.ID,
			ProgramID:      locked.ID,
			Modality:       req.Modality,
			TotalAmount:    total,
			DiscountAmount: discount,
			FinalAmount:    final,
			PaidAmount:     decimal.Zero,
			PaymentState:   models.DerivePaymentState(decimal.Zero, final, false),
			AcademicState:  models.AcademicPreEnrolled,
			EnrolledOn:     models.DateOf(now),
			StartDate:      firstDate(req.StartDate, locked.StartDate),
			CoordinatorID:  req.CoordinatorID,
			Observations:   req.Observations,
			Version:        1,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if plan != nil {
			enrollment.PlanID = &plan.ID
		}
		if err := tx.InsertEnrollment(ctx, enrollment); err != nil {
			return err
		}
		if plan == nil {
			return nil
		}

		start := models.DateOf(now)
		if enrollment.StartDate != nil {
			start = *enrollment.StartDate
		}
		schedule := BuildSchedule(*plan, final, start)
		installments := make([]models.Installment, len(schedule))
		for i, item := range schedule {
			installments[i] = models.Installment{
				ID:           uuid.NewString(),
				EnrollmentID: enrollment.ID,
				Number:       item.Index,
				Amount:       item.Amount,
				PaidAmount:   decimal.Zero,
				DueDate:      item.DueDate,
				State:        models.InstallmentPending,
			}
		}
		return tx.InsertInstallments(ctx, installments)
	})
	if err != nil {
		s.observeConflict("enrollment.create", err)
		return nil, storeError(err, "program not found", "failed to create enrollment")
	}

	s.invalidate(ctx, enrollment.ProgramID)
	s.metrics.RecordEnrollment(string(enrollment.Modality))
	s.audit.emit(ctx, actor, models.AuditActionCreate, models.ResourceEnrollment, enrollment.ID, nil, enrollment)
	s.logger.Info("enrollment created",
		zap.String("enrollment_id", enrollment.ID),
		zap.String("program_id", enrollment.ProgramID),
		zap.String("modality", string(enrollment.Modality)),
		zap.String("final_amount", enrollment.FinalAmount.StringFixed(2)),
	)
	return enrollment, nil
}

// RegisterPayment records a confirmed payment against the enrollment and applies it to
// the balance, the installment schedule and the cash desk in one transaction.
func (s *EnrollmentService) RegisterPayment(ctx context.Context, actor models.Actor, id string, req models.RegisterPaymentRequest) (*models.PaymentReceipt, error) {
	if err := authorize(s.authz, actor, models.ActionRegisterPayment, models.ResourcePayment); err != nil {
		return nil, err
	}
	if err := s.validatePayment(req, req.Amount, req.Method, req.Installment); err != nil {
		return nil, err
	}

	now := s.now()
	payment := &models.Payment{
		ID:                uuid.NewString(),
		EnrollmentID:      &id,
		InstallmentNumber: req.Installment,
		Amount:            money.Round(req.Amount),
		Method:            req.Method,
		Status:            models.PaymentStatusConfirmed,
		ReceiptNumber:     req.ReceiptNumber,
		TransactionRef:    req.TransactionRef,
		PaidOn:            paidOn(req.PaidOn, now),
		CreatedBy:         actor.ID,
		CreatedAt:         now,
	}

	var enrollment *models.Enrollment
	err := s.store.WithinTx(ctx, func(tx repository.LedgerTx) error {
		var err error
		if enrollment, err = tx.LockEnrollment(ctx, id); err != nil {
			return err
		}
		return s.settle(ctx, tx, actor, enrollment, payment, true)
	})
	if err != nil {
		s.observeConflict("enrollment.register_payment", err)
		return nil, storeError(err, "enrollment not found", "failed to register payment")
	}

	s.afterPayment(ctx, actor, enrollment, payment)
	return &models.PaymentReceipt{Payment: *payment, Enrollment: enrollment}, nil
}

// ConfirmPayment confirms a PENDING enrollment payment. It is the only path besides
// RegisterPayment that changes the paid amount.
func (s *EnrollmentService) ConfirmPayment(ctx context.Context, actor models.Actor, paymentID string) (*models.PaymentReceipt, error) {
	if err := authorize(s.authz, actor, models.ActionConfirmPayment, models.ResourcePayment); err != nil {
		return nil, err
	}

	var (
		payment    *models.Payment
		enrollment *models.Enrollment
	)
	err := s.store.WithinTx(ctx, func(tx repository.LedgerTx) error {
		var err error
		if payment, err = tx.LockPayment(ctx, paymentID); err != nil {
			return err
		}
		if payment.Generic() {
			return appErrors.Clone(appErrors.ErrBusinessRule, "payment is not linked to an enrollment")
		}
		if payment.Status != models.PaymentStatusPending {
			return appErrors.Clone(appErrors.ErrInvalidStateTransition, "only pending payments can be confirmed, payment is "+string(payment.Status))
		}
		if enrollment, err = tx.LockEnrollment(ctx, *payment.EnrollmentID); err != nil {
			return err
		}
		return s.settle(ctx, tx, actor, enrollment, payment, false)
	})
	if err != nil {
		s.observeConflict("payment.confirm", err)
		return nil, storeError(err, "payment not found", "failed to confirm payment")
	}

	s.afterPayment(ctx, actor, enrollment, payment)
	return &models.PaymentReceipt{Payment: *payment, Enrollment: enrollment}, nil
}

// settle applies a payment to a locked enrollment: balance check, installment, paid
// amount, derived state, payment row and cash posting.
func (s *EnrollmentService) settle(ctx context.Context, tx repository.LedgerTx, actor models.Actor, enrollment *models.Enrollment, payment *models.Payment, insert bool) error {
	if enrollment.Cancelled() {
		return appErrors.Clone(appErrors.ErrAlreadyCancelled, "enrollment is cancelled and accepts no payments")
	}
	if enrollment.PaidAmount.Add(payment.Amount).GreaterThan(enrollment.FinalAmount) {
		return appErrors.WithDetails(appErrors.ErrExceedsBalance, "payment exceeds the pending balance",
			[]string{"pending balance is " + enrollment.Balance().StringFixed(2)})
	}

	now := s.now()
	installments, err := tx.ListInstallments(ctx, enrollment.ID)
	if err != nil {
		return err
	}
	target, err := pickInstallment(installments, payment.InstallmentNumber)
	if err != nil {
		return err
	}

	if target != nil {
		payment.InstallmentNumber = &target.Number
	} else if enrollment.Modality == models.ModalityCash {
		payment.InstallmentNumber = nil
	}
	payment.Kind, payment.Concept = describeEnrollmentPayment(enrollment, payment.InstallmentNumber)
	payment.Status = models.PaymentStatusConfirmed
	payment.ConfirmedBy = &actor.ID
	payment.ConfirmedAt = &now

	if insert {
		if err := tx.InsertPayment(ctx, payment); err != nil {
			return err
		}
	} else if err := tx.UpdatePayment(ctx, payment); err != nil {
		return err
	}

	for _, inst := range allocatePayment(installments, target, payment) {
		if err := tx.UpdateInstallment(ctx, inst); err != nil {
			return err
		}
	}

	enrollment.PaidAmount = money.Round(enrollment.PaidAmount.Add(payment.Amount))
	enrollment.PaymentState = models.ApplyDelinquency(
		models.DerivePaymentState(enrollment.PaidAmount, enrollment.FinalAmount, false),
		hasOverdue(installments, now),
	)
	enrollment.UpdatedAt = now
	if err := tx.UpdateEnrollment(ctx, enrollment); err != nil {
		return err
	}

	if s.cash == nil {
		return nil
	}
	return s.cash.HandlePaymentConfirmed(ctx, tx, models.PaymentConfirmedEvent{
		EnrollmentID: payment.EnrollmentID,
		PaymentID:    payment.ID,
		Amount:       payment.Amount,
		Method:       payment.Method,
		Kind:         payment.Kind,
		Concept:      payment.Concept,
		On:           payment.PaidOn,
		ActorID:      actor.ID,
	})
}

func (s *EnrollmentService) afterPayment(ctx context.Context, actor models.Actor, enrollment *models.Enrollment, payment *models.Payment) {
	s.invalidate(ctx, enrollment.ProgramID)
	s.metrics.RecordPayment(string(payment.Kind), string(payment.Method), payment.Amount)
	s.audit.emit(ctx, actor, models.AuditActionPayment, models.ResourceEnrollment, enrollment.ID, nil, map[string]interface{}{
		"payment_id":    payment.ID,
		"amount":        payment.Amount,
		"paid_amount":   enrollment.PaidAmount,
		"payment_state": enrollment.PaymentState,
	})
	s.logger.Info("payment confirmed",
		zap.String("payment_id", payment.ID),
		zap.String("enrollment_id", enrollment.ID),
		zap.String("amount", payment.Amount.StringFixed(2)),
		zap.String("payment_state", string(enrollment.PaymentState)),
	)
}

// Cancel withdraws the student, cancels open installments and frees the seat.
func (s *EnrollmentService) Cancel(ctx context.Context, actor models.Actor, id string, req models.CancelEnrollmentRequest) (*models.Enrollment, error) {
	if err := authorize(s.authz, actor, models.ActionCancelEnrollment, models.ResourceEnrollment); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid cancellation payload")
	}

	var (
		enrollment *models.Enrollment
		before     models.AcademicState
	)
	err := s.store.WithinTx(ctx, func(tx repository.LedgerTx) error {
		var err error
		if enrollment, err = tx.LockEnrollment(ctx, id); err != nil {
			return err
		}
		if enrollment.Cancelled() || enrollment.AcademicState == models.AcademicWithdrawn {
			return appErrors.Clone(appErrors.ErrAlreadyCancelled, "enrollment is already cancelled")
		}
		if enrollment.AcademicState.Terminal() {
			return appErrors.Clone(appErrors.ErrInvalidStateTransition, "a finished enrollment cannot be cancelled")
		}
		before = enrollment.AcademicState

		now := s.now()
		installments, err := tx.ListInstallments(ctx, id)
		if err != nil {
			return err
		}
		for i := range installments {
			if !installments[i].Open() {
				continue
			}
			installments[i].State = models.InstallmentCancelled
			if err := tx.UpdateInstallment(ctx, &installments[i]); err != nil {
				return err
			}
		}

		enrollment.AcademicState = models.AcademicWithdrawn
		enrollment.PaymentState = models.DerivePaymentState(enrollment.PaidAmount, enrollment.FinalAmount, true)
		enrollment.CompletionDate = timePtr(models.DateOf(now))
		enrollment.Observations = appendObservation(enrollment.Observations, now, req.Reason)
		enrollment.UpdatedAt = now
		if err := tx.UpdateEnrollment(ctx, enrollment); err != nil {
			return err
		}

		released, err := tx.ReleaseSeat(ctx, enrollment.ProgramID, now)
		if err != nil {
			return err
		}
		if !released {
			return appErrors.Clone(appErrors.ErrBusinessRule, "program has no occupied seat to release")
		}
		return nil
	})
	if err != nil {
		s.observeConflict("enrollment.cancel", err)
		return nil, storeError(err, "enrollment not found", "failed to cancel enrollment")
	}

	s.invalidate(ctx, enrollment.ProgramID)
	s.metrics.RecordCancellation()
	s.audit.emit(ctx, actor, models.AuditActionCancel, models.ResourceEnrollment, id,
		map[string]models.AcademicState{"academic_state": before},
		map[string]interface{}{"academic_state": enrollment.AcademicState, "payment_state": enrollment.PaymentState, "reason": req.Reason})
	s.logger.Info("enrollment cancelled", zap.String("enrollment_id", id), zap.String("paid_amount", enrollment.PaidAmount.StringFixed(2)))
	return enrollment, nil
}

// VoidPayment annuls an enrollment payment. PENDING payments are voided without ledger
// effects, even on a cancelled enrollment. Confirmed payments are only voidable once
// their invoice is voided and their cash movement reversed; the paid amount and
// installments are restored.
func (s *EnrollmentService) VoidPayment(ctx context.Context, actor models.Actor, paymentID string, req models.VoidPaymentRequest) (*models.PaymentReceipt, error) {
	if err := authorize(s.authz, actor, models.ActionVoidPayment, models.ResourcePayment); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid void payload")
	}

	var (
		payment    *models.Payment
		enrollment *models.Enrollment
		wasStatus  models.PaymentStatus
	)
	err := s.store.WithinTx(ctx, func(tx repository.LedgerTx) error {
		var err error
		if payment, err = tx.LockPayment(ctx, paymentID); err != nil {
			return err
		}
		if payment.Generic() {
			return appErrors.Clone(appErrors.ErrBusinessRule, "payment is not linked to an enrollment")
		}
		if payment.Status == models.PaymentStatusVoided {
			return appErrors.Clone(appErrors.ErrVoidNotAllowed, "payment is already voided")
		}
		if enrollment, err = tx.LockEnrollment(ctx, *payment.EnrollmentID); err != nil {
			return err
		}
		wasStatus = payment.Status

		now := s.now()
		if wasStatus == models.PaymentStatusPending {
			markVoided(payment, actor, req.Reason, now)
			return tx.UpdatePayment(ctx, payment)
		}
		if enrollment.Cancelled() {
			return appErrors.Clone(appErrors.ErrVoidNotAllowed, "confirmed payments of a cancelled enrollment cannot be voided")
		}
		if err := ensureNotInvoiced(ctx, tx, payment.ID); err != nil {
			return err
		}
		markVoided(payment, actor, req.Reason, now)

		movement, err := tx.ActiveMovementForPayment(ctx, payment.ID)
		if err != nil {
			return err
		}
		if movement != nil {
			return appErrors.WithDetails(appErrors.ErrVoidNotAllowed, "payment has a posted cash movement",
				[]string{"reverse cash movement " + movement.ID + " before voiding the payment"})
		}

		installments, err := tx.ListInstallments(ctx, enrollment.ID)
		if err != nil {
			return err
		}
		for _, inst := range releaseAllocation(installments, payment.Amount, now) {
			if err := tx.UpdateInstallment(ctx, inst); err != nil {
				return err
			}
		}

		paid := enrollment.PaidAmount.Sub(payment.Amount)
		if paid.IsNegative() {
			paid = decimal.Zero
		}
		enrollment.PaidAmount = money.Round(paid)
		enrollment.PaymentState = models.ApplyDelinquency(
			models.DerivePaymentState(enrollment.PaidAmount, enrollment.FinalAmount, false),
			hasOverdue(installments, now),
		)
		enrollment.UpdatedAt = now
		if err := tx.UpdateEnrollment(ctx, enrollment); err != nil {
			return err
		}
		return tx.UpdatePayment(ctx, payment)
	})
	if err != nil {
		s.observeConflict("payment.void", err)
		return nil, storeError(err, "payment not found", "failed to void payment")
	}

	s.invalidate(ctx, enrollment.ProgramID)
	s.metrics.RecordVoid()
	s.audit.emit(ctx, actor, models.AuditActionVoid, models.ResourcePayment, paymentID,
		map[string]models.PaymentStatus{"status": wasStatus},
		map[string]interface{}{"status": payment.Status, "reason": req.Reason, "paid_amount": enrollment.PaidAmount})
	s.logger.Info("payment voided", zap.String("payment_id", paymentID), zap.String("enrollment_id", enrollment.ID))
	return &models.PaymentReceipt{Payment: *payment, Enrollment: enrollment}, nil
}

// Transition moves the enrollment along the academic axis. Withdrawing goes through
// Cancel; completing or approving requires the enrollment to be fully paid.
func (s *EnrollmentService) Transition(ctx context.Context, actor models.Actor, id string, req models.TransitionRequest) (*models.Enrollment, error) {
	if req.Target == models.AcademicWithdrawn {
		return s.Cancel(ctx, actor, id, models.CancelEnrollmentRequest{Reason: "withdrawn"})
	}
	if err := authorize(s.authz, actor, models.ActionUpdateEnrollment, models.ResourceEnrollment); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid transition payload")
	}

	var (
		enrollment *models.Enrollment
		from       models.AcademicState
	)
	err := s.store.WithinTx(ctx, func(tx repository.LedgerTx) error {
		var err error
		if enrollment, err = tx.LockEnrollment(ctx, id); err != nil {
			return err
		}
		if enrollment.Cancelled() {
			return appErrors.Clone(appErrors.ErrAlreadyCancelled, "enrollment is cancelled")
		}
		from = enrollment.AcademicState
		if !from.CanTransition(req.Target) {
			return appErrors.Clone(appErrors.ErrInvalidStateTransition,
				"enrollment cannot move from "+string(from)+" to "+string(req.Target))
		}
		if (req.Target == models.AcademicCompleted || req.Target == models.AcademicApproved) && enrollment.PaymentState != models.PaymentPaid {
			return appErrors.WithDetails(appErrors.ErrBusinessRule, "enrollment must be fully paid to conclude",
				[]string{"pending balance is " + enrollment.Balance().StringFixed(2)})
		}

		now := s.now()
		on := models.DateOf(now)
		if req.On != nil {
			on = models.DateOf(*req.On)
		}
		switch req.Target {
		case models.AcademicEnrolled, models.AcademicInProgress:
			if enrollment.StartDate == nil {
				enrollment.StartDate = &on
			}
		case models.AcademicCompleted, models.AcademicApproved, models.AcademicFailed:
			enrollment.CompletionDate = &on
		}
		enrollment.AcademicState = req.Target
		enrollment.UpdatedAt = now
		return tx.UpdateEnrollment(ctx, enrollment)
	})
	if err != nil {
		s.observeConflict("enrollment.transition", err)
		return nil, storeError(err, "enrollment not found", "failed to change enrollment state")
	}

	s.invalidate(ctx, enrollment.ProgramID)
	s.audit.emit(ctx, actor, models.AuditActionTransition, models.ResourceEnrollment, id,
		map[string]models.AcademicState{"academic_state": from},
		map[string]models.AcademicState{"academic_state": enrollment.AcademicState})
	return enrollment, nil
}

// RefreshOverdue marks past-due installments OVERDUE and their open enrollments
// DELINQUENT.
func (s *EnrollmentService) RefreshOverdue(ctx context.Context, today time.Time) (repository.OverdueResult, error) {
	result, err := s.repo.MarkOverdue(ctx, models.DateOf(today), s.now())
	if err != nil {
		s.observeConflict("enrollment.refresh_overdue", err)
		return result, storeError(err, "", "failed to refresh overdue installments")
	}
	s.metrics.RecordOverdueSweep(result.Installments, result.Enrollments)
	if result.Enrollments > 0 && s.cache != nil {
		if err := s.cache.Flush(ctx); err != nil {
			s.logger.Warn("cache flush after overdue sweep failed", zap.Error(err))
		}
	}
	s.logger.Info("overdue sweep finished",
		zap.Int64("installments", result.Installments),
		zap.Int64("enrollments", result.Enrollments),
	)
	return result, nil
}

func (s *EnrollmentService) validatePayment(req interface{}, amount decimal.Decimal, method models.PaymentMethod, installment *int) error {
	if err := s.validator.Struct(req); err != nil {
		return validationError(err, "invalid payment payload")
	}
	var v validation.Violations
	v.Merge(validation.PositiveAmount(amount, paymentLimit(s.cfg.MaxPaymentAmount)).Prefix("amount"))
	if !method.Valid() {
		v.Add("unknown payment method %q", method)
	}
	v.Merge(validation.InstallmentIndex(installment, 0))
	return v.Err("invalid payment")
}

func (s *EnrollmentService) observeConflict(op string, err error) {
	if errors.Is(err, repository.ErrConcurrentModification) {
		s.metrics.RecordConflict(op)
		s.logger.Warn("concurrent modification", zap.String("operation", op), zap.Error(err))
	}
}

func (s *EnrollmentService) invalidate(ctx context.Context, programID string) {
	if s.cache != nil {
		s.cache.InvalidateProgram(ctx, programID)
	}
}

// pickInstallment returns the installment a payment is applied to first: the requested
// number when given, otherwise the first open one. A nil result means the enrollment has
// no open installment.
func pickInstallment(installments []models.Installment, number *int) (*models.Installment, error) {
	if number != nil {
		for i := range installments {
			if installments[i].Number != *number {
				continue
			}
			if !installments[i].Open() {
				return nil, appErrors.Clone(appErrors.ErrBusinessRule, fmt.Sprintf("installment %d is not open", *number))
			}
			return &installments[i], nil
		}
		if len(installments) > 0 {
			return nil, appErrors.Clone(appErrors.ErrBusinessRule, fmt.Sprintf("installment %d does not exist", *number))
		}
		return nil, nil
	}
	for i := range installments {
		if installments[i].Open() {
			return &installments[i], nil
		}
	}
	return nil, nil
}

// allocatePayment spreads a payment over the open installments, starting with first and
// carrying any excess forward in schedule order. An installment is PAID once its paid
// share reaches its amount; the payment that completes it is recorded on it. It returns
// the installments it changed.
func allocatePayment(installments []models.Installment, first *models.Installment, payment *models.Payment) []*models.Installment {
	order := make([]*models.Installment, 0, len(installments))
	if first != nil {
		order = append(order, first)
	}
	for i := range installments {
		if &installments[i] != first {
			order = append(order, &installments[i])
		}
	}

	remaining := payment.Amount
	paidOn := models.DateOf(payment.PaidOn)
	var touched []*models.Installment
	for _, inst := range order {
		if !remaining.IsPositive() {
			break
		}
		owed := inst.Outstanding()
		if !owed.IsPositive() {
			continue
		}
		applied := decimal.Min(remaining, owed)
		inst.PaidAmount = money.Round(inst.PaidAmount.Add(applied))
		remaining = remaining.Sub(applied)
		if inst.PaidAmount.GreaterThanOrEqual(inst.Amount) {
			on := paidOn
			id := payment.ID
			inst.State = models.InstallmentPaid
			inst.PaidOn = &on
			inst.PaymentID = &id
		}
		touched = append(touched, inst)
	}
	return touched
}

// releaseAllocation takes amount back from the installments, latest first. An
// installment whose paid share drops below its amount reopens as PENDING, or OVERDUE
// when its due date has passed.
func releaseAllocation(installments []models.Installment, amount decimal.Decimal, now time.Time) []*models.Installment {
	remaining := amount
	var touched []*models.Installment
	for i := len(installments) - 1; i >= 0 && remaining.IsPositive(); i-- {
		inst := &installments[i]
		if inst.State == models.InstallmentCancelled || !inst.PaidAmount.IsPositive() {
			continue
		}
		taken := decimal.Min(remaining, inst.PaidAmount)
		inst.PaidAmount = money.Round(inst.PaidAmount.Sub(taken))
		remaining = remaining.Sub(taken)
		if inst.PaidAmount.LessThan(inst.Amount) {
			inst.State = models.InstallmentPending
			if inst.PastDue(now) {
				inst.State = models.InstallmentOverdue
			}
			inst.PaidOn = nil
			inst.PaymentID = nil
		}
		touched = append(touched, inst)
	}
	return touched
}

func hasOverdue(installments []models.Installment, on time.Time) bool {
	for _, inst := range installments {
		if inst.Open() && (inst.State == models.InstallmentOverdue || inst.PastDue(on)) {
			return true
		}
	}
	return false
}

// ensureNotInvoiced refuses to void a payment billed by an ISSUED invoice.
func ensureNotInvoiced(ctx context.Context, tx repository.LedgerTx, paymentID string) error {
	invoice, err := tx.ActiveInvoiceForPayment(ctx, paymentID)
	if err != nil {
		return err
	}
	if invoice != nil {
		return appErrors.WithDetails(appErrors.ErrVoidNotAllowed, "payment is invoiced",
			[]string{"void invoice " + invoice.Number + " before voiding the payment"})
	}
	return nil
}

func markVoided(payment *models.Payment, actor models.Actor, reason string, at time.Time) {
	payment.Status = models.PaymentStatusVoided
	payment.VoidedBy = &actor.ID
	payment.VoidedAt = &at
	payment.VoidReason = &reason
}

func appendObservation(current *string, at time.Time, reason string) *string {
	note := "Cancelled " + at.Format("2006-01-02")
	if reason = strings.TrimSpace(reason); reason != "" {
		note += ": " + reason
	}
	if current != nil && strings.TrimSpace(*current) != "" {
		note = *current + "\n" + note
	}
	return &note
}

func paidOn(requested *time.Time, now time.Time) time.Time {
	if requested != nil && !requested.IsZero() {
		return requested.UTC()
	}
	return now
}

func firstDate(candidates ...*time.Time) *time.Time {
	for _, c := range candidates {
		if c != nil {
			return datePtr(c)
		}
	}
	return nil
}

func paymentLimit(limit decimal.Decimal) *decimal.Decimal {
	if !limit.IsPositive() {
		return nil
	}
	return &limit
}

func timePtr(t time.Time) *time.Time { return &t }
