package service

import (
	"context"
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

type paymentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Payment, error)
	List(ctx context.Context, filter models.PaymentFilter) ([]models.Payment, int, error)
}

type paymentLedger interface {
	RegisterPayment(ctx context.Context, actor models.Actor, id string, req models.RegisterPaymentRequest) (*models.PaymentReceipt, error)
	ConfirmPayment(ctx context.Context, actor models.Actor, paymentID string) (*models.PaymentReceipt, error)
	VoidPayment(ctx context.Context, actor models.Actor, paymentID string, req models.VoidPaymentRequest) (*models.PaymentReceipt, error)
}

// PaymentConfig controls payment limits and generic income confirmation.
type PaymentConfig struct {
	MaxPaymentAmount         decimal.Decimal
	GenericIncomeAutoConfirm bool
}

// PaymentService is the payment and income register. Enrollment payments are settled
// through the enrollment ledger; generic income posts to the cash desk directly.
type PaymentService struct {
	repo      paymentRepository
	store     ledgerStore
	ledger    paymentLedger
	cash      PaymentEventHandler
	authz     Authorizer
	audit     auditTrail
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       PaymentConfig
	now       func() time.Time
}

// NewPaymentService constructs PaymentService.
func NewPaymentService(repo paymentRepository, store ledgerStore, ledger paymentLedger, cash PaymentEventHandler, authz Authorizer, audit auditLogger, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cfg PaymentConfig) *PaymentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentService{
		repo:      repo,
		store:     store,
		ledger:    ledger,
		cash:      cash,
		authz:     authz,
		audit:     auditTrail{repo: audit, logger: logger},
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Get returns a payment by id.
func (s *PaymentService) Get(ctx context.Context, id string) (*models.Payment, error) {
	payment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, storeError(err, "payment not found", "failed to load payment")
	}
	return payment, nil
}

// List returns payments with pagination metadata.
func (s *PaymentService) List(ctx context.Context, filter models.PaymentFilter) ([]models.Payment, *models.Pagination, error) {
	payments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, storeError(err, "", "failed to list payments")
	}
	page, size, _ := models.Page(filter.Page, filter.PageSize)
	return payments, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Record stores a payment. It is CONFIRMED right away only when the caller asks for it;
// otherwise it stays PENDING and leaves the enrollment untouched until Confirm.
func (s *PaymentService) Record(ctx context.Context, actor models.Actor, req models.RecordPaymentRequest) (*models.Payment, error) {
	if req.EnrollmentID == nil || *req.EnrollmentID == "" {
		concept := ""
		if req.Concept != nil {
			concept = *req.Concept
		}
		return s.recordGeneric(ctx, actor, models.GenericIncomeRequest{
			Amount:         req.Amount,
			Concept:        concept,
			Method:         req.Method,
			ReceiptNumber:  req.ReceiptNumber,
			TransactionRef: req.TransactionRef,
			PaidOn:         req.PaidOn,
		}, req.Confirm)
	}

	if err := authorize(s.authz, actor, models.ActionRegisterPayment, models.ResourcePayment); err != nil {
		return nil, err
	}
	if req.Confirm {
		if err := authorize(s.authz, actor, models.ActionConfirmPayment, models.ResourcePayment); err != nil {
			return nil, err
		}
		receipt, err := s.ledger.RegisterPayment(ctx, actor, *req.EnrollmentID, models.RegisterPaymentRequest{
			Amount:         req.Amount,
			Method:         req.Method,
			Installment:    req.Installment,
			ReceiptNumber:  req.ReceiptNumber,
			TransactionRef: req.TransactionRef,
			PaidOn:         req.PaidOn,
		})
		if err != nil {
			return nil, err
		}
		return &receipt.Payment, nil
	}

	if err := s.validatePayment(req, req.Amount, req.Method); err != nil {
		return nil, err
	}
	if err := validation.InstallmentIndex(req.Installment, 0).Err("invalid payment"); err != nil {
		return nil, err
	}

	now := s.now()
	payment := &models.Payment{
		ID:                uuid.NewString(),
		EnrollmentID:      req.EnrollmentID,
		InstallmentNumber: req.Installment,
		Amount:            money.Round(req.Amount),
		Method:            req.Method,
		Status:            models.PaymentStatusPending,
		ReceiptNumber:     req.ReceiptNumber,
		TransactionRef:    req.TransactionRef,
		PaidOn:            paidOn(req.PaidOn, now),
		CreatedBy:         actor.ID,
		CreatedAt:         now,
	}
	err := s.store.WithinTx(ctx, func(tx repository.LedgerTx) error {
		enrollment, err := tx.LockEnrollment(ctx, *req.EnrollmentID)
		if err != nil {
			return err
		}
		if enrollment.Cancelled() {
			return appErrors.Clone(appErrors.ErrAlreadyCancelled, "enrollment is cancelled and accepts no payments")
		}
		if payment.Amount.GreaterThan(enrollment.Balance()) {
			return appErrors.WithDetails(appErrors.ErrExceedsBalance, "payment exceeds the pending balance",
				[]string{"pending balance is " + enrollment.Balance().StringFixed(2)})
		}
		payment.Kind, payment.Concept = describeEnrollmentPayment(enrollment, req.Installment)
		return tx.InsertPayment(ctx, payment)
	})
	if err != nil {
		return nil, storeError(err, "enrollment not found", "failed to record payment")
	}

	s.audit.emit(ctx, actor, models.AuditActionCreate, models.ResourcePayment, payment.ID, nil, payment)
	s.logger.Info("payment recorded", zap.String("payment_id", payment.ID), zap.String("status", string(payment.Status)))
	return payment, nil
}

// Confirm turns a PENDING payment into a CONFIRMED one, updating the ledger and posting
// the cash inflow.
func (s *PaymentService) Confirm(ctx context.Context, actor models.Actor, id string) (*models.Payment, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !existing.Generic() {
		receipt, err := s.ledger.ConfirmPayment(ctx, actor, id)
		if err != nil {
			return nil, err
		}
		return &receipt.Payment, nil
	}

	if err := authorize(s.authz, actor, models.ActionConfirmPayment, models.ResourcePayment); err != nil {
		return nil, err
	}
	var payment *models.Payment
	err = s.store.WithinTx(ctx, func(tx repository.LedgerTx) error {
		var err error
		if payment, err = tx.LockPayment(ctx, id); err != nil {
			return err
		}
		if payment.Status != models.PaymentStatusPending {
			return appErrors.Clone(appErrors.ErrInvalidStateTransition, "only pending payments can be confirmed, payment is "+string(payment.Status))
		}
		return s.confirmGeneric(ctx, tx, actor, payment, false)
	})
	if err != nil {
		return nil, storeError(err, "payment not found", "failed to confirm payment")
	}
	s.afterGeneric(ctx, actor, payment)
	return payment, nil
}

// RecordGenericIncome stores revenue not tied to an enrollment. It is confirmed on
// creation unless auto-confirmation is switched off.
func (s *PaymentService) RecordGenericIncome(ctx context.Context, actor models.Actor, req models.GenericIncomeRequest) (*models.Payment, error) {
	return s.recordGeneric(ctx, actor, req, s.cfg.GenericIncomeAutoConfirm)
}

func (s *PaymentService) recordGeneric(ctx context.Context, actor models.Actor, req models.GenericIncomeRequest, confirm bool) (*models.Payment, error) {
	if err := authorize(s.authz, actor, models.ActionRegisterPayment, models.ResourcePayment); err != nil {
		return nil, err
	}
	if confirm {
		if err := authorize(s.authz, actor, models.ActionConfirmPayment, models.ResourcePayment); err != nil {
			return nil, err
		}
	}
	if err := s.validatePayment(req, req.Amount, req.Method); err != nil {
		return nil, err
	}

	now := s.now()
	payment := &models.Payment{
		ID:             uuid.NewString(),
		Kind:           models.PaymentKindGenericIncome,
		Amount:         money.Round(req.Amount),
		Method:         req.Method,
		Concept:        strings.TrimSpace(req.Concept),
		Status:         models.PaymentStatusPending,
		ReceiptNumber:  req.ReceiptNumber,
		TransactionRef: req.TransactionRef,
		PaidOn:         paidOn(req.PaidOn, now),
		CreatedBy:      actor.ID,
		CreatedAt:      now,
	}
	err := s.store.WithinTx(ctx, func(tx repository.LedgerTx) error {
		if !confirm {
			return tx.InsertPayment(ctx, payment)
		}
		return s.confirmGeneric(ctx, tx, actor, payment, true)
	})
	if err != nil {
		return nil, storeError(err, "", "failed to record income")
	}

	if confirm {
		s.afterGeneric(ctx, actor, payment)
	} else {
		s.audit.emit(ctx, actor, models.AuditActionCreate, models.ResourcePayment, payment.ID, nil, payment)
	}
	return payment, nil
}

func (s *PaymentService) confirmGeneric(ctx context.Context, tx repository.LedgerTx, actor models.Actor, payment *models.Payment, insert bool) error {
	now := s.now()
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
	if s.cash == nil {
		return nil
	}
	return s.cash.HandlePaymentConfirmed(ctx, tx, models.PaymentConfirmedEvent{
		PaymentID: payment.ID,
		Amount:    payment.Amount,
		Method:    payment.Method,
		Kind:      payment.Kind,
		Concept:   payment.Concept,
		On:        payment.PaidOn,
		ActorID:   actor.ID,
	})
}

func (s *PaymentService) afterGeneric(ctx context.Context, actor models.Actor, payment *models.Payment) {
	s.metrics.RecordPayment(string(payment.Kind), string(payment.Method), payment.Amount)
	s.audit.emit(ctx, actor, models.AuditActionConfirm, models.ResourcePayment, payment.ID, nil, payment)
	s.logger.Info("income confirmed", zap.String("payment_id", payment.ID), zap.String("amount", payment.Amount.StringFixed(2)))
}

// Void annuls a payment. Enrollment payments go through the ledger; generic income is
// voidable once its cash movement has been reversed.
func (s *PaymentService) Void(ctx context.Context, actor models.Actor, id string, req models.VoidPaymentRequest) (*models.Payment, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !existing.Generic() {
		receipt, err := s.ledger.VoidPayment(ctx, actor, id, req)
		if err != nil {
			return nil, err
		}
		return &receipt.Payment, nil
	}

	if err := authorize(s.authz, actor, models.ActionVoidPayment, models.ResourcePayment); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid void payload")
	}

	var payment *models.Payment
	err = s.store.WithinTx(ctx, func(tx repository.LedgerTx) error {
		var err error
		if payment, err = tx.LockPayment(ctx, id); err != nil {
			return err
		}
		if payment.Status == models.PaymentStatusVoided {
			return appErrors.Clone(appErrors.ErrVoidNotAllowed, "payment is already voided")
		}
		if payment.Status == models.PaymentStatusConfirmed {
			if err := ensureNotInvoiced(ctx, tx, payment.ID); err != nil {
				return err
			}
			movement, err := tx.ActiveMovementForPayment(ctx, payment.ID)
			if err != nil {
				return err
			}
			if movement != nil {
				return appErrors.WithDetails(appErrors.ErrVoidNotAllowed, "payment has a posted cash movement",
					[]string{"reverse cash movement " + movement.ID + " before voiding the payment"})
			}
		}
		markVoided(payment, actor, req.Reason, s.now())
		return tx.UpdatePayment(ctx, payment)
	})
	if err != nil {
		return nil, storeError(err, "payment not found", "failed to void payment")
	}

	s.metrics.RecordVoid()
	s.audit.emit(ctx, actor, models.AuditActionVoid, models.ResourcePayment, id, nil, map[string]string{"reason": req.Reason})
	return payment, nil
}

func (s *PaymentService) validatePayment(req interface{}, amount decimal.Decimal, method models.PaymentMethod) error {
	if err := s.validator.Struct(req); err != nil {
		return validationError(err, "invalid payment payload")
	}
	var v validation.Violations
	v.Merge(validation.PositiveAmount(amount, paymentLimit(s.cfg.MaxPaymentAmount)).Prefix("amount"))
	if !method.Valid() {
		v.Add("unknown payment method %q", method)
	}
	return v.Err("invalid payment")
}

func describeEnrollmentPayment(enrollment *models.Enrollment, installment *int) (models.PaymentKind, string) {
	switch {
	case installment != nil:
		return models.PaymentKindInstallment, fmt.Sprintf("Installment %d - Enrollment %s", *installment, enrollment.ID)
	case enrollment.Modality == models.ModalityCash:
		return models.PaymentKindCash, "Cash payment - Enrollment " + enrollment.ID
	default:
		return models.PaymentKindInstallment, "Payment - Enrollment " + enrollment.ID
	}
}
