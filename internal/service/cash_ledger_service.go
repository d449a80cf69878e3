package service

import (
	"context"
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

type cashMovementRepository interface {
	FindByID(ctx context.Context, id string) (*models.CashMovement, error)
	ListBetween(ctx context.Context, from, to time.Time) ([]models.CashMovement, error)
	Totals(ctx context.Context, from *time.Time, to time.Time) (decimal.Decimal, decimal.Decimal, int, error)
}

// CashLedgerService keeps the cash desk. Entries are immutable; corrections are posted
// as inverse movements.
type CashLedgerService struct {
	repo      cashMovementRepository
	store     ledgerStore
	authz     Authorizer
	audit     auditTrail
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewCashLedgerService constructs the cash ledger.
func NewCashLedgerService(repo cashMovementRepository, store ledgerStore, authz Authorizer, audit auditLogger, validate *validator.Validate, logger *zap.Logger) *CashLedgerService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CashLedgerService{
		repo:      repo,
		store:     store,
		authz:     authz,
		audit:     auditTrail{repo: audit, logger: logger},
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// HandlePaymentConfirmed posts the inflow of a confirmed payment using the caller's
// transaction.
func (s *CashLedgerService) HandlePaymentConfirmed(ctx context.Context, tx repository.LedgerTx, event models.PaymentConfirmedEvent) error {
	if !event.Amount.IsPositive() {
		return appErrors.Clone(appErrors.ErrBusinessRule, "cash movements require a positive amount")
	}
	reference := models.ReferencePayment
	if event.EnrollmentID == nil {
		reference = models.ReferenceGenericIncome
	}
	paymentID := event.PaymentID
	movement := &models.CashMovement{
		ID:            uuid.NewString(),
		Type:          models.MovementInflow,
		Amount:        money.Round(event.Amount),
		Description:   event.Concept,
		ReferenceType: reference,
		ReferenceID:   &paymentID,
		MovementDate:  models.DateOf(event.On),
		CreatedBy:     event.ActorID,
		CreatedAt:     s.now(),
	}
	if err := tx.InsertCashMovement(ctx, movement); err != nil {
		return err
	}
	s.logger.Debug("cash inflow posted", zap.String("movement_id", movement.ID), zap.String("payment_id", paymentID))
	return nil
}

// Reverse posts the inverse of a movement and links the two.
func (s *CashLedgerService) Reverse(ctx context.Context, actor models.Actor, movementID string, req models.ReverseMovementRequest) (*models.CashMovement, error) {
	if err := authorize(s.authz, actor, models.ActionManageCash, models.ResourceCashMovement); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid reversal payload")
	}

	var reversal *models.CashMovement
	err := s.store.WithinTx(ctx, func(tx repository.LedgerTx) error {
		original, err := tx.LockCashMovement(ctx, movementID)
		if err != nil {
			return err
		}
		if original.ReversedBy != nil {
			return appErrors.Clone(appErrors.ErrBusinessRule, "movement was already reversed")
		}
		if original.ReferenceType == models.ReferenceReversal {
			return appErrors.Clone(appErrors.ErrBusinessRule, "reversal entries cannot be reversed")
		}

		now := s.now()
		direction := models.MovementOutflow
		if original.Type == models.MovementOutflow {
			direction = models.MovementInflow
		}
		originalID := original.ID
		reversal = &models.CashMovement{
			ID:            uuid.NewString(),
			Type:          direction,
			Amount:        original.Amount,
			Description:   "Reversal of " + original.Description + ": " + strings.TrimSpace(req.Reason),
			ReferenceType: models.ReferenceReversal,
			ReferenceID:   &originalID,
			MovementDate:  models.DateOf(now),
			CreatedBy:     actor.ID,
			CreatedAt:     now,
		}
		if err := tx.InsertCashMovement(ctx, reversal); err != nil {
			return err
		}
		return tx.MarkMovementReversed(ctx, original.ID, reversal.ID)
	})
	if err != nil {
		return nil, storeError(err, "cash movement not found", "failed to reverse cash movement")
	}

	s.audit.emit(ctx, actor, models.AuditActionReverse, models.ResourceCashMovement, movementID, nil, reversal)
	s.logger.Info("cash movement reversed", zap.String("movement_id", movementID), zap.String("reversal_id", reversal.ID))
	return reversal, nil
}

// RecordExpense posts an outflow.
func (s *CashLedgerService) RecordExpense(ctx context.Context, actor models.Actor, req models.ExpenseRequest) (*models.CashMovement, error) {
	if err := authorize(s.authz, actor, models.ActionManageCash, models.ResourceCashMovement); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid expense payload")
	}
	if err := validation.PositiveAmount(req.Amount, nil).Prefix("amount").Err("invalid expense"); err != nil {
		return nil, err
	}

	now := s.now()
	movement := &models.CashMovement{
		ID:            uuid.NewString(),
		Type:          models.MovementOutflow,
		Amount:        money.Round(req.Amount),
		Description:   strings.TrimSpace(req.Description),
		ReferenceType: models.ReferenceExpense,
		MovementDate:  models.DateOf(paidOn(req.On, now)),
		CreatedBy:     actor.ID,
		CreatedAt:     now,
	}
	err := s.store.WithinTx(ctx, func(tx repository.LedgerTx) error {
		return tx.InsertCashMovement(ctx, movement)
	})
	if err != nil {
		return nil, storeError(err, "", "failed to record expense")
	}
	s.audit.emit(ctx, actor, models.AuditActionCreate, models.ResourceCashMovement, movement.ID, nil, movement)
	return movement, nil
}

// Balance returns the cash on hand at the end of until.
func (s *CashLedgerService) Balance(ctx context.Context, until time.Time) (decimal.Decimal, error) {
	in, out, _, err := s.repo.Totals(ctx, nil, models.DateOf(until))
	if err != nil {
		return decimal.Zero, storeError(err, "", "failed to compute cash balance")
	}
	return money.Round(in.Sub(out)), nil
}

// Movements lists the movements dated within [from, to].
func (s *CashLedgerService) Movements(ctx context.Context, from, to time.Time) ([]models.CashMovement, error) {
	if err := validation.DateRange(&from, &to).Err("invalid period"); err != nil {
		return nil, err
	}
	movements, err := s.repo.ListBetween(ctx, models.DateOf(from), models.DateOf(to))
	if err != nil {
		return nil, storeError(err, "", "failed to list cash movements")
	}
	return movements, nil
}

// Summary aggregates the movements of [from, to] with opening and closing balances.
func (s *CashLedgerService) Summary(ctx context.Context, from, to time.Time) (*models.CashSummary, error) {
	from, to = models.DateOf(from), models.DateOf(to)
	if err := validation.DateRange(&from, &to).Err("invalid period"); err != nil {
		return nil, err
	}
	opening, err := s.Balance(ctx, from.AddDate(0, 0, -1))
	if err != nil {
		return nil, err
	}
	in, out, count, err := s.repo.Totals(ctx, &from, to)
	if err != nil {
		return nil, storeError(err, "", "failed to summarise cash movements")
	}
	net := money.Round(in.Sub(out))
	return &models.CashSummary{
		From:     from,
		To:       to,
		Inflows:  money.Round(in),
		Outflows: money.Round(out),
		Net:      net,
		Count:    count,
		Opening:  opening,
		Closing:  opening.Add(net),
	}, nil
}

// DailySummary is Summary for a single day.
func (s *CashLedgerService) DailySummary(ctx context.Context, day time.Time) (*models.CashSummary, error) {
	return s.Summary(ctx, day, day)
}
