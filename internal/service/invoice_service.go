package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
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

type invoiceRepository interface {
	FindByID(ctx context.Context, id string) (*models.Invoice, error)
	List(ctx context.Context, filter models.InvoiceFilter) ([]models.Invoice, int, error)
	Totals(ctx context.Context, from, to time.Time) (*repository.InvoiceTotalsRow, error)
	GroupTotals(ctx context.Context, from, to time.Time, column string) ([]models.InvoiceGroup, error)
}

// InvoiceConfig controls numbering and tax rates.
type InvoiceConfig struct {
	Prefix             string
	SequenceLength     int
	VATRate            decimal.Decimal
	TransactionTaxRate decimal.Decimal
}

// InvoiceService issues tax invoices for confirmed payments. An issued invoice is never
// edited; it can only be voided.
type InvoiceService struct {
	repo      invoiceRepository
	store     ledgerStore
	authz     Authorizer
	audit     auditTrail
	validator *validator.Validate
	logger    *zap.Logger
	cfg       InvoiceConfig
	now       func() time.Time
}

// NewInvoiceService constructs InvoiceService.
func NewInvoiceService(repo invoiceRepository, store ledgerStore, authz Authorizer, audit auditLogger, validate *validator.Validate, logger *zap.Logger, cfg InvoiceConfig) *InvoiceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "FAC-"
	}
	if cfg.SequenceLength < 1 {
		cfg.SequenceLength = 6
	}
	return &InvoiceService{
		repo:      repo,
		store:     store,
		authz:     authz,
		audit:     auditTrail{repo: audit, logger: logger},
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Get returns an invoice by id.
func (s *InvoiceService) Get(ctx context.Context, id string) (*models.Invoice, error) {
	invoice, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, storeError(err, "invoice not found", "failed to load invoice")
	}
	return invoice, nil
}

// List searches invoices by issue date, customer and state.
func (s *InvoiceService) List(ctx context.Context, filter models.InvoiceFilter) ([]models.Invoice, *models.Pagination, error) {
	if err := validation.DateRange(filter.From, filter.To).Err("invalid invoice filter"); err != nil {
		return nil, nil, err
	}
	invoices, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, storeError(err, "", "failed to list invoices")
	}
	page, size, _ := models.Page(filter.Page, filter.PageSize)
	return invoices, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Issue bills a confirmed payment. The invoice total is the payment amount with the
// requested taxes included; a payment carries at most one ISSUED invoice.
func (s *InvoiceService) Issue(ctx context.Context, actor models.Actor, req models.IssueInvoiceRequest) (*models.Invoice, error) {
	if err := authorize(s.authz, actor, models.ActionIssueInvoice, models.ResourceInvoice); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid invoice payload")
	}
	if err := validation.InvoiceCustomer(req.DocumentType, req.TaxID, req.BusinessName).Err("invalid invoice"); err != nil {
		return nil, err
	}

	applyVAT := req.ApplyVAT == nil || *req.ApplyVAT
	now := s.now()
	issuedOn := models.DateOf(now)
	if req.IssuedOn != nil {
		issuedOn = models.DateOf(*req.IssuedOn)
	}

	invoice := &models.Invoice{
		ID:           uuid.NewString(),
		PaymentID:    &req.PaymentID,
		IssuedOn:     issuedOn,
		DocumentType: req.DocumentType,
		TaxID:        trimmedOrNil(req.TaxID),
		BusinessName: strings.TrimSpace(req.BusinessName),
		State:        models.InvoiceIssued,
		CreatedBy:    actor.ID,
		CreatedAt:    now,
	}
	err := s.store.WithinTx(ctx, func(tx repository.LedgerTx) error {
		payment, err := tx.LockPayment(ctx, req.PaymentID)
		if err != nil {
			return err
		}
		if payment.Status != models.PaymentStatusConfirmed {
			return appErrors.Clone(appErrors.ErrInvalidStateTransition, "only confirmed payments can be invoiced, payment is "+string(payment.Status))
		}
		if issuedOn.Before(models.DateOf(payment.PaidOn)) {
			return appErrors.Clone(appErrors.ErrValidation, "invoice cannot be issued before the payment date")
		}
		existing, err := tx.ActiveInvoiceForPayment(ctx, payment.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return appErrors.WithDetails(appErrors.ErrConflict, "payment is already invoiced",
				[]string{"void invoice " + existing.Number + " before issuing a new one"})
		}

		totals := SplitInvoiceTotal(payment.Amount, applyVAT, req.ApplyTransactionTax, s.cfg)
		if err := validation.InvoiceTotals(totals).Err("invalid invoice totals"); err != nil {
			return err
		}
		invoice.Subtotal, invoice.VAT, invoice.TransactionTax, invoice.Total = totals.Subtotal, totals.VAT, totals.TransactionTax, totals.Total

		invoice.Concept = payment.Concept
		if req.Concept != nil && strings.TrimSpace(*req.Concept) != "" {
			invoice.Concept = strings.TrimSpace(*req.Concept)
		}

		last, err := tx.LastInvoiceNumber(ctx, s.cfg.Prefix)
		if err != nil {
			return err
		}
		if invoice.Number, err = NextInvoiceNumber(last, s.cfg.Prefix, s.cfg.SequenceLength); err != nil {
			return err
		}
		return tx.InsertInvoice(ctx, invoice)
	})
	if errors.Is(err, repository.ErrDuplicate) {
		// Another invoice took the number or the payment first; a retry reads it.
		err = fmt.Errorf("issue invoice: %w", repository.ErrConcurrentModification)
	}
	if err != nil {
		return nil, storeError(err, "payment not found", "failed to issue invoice")
	}

	s.audit.emit(ctx, actor, models.AuditActionCreate, models.ResourceInvoice, invoice.ID, nil, invoice)
	s.logger.Info("invoice issued",
		zap.String("invoice_id", invoice.ID),
		zap.String("number", invoice.Number),
		zap.String("payment_id", req.PaymentID),
		zap.String("total", invoice.Total.StringFixed(2)),
	)
	return invoice, nil
}

// Void annuls an ISSUED invoice and appends the reason to its concept.
func (s *InvoiceService) Void(ctx context.Context, actor models.Actor, id string, req models.VoidInvoiceRequest) (*models.Invoice, error) {
	if err := authorize(s.authz, actor, models.ActionVoidInvoice, models.ResourceInvoice); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid void payload")
	}

	var invoice *models.Invoice
	err := s.store.WithinTx(ctx, func(tx repository.LedgerTx) error {
		var err error
		if invoice, err = tx.LockInvoice(ctx, id); err != nil {
			return err
		}
		if invoice.State == models.InvoiceVoided {
			return appErrors.Clone(appErrors.ErrVoidNotAllowed, "invoice is already voided")
		}
		now := s.now()
		invoice.State = models.InvoiceVoided
		invoice.Concept = fmt.Sprintf("%s [VOIDED: %s]", invoice.Concept, strings.TrimSpace(req.Reason))
		invoice.VoidedBy = &actor.ID
		invoice.VoidedAt = &now
		return tx.UpdateInvoice(ctx, invoice)
	})
	if err != nil {
		return nil, storeError(err, "invoice not found", "failed to void invoice")
	}

	s.audit.emit(ctx, actor, models.AuditActionVoid, models.ResourceInvoice, id, nil, map[string]string{"reason": req.Reason})
	s.logger.Info("invoice voided", zap.String("invoice_id", id), zap.String("number", invoice.Number))
	return invoice, nil
}

// Totals previews the taxes added on top of a subtotal.
func (s *InvoiceService) Totals(req models.InvoiceTotalsRequest) (*models.InvoiceTotals, error) {
	if err := validation.PositiveAmount(req.Subtotal, nil).Prefix("subtotal").Err("invalid subtotal"); err != nil {
		return nil, err
	}
	totals := CalculateInvoiceTotals(req.Subtotal, req.ApplyVAT, req.ApplyTransactionTax, s.cfg)
	return &totals, nil
}

// MonthlySummary aggregates the invoices of a month, or of the whole year when month
// is zero.
func (s *InvoiceService) MonthlySummary(ctx context.Context, year, month int) (*models.InvoiceSummary, error) {
	var v validation.Violations
	if year < 2000 || year > 9999 {
		v.Add("year must be between 2000 and 9999")
	}
	if month < 0 || month > 12 {
		v.Add("month must be between 1 and 12")
	}
	if err := v.Err("invalid summary period"); err != nil {
		return nil, err
	}

	from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(1, 0, -1)
	period := strconv.Itoa(year)
	if month > 0 {
		from = time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
		to = from.AddDate(0, 1, -1)
		period = fmt.Sprintf("%d-%02d", year, month)
	}

	totals, err := s.repo.Totals(ctx, from, to)
	if err != nil {
		return nil, storeError(err, "", "failed to summarize invoices")
	}
	byState, err := s.repo.GroupTotals(ctx, from, to, "state")
	if err != nil {
		return nil, storeError(err, "", "failed to summarize invoices")
	}
	byDocument, err := s.repo.GroupTotals(ctx, from, to, "document_type")
	if err != nil {
		return nil, storeError(err, "", "failed to summarize invoices")
	}

	summary := &models.InvoiceSummary{
		Period:         period,
		Count:          totals.Count,
		Subtotal:       totals.Subtotal,
		VAT:            totals.VAT,
		TransactionTax: totals.TransactionTax,
		Total:          totals.Total,
		Average:        money.Zero,
		ByState:        byState,
		ByDocumentType: byDocument,
	}
	if totals.Count > 0 {
		summary.Average = money.Round(totals.Total.Div(decimal.NewFromInt(int64(totals.Count))))
	}
	if totals.First.Valid {
		first := totals.First.Time
		summary.First = &first
	}
	if totals.Last.Valid {
		last := totals.Last.Time
		summary.Last = &last
	}
	return summary, nil
}

// NextInvoiceNumber returns the number following last, zero padded to width digits.
// An empty last starts the sequence at one.
func NextInvoiceNumber(last, prefix string, width int) (string, error) {
	next := 1
	if last != "" {
		seq, err := strconv.Atoi(strings.TrimPrefix(last, prefix))
		if err != nil || seq < 0 {
			return "", appErrors.Clone(appErrors.ErrBusinessRule, fmt.Sprintf("cannot continue the invoice sequence after %q", last))
		}
		next = seq + 1
	}
	return fmt.Sprintf("%s%0*d", prefix, width, next), nil
}

// CalculateInvoiceTotals adds the selected taxes on top of subtotal.
func CalculateInvoiceTotals(subtotal decimal.Decimal, applyVAT, applyTransactionTax bool, cfg InvoiceConfig) models.InvoiceTotals {
	subtotal = money.Round(subtotal)
	totals := models.InvoiceTotals{Subtotal: subtotal, VAT: money.Zero, TransactionTax: money.Zero}
	if applyVAT {
		totals.VAT = money.Round(subtotal.Mul(cfg.VATRate))
	}
	if applyTransactionTax {
		totals.TransactionTax = money.Round(subtotal.Mul(cfg.TransactionTaxRate))
	}
	totals.Total = subtotal.Add(totals.VAT).Add(totals.TransactionTax)
	return totals
}

// SplitInvoiceTotal breaks a tax-inclusive total into its subtotal and taxes. Taxes are
// rated on the total and the subtotal absorbs the rounding.
func SplitInvoiceTotal(total decimal.Decimal, applyVAT, applyTransactionTax bool, cfg InvoiceConfig) models.InvoiceTotals {
	total = money.Round(total)
	totals := models.InvoiceTotals{Total: total, VAT: money.Zero, TransactionTax: money.Zero}
	if applyVAT {
		totals.VAT = money.Round(total.Mul(cfg.VATRate))
	}
	if applyTransactionTax {
		totals.TransactionTax = money.Round(total.Mul(cfg.TransactionTaxRate))
	}
	totals.Subtotal = total.Sub(totals.VAT).Sub(totals.TransactionTax)
	return totals
}

func trimmedOrNil(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	if t == "" {
		return nil
	}
	return &t
}
