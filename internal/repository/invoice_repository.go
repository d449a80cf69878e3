package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/edu-billing-api/internal/models"
)

const insertInvoiceQuery = `INSERT INTO invoices (` + invoiceColumns + `) VALUES (:id, :number, :payment_id, :issued_on, :document_type, :tax_id,
    :business_name, :subtotal, :vat, :transaction_tax, :total, :concept, :state, :created_by, :voided_by, :voided_at, :created_at)`

// InvoiceTotalsRow is the aggregate of the non-voided invoices of a period.
type InvoiceTotalsRow struct {
	Count          int             `db:"count"`
	Subtotal       decimal.Decimal `db:"subtotal"`
	VAT            decimal.Decimal `db:"vat"`
	TransactionTax decimal.Decimal `db:"transaction_tax"`
	Total          decimal.Decimal `db:"total"`
	First          sql.NullTime    `db:"first_issued_on"`
	Last           sql.NullTime    `db:"last_issued_on"`
}

// InvoiceRepository reads invoices. Issuing and voiding go through LedgerTx.
type InvoiceRepository struct {
	db *sqlx.DB
}

// NewInvoiceRepository creates a new instance of InvoiceRepository.
func NewInvoiceRepository(db *sqlx.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

// FindByID returns an invoice by id.
func (r *InvoiceRepository) FindByID(ctx context.Context, id string) (*models.Invoice, error) {
	var invoice models.Invoice
	if err := r.db.GetContext(ctx, &invoice, r.db.Rebind(`SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`), id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find invoice: %w", err)
	}
	return &invoice, nil
}

// List returns invoices matching the filter, newest first, and the total count.
func (r *InvoiceRepository) List(ctx context.Context, filter models.InvoiceFilter) ([]models.Invoice, int, error) {
	where, args := invoiceConditions(filter)

	_, size, offset := models.Page(filter.Page, filter.PageSize)
	query := r.db.Rebind(fmt.Sprintf("SELECT %s FROM invoices%s ORDER BY issued_on DESC, number DESC LIMIT %d OFFSET %d", invoiceColumns, where, size, offset))
	var invoices []models.Invoice
	if err := r.db.SelectContext(ctx, &invoices, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list invoices: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, r.db.Rebind("SELECT COUNT(*) FROM invoices"+where), args...); err != nil {
		return nil, 0, fmt.Errorf("count invoices: %w", err)
	}
	return invoices, total, nil
}

// Totals sums the invoices issued in [from, to] that are not voided.
func (r *InvoiceRepository) Totals(ctx context.Context, from, to time.Time) (*InvoiceTotalsRow, error) {
	const query = `SELECT COUNT(*) AS count,
        COALESCE(SUM(subtotal), 0) AS subtotal,
        COALESCE(SUM(vat), 0) AS vat,
        COALESCE(SUM(transaction_tax), 0) AS transaction_tax,
        COALESCE(SUM(total), 0) AS total,
        MIN(issued_on) AS first_issued_on,
        MAX(issued_on) AS last_issued_on
        FROM invoices WHERE issued_on >= ? AND issued_on <= ? AND state <> ?`
	var row InvoiceTotalsRow
	if err := r.db.GetContext(ctx, &row, r.db.Rebind(query), from, to, models.InvoiceVoided); err != nil {
		return nil, fmt.Errorf("sum invoices: %w", err)
	}
	return &row, nil
}

// GroupTotals counts and sums every invoice issued in [from, to] grouped by column,
// which must be "state" or "document_type".
func (r *InvoiceRepository) GroupTotals(ctx context.Context, from, to time.Time, column string) ([]models.InvoiceGroup, error) {
	if column != "state" && column != "document_type" {
		return nil, fmt.Errorf("group invoices: unsupported grouping %q", column)
	}
	query := r.db.Rebind(fmt.Sprintf(`SELECT %[1]s AS key, COUNT(*) AS count, COALESCE(SUM(total), 0) AS total FROM invoices
        WHERE issued_on >= ? AND issued_on <= ? GROUP BY %[1]s ORDER BY total DESC`, column))
	var rows []models.InvoiceGroup
	if err := r.db.SelectContext(ctx, &rows, query, from, to); err != nil {
		return nil, fmt.Errorf("group invoices by %s: %w", column, err)
	}
	return rows, nil
}

func invoiceConditions(filter models.InvoiceFilter) (string, []interface{}) {
	var (
		conditions []string
		args       []interface{}
	)
	if filter.From != nil {
		conditions = append(conditions, "issued_on >= ?")
		args = append(args, models.DateOf(*filter.From))
	}
	if filter.To != nil {
		conditions = append(conditions, "issued_on <= ?")
		args = append(args, models.DateOf(*filter.To))
	}
	if filter.State != nil {
		conditions = append(conditions, "state = ?")
		args = append(args, *filter.State)
	}
	if filter.DocumentType != nil {
		conditions = append(conditions, "document_type = ?")
		args = append(args, *filter.DocumentType)
	}
	if filter.TaxID != "" {
		conditions = append(conditions, "tax_id = ?")
		args = append(args, strings.TrimSpace(filter.TaxID))
	}
	if filter.BusinessName != "" {
		conditions = append(conditions, "LOWER(business_name) LIKE ?")
		args = append(args, "%"+strings.ToLower(strings.TrimSpace(filter.BusinessName))+"%")
	}
	if filter.PaymentID != "" {
		conditions = append(conditions, "payment_id = ?")
		args = append(args, filter.PaymentID)
	}
	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}
