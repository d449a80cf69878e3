package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/edu-billing-api/internal/models"
)

const insertPaymentQuery = `INSERT INTO payments (` + paymentColumns + `) VALUES (:id, :enrollment_id, :kind, :installment_number, :amount, :method,
    :concept, :status, :receipt_number, :transaction_ref, :paid_on, :created_by, :confirmed_by, :confirmed_at, :voided_by, :voided_at,
    :void_reason, :created_at)`

// PaymentRepository provides read access to payments.
type PaymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository creates a new instance of PaymentRepository.
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// FindByID returns a payment by id.
func (r *PaymentRepository) FindByID(ctx context.Context, id string) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.GetContext(ctx, &payment, r.db.Rebind(`SELECT `+paymentColumns+` FROM payments WHERE id = ?`), id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find payment: %w", err)
	}
	return &payment, nil
}

// List returns payments matching the filter and the total count.
func (r *PaymentRepository) List(ctx context.Context, filter models.PaymentFilter) ([]models.Payment, int, error) {
	where, args := paymentConditions(filter)

	_, size, offset := models.Page(filter.Page, filter.PageSize)
	query := r.db.Rebind(fmt.Sprintf("SELECT %s FROM payments%s ORDER BY paid_on DESC, created_at DESC LIMIT %d OFFSET %d", paymentColumns, where, size, offset))
	var payments []models.Payment
	if err := r.db.SelectContext(ctx, &payments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list payments: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, r.db.Rebind("SELECT COUNT(*) FROM payments"+where), args...); err != nil {
		return nil, 0, fmt.Errorf("count payments: %w", err)
	}
	return payments, total, nil
}

// ListBetween returns every payment dated in [from, to] without paging.
func (r *PaymentRepository) ListBetween(ctx context.Context, from, to time.Time) ([]models.Payment, error) {
	where, args := paymentConditions(models.PaymentFilter{From: &from, To: &to})
	var payments []models.Payment
	query := r.db.Rebind("SELECT " + paymentColumns + " FROM payments" + where + " ORDER BY paid_on, created_at")
	if err := r.db.SelectContext(ctx, &payments, query, args...); err != nil {
		return nil, fmt.Errorf("list payments between: %w", err)
	}
	return payments, nil
}

// ConfirmedIncome sums confirmed payments in [from, to] grouped by column, which must be
// "kind" or "method".
func (r *PaymentRepository) ConfirmedIncome(ctx context.Context, from, to time.Time, column string) ([]models.IncomeBreakdown, error) {
	if column != "kind" && column != "method" {
		return nil, fmt.Errorf("confirmed income: unsupported grouping %q", column)
	}
	query := r.db.Rebind(fmt.Sprintf(`SELECT %[1]s AS key, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS amount FROM payments
        WHERE status = ? AND paid_on >= ? AND paid_on <= ? GROUP BY %[1]s ORDER BY %[1]s`, column))
	var rows []models.IncomeBreakdown
	if err := r.db.SelectContext(ctx, &rows, query, models.PaymentStatusConfirmed, from, to); err != nil {
		return nil, fmt.Errorf("sum confirmed income by %s: %w", column, err)
	}
	return rows, nil
}

// CountByStatus counts payments in [from, to] per status.
func (r *PaymentRepository) CountByStatus(ctx context.Context, from, to time.Time) (map[models.PaymentStatus]int, error) {
	var rows []struct {
		Status models.PaymentStatus `db:"status"`
		Count  int                  `db:"count"`
	}
	query := r.db.Rebind(`SELECT status, COUNT(*) AS count FROM payments WHERE paid_on >= ? AND paid_on <= ? GROUP BY status`)
	if err := r.db.SelectContext(ctx, &rows, query, from, to); err != nil {
		return nil, fmt.Errorf("count payments by status: %w", err)
	}
	counts := make(map[models.PaymentStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func paymentConditions(filter models.PaymentFilter) (string, []interface{}) {
	var (
		conditions []string
		args       []interface{}
	)
	if filter.EnrollmentID != "" {
		conditions = append(conditions, "enrollment_id = ?")
		args = append(args, filter.EnrollmentID)
	}
	if filter.Kind != nil {
		conditions = append(conditions, "kind = ?")
		args = append(args, *filter.Kind)
	}
	if filter.Status != nil {
		conditions = append(conditions, "status = ?")
		args = append(args, *filter.Status)
	}
	if filter.From != nil {
		conditions = append(conditions, "paid_on >= ?")
		args = append(args, models.DateOf(*filter.From))
	}
	if filter.To != nil {
		conditions = append(conditions, "paid_on <= ?")
		args = append(args, models.DateOf(*filter.To))
	}
	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}
