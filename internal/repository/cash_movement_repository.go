package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/edu-billing-api/internal/models"
)

const insertMovementQuery = `INSERT INTO cash_movements (` + movementColumns + `) VALUES (:id, :type, :amount, :description, :reference_type,
    :reference_id, :movement_date, :created_by, :reversed_by, :created_at)`

// CashMovementRepository reads the cash desk journal. Movements are only ever written
// through LedgerTx.
type CashMovementRepository struct {
	db *sqlx.DB
}

// NewCashMovementRepository creates a new instance of CashMovementRepository.
func NewCashMovementRepository(db *sqlx.DB) *CashMovementRepository {
	return &CashMovementRepository{db: db}
}

// FindByID returns a movement by id.
func (r *CashMovementRepository) FindByID(ctx context.Context, id string) (*models.CashMovement, error) {
	var movement models.CashMovement
	if err := r.db.GetContext(ctx, &movement, r.db.Rebind(`SELECT `+movementColumns+` FROM cash_movements WHERE id = ?`), id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find cash movement: %w", err)
	}
	return &movement, nil
}

// ListBetween returns movements dated in [from, to] in journal order.
func (r *CashMovementRepository) ListBetween(ctx context.Context, from, to time.Time) ([]models.CashMovement, error) {
	query := r.db.Rebind(`SELECT ` + movementColumns + ` FROM cash_movements WHERE movement_date >= ? AND movement_date <= ? ORDER BY movement_date, created_at`)
	var movements []models.CashMovement
	if err := r.db.SelectContext(ctx, &movements, query, from, to); err != nil {
		return nil, fmt.Errorf("list cash movements: %w", err)
	}
	return movements, nil
}

// ListByReference returns the movements originated by a payment or expense.
func (r *CashMovementRepository) ListByReference(ctx context.Context, referenceID string) ([]models.CashMovement, error) {
	query := r.db.Rebind(`SELECT ` + movementColumns + ` FROM cash_movements WHERE reference_id = ? ORDER BY created_at`)
	var movements []models.CashMovement
	if err := r.db.SelectContext(ctx, &movements, query, referenceID); err != nil {
		return nil, fmt.Errorf("list cash movements by reference: %w", err)
	}
	return movements, nil
}

// Totals sums inflows and outflows dated in [from, to]. A nil from starts at the first
// movement.
func (r *CashMovementRepository) Totals(ctx context.Context, from *time.Time, to time.Time) (inflows, outflows decimal.Decimal, count int, err error) {
	query := `SELECT
        COALESCE(SUM(CASE WHEN type = ? THEN amount ELSE 0 END), 0) AS inflows,
        COALESCE(SUM(CASE WHEN type = ? THEN amount ELSE 0 END), 0) AS outflows,
        COUNT(*) AS count
        FROM cash_movements WHERE movement_date <= ?`
	args := []interface{}{models.MovementInflow, models.MovementOutflow, to}
	if from != nil {
		query += " AND movement_date >= ?"
		args = append(args, *from)
	}

	var row struct {
		Inflows  decimal.Decimal `db:"inflows"`
		Outflows decimal.Decimal `db:"outflows"`
		Count    int             `db:"count"`
	}
	if err = r.db.GetContext(ctx, &row, r.db.Rebind(query), args...); err != nil {
		return decimal.Zero, decimal.Zero, 0, fmt.Errorf("sum cash movements: %w", err)
	}
	return row.Inflows, row.Outflows, row.Count, nil
}
