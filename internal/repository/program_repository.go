package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/edu-billing-api/internal/models"
)

const updateProgramQuery = `UPDATE programs SET name = :name, description = :description, duration_weeks = :duration_weeks, hours = :hours,
    base_cost = :base_cost, registration_fee = :registration_fee, enrollment_fee = :enrollment_fee, total_seats = :total_seats,
    available_seats = :available_seats, cash_discount_pct = :cash_discount_pct, promotion_active = :promotion_active,
    promotion_pct = :promotion_pct, promotion_description = :promotion_description, promotion_expires_on = :promotion_expires_on,
    state = :state, start_date = :start_date, end_date = :end_date, tutor_id = :tutor_id, started_at = :started_at,
    concluded_at = :concluded_at, cancelled_at = :cancelled_at, updated_at = :updated_at
    WHERE id = :id`

// ProgramRepository reads and creates catalog programs. Changes to existing programs go
// through LedgerTx so seat counts are updated under lock.
type ProgramRepository struct {
	db *sqlx.DB
}

// NewProgramRepository creates a new instance of ProgramRepository.
func NewProgramRepository(db *sqlx.DB) *ProgramRepository {
	return &ProgramRepository{db: db}
}

// List returns programs matching the filter and the total count.
func (r *ProgramRepository) List(ctx context.Context, filter models.ProgramFilter) ([]models.Program, int, error) {
	var (
		conditions []string
		args       []interface{}
	)
	if filter.State != nil {
		conditions = append(conditions, "state = ?")
		args = append(args, *filter.State)
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		conditions = append(conditions, "(LOWER(name) LIKE ? OR LOWER(code) LIKE ?)")
		like := "%" + strings.ToLower(s) + "%"
		args = append(args, like, like)
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	_, size, offset := models.Page(filter.Page, filter.PageSize)
	query := r.db.Rebind(fmt.Sprintf("SELECT %s FROM programs%s ORDER BY created_at DESC LIMIT %d OFFSET %d", programColumns, where, size, offset))
	var programs []models.Program
	if err := r.db.SelectContext(ctx, &programs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list programs: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, r.db.Rebind("SELECT COUNT(*) FROM programs"+where), args...); err != nil {
		return nil, 0, fmt.Errorf("count programs: %w", err)
	}
	return programs, total, nil
}

// FindByID returns a program by id.
func (r *ProgramRepository) FindByID(ctx context.Context, id string) (*models.Program, error) {
	var program models.Program
	query := r.db.Rebind(`SELECT ` + programColumns + ` FROM programs WHERE id = ?`)
	if err := r.db.GetContext(ctx, &program, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find program: %w", err)
	}
	return &program, nil
}

// ExistsByCode reports whether a program already uses the code.
func (r *ProgramRepository) ExistsByCode(ctx context.Context, code string) (bool, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, r.db.Rebind(`SELECT COUNT(*) FROM programs WHERE code = ?`), code); err != nil {
		return false, fmt.Errorf("check program code: %w", err)
	}
	return count > 0, nil
}

// Create inserts a new program.
func (r *ProgramRepository) Create(ctx context.Context, program *models.Program) error {
	if program.ID == "" {
		program.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if program.CreatedAt.IsZero() {
		program.CreatedAt = now
	}
	program.UpdatedAt = now

	const query = `INSERT INTO programs (` + programColumns + `) VALUES (:id, :code, :name, :description, :duration_weeks, :hours, :base_cost,
        :registration_fee, :enrollment_fee, :total_seats, :available_seats, :cash_discount_pct, :promotion_active, :promotion_pct,
        :promotion_description, :promotion_expires_on, :state, :start_date, :end_date, :tutor_id, :started_at, :concluded_at,
        :cancelled_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, program); err != nil {
		return classify("create program", err)
	}
	return nil
}

// Statistics aggregates the enrollments of a program.
func (r *ProgramRepository) Statistics(ctx context.Context, programID string) (*ProgramAggregates, error) {
	agg := &ProgramAggregates{
		ByAcademicState: map[models.AcademicState]int{},
		ByPaymentState:  map[models.PaymentState]int{},
	}

	var rows []struct {
		AcademicState models.AcademicState `db:"academic_state"`
		PaymentState  models.PaymentState  `db:"payment_state"`
		Count         int                  `db:"count"`
	}
	query := r.db.Rebind(`SELECT academic_state, payment_state, COUNT(*) AS count FROM enrollments WHERE program_id = ? GROUP BY academic_state, payment_state`)
	if err := r.db.SelectContext(ctx, &rows, query, programID); err != nil {
		return nil, fmt.Errorf("count program enrollments: %w", err)
	}
	for _, row := range rows {
		agg.ByAcademicState[row.AcademicState] += row.Count
		agg.ByPaymentState[row.PaymentState] += row.Count
	}

	totals := r.db.Rebind(`SELECT COALESCE(SUM(final_amount), 0) AS potential, COALESCE(SUM(paid_amount), 0) AS collected
        FROM enrollments WHERE program_id = ? AND payment_state <> ?`)
	if err := r.db.GetContext(ctx, &agg.Totals, totals, programID, models.PaymentCancelled); err != nil {
		return nil, fmt.Errorf("sum program income: %w", err)
	}
	return agg, nil
}

// ProgramAggregates holds raw per-program figures.
type ProgramAggregates struct {
	ByAcademicState map[models.AcademicState]int
	ByPaymentState  map[models.PaymentState]int
	Totals          struct {
		Potential decimal.Decimal `db:"potential"`
		Collected decimal.Decimal `db:"collected"`
	}
}
