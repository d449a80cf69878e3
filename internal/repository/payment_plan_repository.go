package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/edu-billing-api/internal/models"
)

const planColumns = `id, program_id, name, description, installments, interval_days, active, created_at, updated_at`

// PaymentPlanRepository provides database access for payment plans.
type PaymentPlanRepository struct {
	db *sqlx.DB
}

// NewPaymentPlanRepository creates a new instance of PaymentPlanRepository.
func NewPaymentPlanRepository(db *sqlx.DB) *PaymentPlanRepository {
	return &PaymentPlanRepository{db: db}
}

// FindByID returns a plan by id.
func (r *PaymentPlanRepository) FindByID(ctx context.Context, id string) (*models.PaymentPlan, error) {
	var plan models.PaymentPlan
	if err := r.db.GetContext(ctx, &plan, r.db.Rebind(`SELECT `+planColumns+` FROM payment_plans WHERE id = ?`), id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find payment plan: %w", err)
	}
	return &plan, nil
}

// ListByProgram returns the plans of a program ordered by installment count.
func (r *PaymentPlanRepository) ListByProgram(ctx context.Context, programID string, activeOnly bool) ([]models.PaymentPlan, error) {
	query := `SELECT ` + planColumns + ` FROM payment_plans WHERE program_id = ?`
	args := []interface{}{programID}
	if activeOnly {
		query += " AND active = ?"
		args = append(args, true)
	}
	query += " ORDER BY installments, interval_days, name"

	var plans []models.PaymentPlan
	if err := r.db.SelectContext(ctx, &plans, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list payment plans: %w", err)
	}
	return plans, nil
}

// NameTaken reports whether another plan of the program uses the name, ignoring case.
// excludeID skips the plan being renamed.
func (r *PaymentPlanRepository) NameTaken(ctx context.Context, programID, name, excludeID string) (bool, error) {
	query := `SELECT COUNT(*) FROM payment_plans WHERE program_id = ? AND LOWER(name) = ?`
	args := []interface{}{programID, strings.ToLower(strings.TrimSpace(name))}
	if excludeID != "" {
		query += " AND id <> ?"
		args = append(args, excludeID)
	}
	var count int
	if err := r.db.GetContext(ctx, &count, r.db.Rebind(query), args...); err != nil {
		return false, fmt.Errorf("check payment plan name: %w", err)
	}
	return count > 0, nil
}

// CountEnrollments returns how many enrollments use the plan. With activeOnly only
// academically active enrollments are counted.
func (r *PaymentPlanRepository) CountEnrollments(ctx context.Context, planID string, activeOnly bool) (int, error) {
	query := `SELECT COUNT(*) FROM enrollments WHERE plan_id = ?`
	args := []interface{}{planID}
	if activeOnly {
		query += " AND academic_state IN (?, ?, ?) AND payment_state <> ?"
		for _, state := range models.ActiveAcademicStates {
			args = append(args, state)
		}
		args = append(args, models.PaymentCancelled)
	}
	var count int
	if err := r.db.GetContext(ctx, &count, r.db.Rebind(query), args...); err != nil {
		return 0, fmt.Errorf("count plan enrollments: %w", err)
	}
	return count, nil
}

// Create inserts a plan.
func (r *PaymentPlanRepository) Create(ctx context.Context, plan *models.PaymentPlan) error {
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	plan.CreatedAt = now
	plan.UpdatedAt = now

	const query = `INSERT INTO payment_plans (` + planColumns + `) VALUES (:id, :program_id, :name, :description, :installments, :interval_days, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, plan); err != nil {
		return classify("create payment plan", err)
	}
	return nil
}

// Update persists the editable plan fields.
func (r *PaymentPlanRepository) Update(ctx context.Context, plan *models.PaymentPlan) error {
	plan.UpdatedAt = time.Now().UTC()
	const query = `UPDATE payment_plans SET name = :name, description = :description, installments = :installments,
        interval_days = :interval_days, active = :active, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, plan); err != nil {
		return classify("update payment plan", err)
	}
	return nil
}
