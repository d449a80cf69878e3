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

const insertEnrollmentQuery = `INSERT INTO enrollments (` + enrollmentColumns + `) VALUES (:id, :student_id, :program_id, :modality, :plan_id,
    :total_amount, :discount_amount, :final_amount, :paid_amount, :payment_state, :academic_state, :enrolled_on, :start_date,
    :completion_date, :coordinator_id, :observations, :version, :created_at, :updated_at)`

// EnrollmentRepository provides read access to enrollments and their installments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository creates a new instance of EnrollmentRepository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// FindByID returns an enrollment by id.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	var enrollment models.Enrollment
	query := r.db.Rebind(`SELECT ` + enrollmentColumns + ` FROM enrollments WHERE id = ?`)
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find enrollment: %w", err)
	}
	return &enrollment, nil
}

// List returns enrollments matching the filter and the total count.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error) {
	var (
		conditions []string
		args       []interface{}
	)
	if filter.StudentID != "" {
		conditions = append(conditions, "student_id = ?")
		args = append(args, filter.StudentID)
	}
	if filter.ProgramID != "" {
		conditions = append(conditions, "program_id = ?")
		args = append(args, filter.ProgramID)
	}
	if filter.PaymentState != nil {
		conditions = append(conditions, "payment_state = ?")
		args = append(args, *filter.PaymentState)
	}
	if filter.AcademicState != nil {
		conditions = append(conditions, "academic_state = ?")
		args = append(args, *filter.AcademicState)
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	_, size, offset := models.Page(filter.Page, filter.PageSize)
	query := r.db.Rebind(fmt.Sprintf("SELECT %s FROM enrollments%s ORDER BY enrolled_on DESC, created_at DESC LIMIT %d OFFSET %d", enrollmentColumns, where, size, offset))
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, r.db.Rebind("SELECT COUNT(*) FROM enrollments"+where), args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// ListBetween returns the enrollments registered in [from, to], optionally for one program.
func (r *EnrollmentRepository) ListBetween(ctx context.Context, from, to time.Time, programID string) ([]models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE enrolled_on >= ? AND enrolled_on <= ?`
	args := []interface{}{from, to}
	if programID != "" {
		query += " AND program_id = ?"
		args = append(args, programID)
	}
	query += " ORDER BY enrolled_on, created_at"

	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list enrollments between: %w", err)
	}
	return enrollments, nil
}

// ListInstallments returns the schedule of an enrollment.
func (r *EnrollmentRepository) ListInstallments(ctx context.Context, enrollmentID string) ([]models.Installment, error) {
	var installments []models.Installment
	query := r.db.Rebind(`SELECT ` + installmentColumns + ` FROM installments WHERE enrollment_id = ? ORDER BY number`)
	if err := r.db.SelectContext(ctx, &installments, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("list installments: %w", err)
	}
	return installments, nil
}

// OverdueResult reports what a sweep changed.
type OverdueResult struct {
	Installments int64
	Enrollments  int64
}

// MarkOverdue flags PENDING installments due before today as OVERDUE and moves open
// enrollments holding an overdue installment to DELINQUENT, in one transaction. Touched
// enrollments are stamped with at.
func (r *EnrollmentRepository) MarkOverdue(ctx context.Context, today, at time.Time) (result OverdueResult, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return result, classify("begin overdue sweep", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE installments SET state = ? WHERE state = ? AND due_date < ?`),
		models.InstallmentOverdue, models.InstallmentPending, today)
	if err != nil {
		return result, classify("mark installments overdue", err)
	}
	if result.Installments, err = res.RowsAffected(); err != nil {
		return result, classify("mark installments overdue", err)
	}

	res, err = tx.ExecContext(ctx, tx.Rebind(`UPDATE enrollments SET payment_state = ?, version = version + 1, updated_at = ?
        WHERE payment_state IN (?, ?) AND id IN (SELECT enrollment_id FROM installments WHERE state = ?)`),
		models.PaymentDelinquent, at, models.PaymentPending, models.PaymentPartial, models.InstallmentOverdue)
	if err != nil {
		return result, classify("mark enrollments delinquent", err)
	}
	if result.Enrollments, err = res.RowsAffected(); err != nil {
		return result, classify("mark enrollments delinquent", err)
	}

	if err = tx.Commit(); err != nil {
		return result, classify("commit overdue sweep", err)
	}
	return result, nil
}
