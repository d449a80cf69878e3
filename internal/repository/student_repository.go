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

const studentColumns = `id, ci_number, ci_issuer, first_names, last_names, email, phone, birth_date, active, created_at, updated_at`

// StudentRepository manages persistence for student records.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// List returns students matching the provided filters.
func (r *StudentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	conditions := []string{"1=1"}
	var args []interface{}

	if filter.Active != nil {
		conditions = append(conditions, "active = ?")
		args = append(args, *filter.Active)
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		conditions = append(conditions, "(LOWER(first_names) LIKE ? OR LOWER(last_names) LIKE ? OR ci_number LIKE ?)")
		like := "%" + strings.ToLower(s) + "%"
		args = append(args, like, like, like)
	}
	where := " WHERE " + strings.Join(conditions, " AND ")

	_, size, offset := models.Page(filter.Page, filter.PageSize)
	query := r.db.Rebind(fmt.Sprintf("SELECT %s FROM students%s ORDER BY last_names, first_names LIMIT %d OFFSET %d", studentColumns, where, size, offset))
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, r.db.Rebind("SELECT COUNT(*) FROM students"+where), args...); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}
	return students, total, nil
}

// FindByID returns a student by id.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	var student models.Student
	if err := r.db.GetContext(ctx, &student, r.db.Rebind(`SELECT `+studentColumns+` FROM students WHERE id = ?`), id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find student: %w", err)
	}
	return &student, nil
}

// ExistsByDocument reports whether a student with the document is registered.
func (r *StudentRepository) ExistsByDocument(ctx context.Context, number, issuer string) (bool, error) {
	var count int
	query := r.db.Rebind(`SELECT COUNT(*) FROM students WHERE ci_number = ? AND ci_issuer = ?`)
	if err := r.db.GetContext(ctx, &count, query, number, issuer); err != nil {
		return false, fmt.Errorf("check student document: %w", err)
	}
	return count > 0, nil
}

// Create inserts a new student.
func (r *StudentRepository) Create(ctx context.Context, student *models.Student) error {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	student.CreatedAt = now
	student.UpdatedAt = now

	const query = `INSERT INTO students (` + studentColumns + `) VALUES (:id, :ci_number, :ci_issuer, :first_names, :last_names, :email, :phone, :birth_date, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		return classify("create student", err)
	}
	return nil
}

// UpdateContact changes the contact data of a student.
func (r *StudentRepository) UpdateContact(ctx context.Context, student *models.Student) error {
	student.UpdatedAt = time.Now().UTC()
	const query = `UPDATE students SET email = :email, phone = :phone, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("update student contact: %w", err)
	}
	return nil
}

// Deactivate performs a soft delete on the student.
func (r *StudentRepository) Deactivate(ctx context.Context, id string) error {
	query := r.db.Rebind(`UPDATE students SET active = ?, updated_at = ? WHERE id = ?`)
	if _, err := r.db.ExecContext(ctx, query, false, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("deactivate student: %w", err)
	}
	return nil
}
