package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/edu-billing-api/internal/models"
)

const (
	programColumns     = `id, code, name, description, duration_weeks, hours, base_cost, registration_fee, enrollment_fee, total_seats, available_seats, cash_discount_pct, promotion_active, promotion_pct, promotion_description, promotion_expires_on, state, start_date, end_date, tutor_id, started_at, concluded_at, cancelled_at, created_at, updated_at`
	enrollmentColumns  = `id, student_id, program_id, modality, plan_id, total_amount, discount_amount, final_amount, paid_amount, payment_state, academic_state, enrolled_on, start_date, completion_date, coordinator_id, observations, version, created_at, updated_at`
	installmentColumns = `id, enrollment_id, number, amount, paid_amount, due_date, state, paid_on, payment_id`
	paymentColumns     = `id, enrollment_id, kind, installment_number, amount, method, concept, status, receipt_number, transaction_ref, paid_on, created_by, confirmed_by, confirmed_at, voided_by, voided_at, void_reason, created_at`
	movementColumns    = `id, type, amount, description, reference_type, reference_id, movement_date, created_by, reversed_by, created_at`
	invoiceColumns     = `id, number, payment_id, issued_on, document_type, tax_id, business_name, subtotal, vat, transaction_tax, total, concept, state, created_by, voided_by, voided_at, created_at`
)

// LedgerTx exposes the row-locking reads and the writes that make up one financial
// operation. Every method runs on the same database transaction.
type LedgerTx interface {
	LockProgram(ctx context.Context, id string) (*models.Program, error)
	UpdateProgram(ctx context.Context, program *models.Program) error
	OccupySeat(ctx context.Context, programID string, at time.Time) (bool, error)
	ReleaseSeat(ctx context.Context, programID string, at time.Time) (bool, error)
	CountActiveEnrollments(ctx context.Context, programID string) (int, error)

	OpenEnrollmentExists(ctx context.Context, studentID, programID string) (bool, error)
	InsertEnrollment(ctx context.Context, enrollment *models.Enrollment) error
	LockEnrollment(ctx context.Context, id string) (*models.Enrollment, error)
	UpdateEnrollment(ctx context.Context, enrollment *models.Enrollment) error

	InsertInstallments(ctx context.Context, installments []models.Installment) error
	ListInstallments(ctx context.Context, enrollmentID string) ([]models.Installment, error)
	UpdateInstallment(ctx context.Context, installment *models.Installment) error

	InsertPayment(ctx context.Context, payment *models.Payment) error
	LockPayment(ctx context.Context, id string) (*models.Payment, error)
	UpdatePayment(ctx context.Context, payment *models.Payment) error

	InsertCashMovement(ctx context.Context, movement *models.CashMovement) error
	LockCashMovement(ctx context.Context, id string) (*models.CashMovement, error)
	ActiveMovementForPayment(ctx context.Context, paymentID string) (*models.CashMovement, error)
	MarkMovementReversed(ctx context.Context, id, reversalID string) error

	LastInvoiceNumber(ctx context.Context, prefix string) (string, error)
	InsertInvoice(ctx context.Context, invoice *models.Invoice) error
	LockInvoice(ctx context.Context, id string) (*models.Invoice, error)
	UpdateInvoice(ctx context.Context, invoice *models.Invoice) error
	ActiveInvoiceForPayment(ctx context.Context, paymentID string) (*models.Invoice, error)
}

// Store opens transactions for ledger operations.
type Store struct {
	db          *sqlx.DB
	lockTimeout time.Duration
}

// NewStore constructs a Store. lockTimeout bounds row lock waits on PostgreSQL; SQLite
// relies on the busy timeout configured on the connection.
func NewStore(db *sqlx.DB, lockTimeout time.Duration) *Store {
	return &Store{db: db, lockTimeout: lockTimeout}
}

// WithinTx runs fn inside a transaction. The transaction commits when fn returns nil and
// rolls back otherwise.
func (s *Store) WithinTx(ctx context.Context, fn func(tx LedgerTx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify("begin transaction", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	postgres := tx.DriverName() == "postgres"
	if postgres && s.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return classify("set lock timeout", err)
		}
	}

	if err = fn(&ledgerTx{tx: tx, postgres: postgres}); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return classify("commit transaction", err)
	}
	return nil
}

type ledgerTx struct {
	tx       *sqlx.Tx
	postgres bool
}

// lock appends a row lock on PostgreSQL. SQLite transactions start with BEGIN IMMEDIATE
// and already hold the database write lock.
func (l *ledgerTx) lock(query string) string {
	if l.postgres {
		query += " FOR UPDATE"
	}
	return l.tx.Rebind(query)
}

func (l *ledgerTx) get(ctx context.Context, op string, dest interface{}, query string, args ...interface{}) error {
	if err := l.tx.GetContext(ctx, dest, l.lock(query), args...); err != nil {
		if err == sql.ErrNoRows {
			return err
		}
		return classify(op, err)
	}
	return nil
}

func (l *ledgerTx) exec(ctx context.Context, op, query string, args ...interface{}) (int64, error) {
	res, err := l.tx.ExecContext(ctx, l.tx.Rebind(query), args...)
	if err != nil {
		return 0, classify(op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, classify(op, err)
	}
	return affected, nil
}

func (l *ledgerTx) namedExec(ctx context.Context, op, query string, arg interface{}) (int64, error) {
	res, err := l.tx.NamedExecContext(ctx, query, arg)
	if err != nil {
		return 0, classify(op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, classify(op, err)
	}
	return affected, nil
}

func (l *ledgerTx) LockProgram(ctx context.Context, id string) (*models.Program, error) {
	var program models.Program
	if err := l.get(ctx, "lock program", &program, `SELECT `+programColumns+` FROM programs WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &program, nil
}

func (l *ledgerTx) UpdateProgram(ctx context.Context, program *models.Program) error {
	_, err := l.namedExec(ctx, "update program", updateProgramQuery, program)
	return err
}

// OccupySeat takes one seat. It reports false when the program is full.
func (l *ledgerTx) OccupySeat(ctx context.Context, programID string, at time.Time) (bool, error) {
	n, err := l.exec(ctx, "occupy seat", `UPDATE programs SET available_seats = available_seats - 1, updated_at = ? WHERE id = ? AND available_seats > 0`, at, programID)
	return n == 1, err
}

// ReleaseSeat gives one seat back. It reports false when every seat is already free.
func (l *ledgerTx) ReleaseSeat(ctx context.Context, programID string, at time.Time) (bool, error) {
	n, err := l.exec(ctx, "release seat", `UPDATE programs SET available_seats = available_seats + 1, updated_at = ? WHERE id = ? AND available_seats < total_seats`, at, programID)
	return n == 1, err
}

func (l *ledgerTx) CountActiveEnrollments(ctx context.Context, programID string) (int, error) {
	const query = `SELECT COUNT(*) FROM enrollments WHERE program_id = ? AND academic_state IN (?, ?, ?)`
	args := []interface{}{programID}
	for _, state := range models.ActiveAcademicStates {
		args = append(args, state)
	}
	var count int
	if err := l.tx.GetContext(ctx, &count, l.tx.Rebind(query), args...); err != nil {
		return 0, classify("count active enrollments", err)
	}
	return count, nil
}

func (l *ledgerTx) OpenEnrollmentExists(ctx context.Context, studentID, programID string) (bool, error) {
	const query = `SELECT COUNT(*) FROM enrollments WHERE student_id = ? AND program_id = ? AND payment_state <> ?`
	var count int
	if err := l.tx.GetContext(ctx, &count, l.tx.Rebind(query), studentID, programID, models.PaymentCancelled); err != nil {
		return false, classify("check open enrollment", err)
	}
	return count > 0, nil
}

func (l *ledgerTx) InsertEnrollment(ctx context.Context, enrollment *models.Enrollment) error {
	_, err := l.namedExec(ctx, "insert enrollment", insertEnrollmentQuery, enrollment)
	return err
}

func (l *ledgerTx) LockEnrollment(ctx context.Context, id string) (*models.Enrollment, error) {
	var enrollment models.Enrollment
	if err := l.get(ctx, "lock enrollment", &enrollment, `SELECT `+enrollmentColumns+` FROM enrollments WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// UpdateEnrollment writes the mutable columns guarded by the version read under lock
// and bumps the version on success.
func (l *ledgerTx) UpdateEnrollment(ctx context.Context, enrollment *models.Enrollment) error {
	const query = `UPDATE enrollments SET paid_amount = :paid_amount, payment_state = :payment_state, academic_state = :academic_state,
        start_date = :start_date, completion_date = :completion_date, observations = :observations, version = version + 1, updated_at = :updated_at
        WHERE id = :id AND version = :version`
	n, err := l.namedExec(ctx, "update enrollment", query, enrollment)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("update enrollment %s: %w", enrollment.ID, ErrConcurrentModification)
	}
	enrollment.Version++
	return nil
}

func (l *ledgerTx) InsertInstallments(ctx context.Context, installments []models.Installment) error {
	const query = `INSERT INTO installments (` + installmentColumns + `) VALUES (:id, :enrollment_id, :number, :amount, :paid_amount, :due_date, :state, :paid_on, :payment_id)`
	for i := range installments {
		if _, err := l.namedExec(ctx, "insert installment", query, &installments[i]); err != nil {
			return err
		}
	}
	return nil
}

func (l *ledgerTx) ListInstallments(ctx context.Context, enrollmentID string) ([]models.Installment, error) {
	var installments []models.Installment
	query := l.tx.Rebind(`SELECT ` + installmentColumns + ` FROM installments WHERE enrollment_id = ? ORDER BY number`)
	if err := l.tx.SelectContext(ctx, &installments, query, enrollmentID); err != nil {
		return nil, classify("list installments", err)
	}
	return installments, nil
}

func (l *ledgerTx) UpdateInstallment(ctx context.Context, installment *models.Installment) error {
	const query = `UPDATE installments SET paid_amount = :paid_amount, state = :state, paid_on = :paid_on, payment_id = :payment_id WHERE id = :id`
	_, err := l.namedExec(ctx, "update installment", query, installment)
	return err
}

func (l *ledgerTx) InsertPayment(ctx context.Context, payment *models.Payment) error {
	_, err := l.namedExec(ctx, "insert payment", insertPaymentQuery, payment)
	return err
}

func (l *ledgerTx) LockPayment(ctx context.Context, id string) (*models.Payment, error) {
	var payment models.Payment
	if err := l.get(ctx, "lock payment", &payment, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &payment, nil
}

func (l *ledgerTx) UpdatePayment(ctx context.Context, payment *models.Payment) error {
	const query = `UPDATE payments SET status = :status, confirmed_by = :confirmed_by, confirmed_at = :confirmed_at,
        voided_by = :voided_by, voided_at = :voided_at, void_reason = :void_reason WHERE id = :id`
	_, err := l.namedExec(ctx, "update payment", query, payment)
	return err
}

func (l *ledgerTx) InsertCashMovement(ctx context.Context, movement *models.CashMovement) error {
	_, err := l.namedExec(ctx, "insert cash movement", insertMovementQuery, movement)
	return err
}

func (l *ledgerTx) LockCashMovement(ctx context.Context, id string) (*models.CashMovement, error) {
	var movement models.CashMovement
	if err := l.get(ctx, "lock cash movement", &movement, `SELECT `+movementColumns+` FROM cash_movements WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &movement, nil
}

// ActiveMovementForPayment returns the unreversed inflow posted for a payment, or nil.
func (l *ledgerTx) ActiveMovementForPayment(ctx context.Context, paymentID string) (*models.CashMovement, error) {
	const query = `SELECT ` + movementColumns + ` FROM cash_movements
        WHERE reference_id = ? AND reference_type IN (?, ?) AND type = ? AND reversed_by IS NULL`
	var movement models.CashMovement
	err := l.get(ctx, "find payment movement", &movement, query, paymentID, models.ReferencePayment, models.ReferenceGenericIncome, models.MovementInflow)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &movement, nil
}

func (l *ledgerTx) MarkMovementReversed(ctx context.Context, id, reversalID string) error {
	n, err := l.exec(ctx, "mark movement reversed", `UPDATE cash_movements SET reversed_by = ? WHERE id = ? AND reversed_by IS NULL`, reversalID, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("mark movement %s reversed: %w", id, ErrConcurrentModification)
	}
	return nil
}

// LastInvoiceNumber returns the highest number carrying prefix, or "" when none exists.
// Longer numbers sort first so FAC-1000000 beats FAC-999999.
func (l *ledgerTx) LastInvoiceNumber(ctx context.Context, prefix string) (string, error) {
	const query = `SELECT number FROM invoices WHERE number LIKE ? ORDER BY LENGTH(number) DESC, number DESC LIMIT 1`
	var number string
	err := l.tx.GetContext(ctx, &number, l.tx.Rebind(query), prefix+"%")
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", classify("find last invoice number", err)
	}
	return number, nil
}

func (l *ledgerTx) InsertInvoice(ctx context.Context, invoice *models.Invoice) error {
	_, err := l.namedExec(ctx, "insert invoice", insertInvoiceQuery, invoice)
	return err
}

func (l *ledgerTx) LockInvoice(ctx context.Context, id string) (*models.Invoice, error) {
	var invoice models.Invoice
	if err := l.get(ctx, "lock invoice", &invoice, `SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &invoice, nil
}

// UpdateInvoice writes the void columns. Only an ISSUED row is updated.
func (l *ledgerTx) UpdateInvoice(ctx context.Context, invoice *models.Invoice) error {
	const query = `UPDATE invoices SET state = :state, concept = :concept, voided_by = :voided_by, voided_at = :voided_at
        WHERE id = :id AND state = 'ISSUED'`
	n, err := l.namedExec(ctx, "update invoice", query, invoice)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("update invoice %s: %w", invoice.ID, ErrConcurrentModification)
	}
	return nil
}

// ActiveInvoiceForPayment returns the ISSUED invoice billing a payment, or nil.
func (l *ledgerTx) ActiveInvoiceForPayment(ctx context.Context, paymentID string) (*models.Invoice, error) {
	var invoice models.Invoice
	err := l.get(ctx, "find payment invoice", &invoice, `SELECT `+invoiceColumns+` FROM invoices WHERE payment_id = ? AND state = ?`, paymentID, models.InvoiceIssued)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}
