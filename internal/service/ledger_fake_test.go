package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/edu-billing-api/internal/models"
	"github.com/noah-isme/edu-billing-api/internal/repository"
)

// memoryLedger is an in-memory store implementing the transactional ledger plus the
// read repositories the services use. A failed transaction restores the snapshot taken
// when it began.
type memoryLedger struct {
	mu           sync.Mutex
	programs     map[string]models.Program
	enrollments  map[string]models.Enrollment
	installments map[string][]models.Installment
	payments     map[string]models.Payment
	movements    map[string]models.CashMovement
	invoices     map[string]models.Invoice
	txCount      int
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{
		programs:     map[string]models.Program{},
		enrollments:  map[string]models.Enrollment{},
		installments: map[string][]models.Installment{},
		payments:     map[string]models.Payment{},
		movements:    map[string]models.CashMovement{},
		invoices:     map[string]models.Invoice{},
	}
}

type ledgerSnapshot struct {
	programs     map[string]models.Program
	enrollments  map[string]models.Enrollment
	installments map[string][]models.Installment
	payments     map[string]models.Payment
	movements    map[string]models.CashMovement
	invoices     map[string]models.Invoice
}

func (m *memoryLedger) snapshot() ledgerSnapshot {
	s := ledgerSnapshot{
		programs:     make(map[string]models.Program, len(m.programs)),
		enrollments:  make(map[string]models.Enrollment, len(m.enrollments)),
		installments: make(map[string][]models.Installment, len(m.installments)),
		payments:     make(map[string]models.Payment, len(m.payments)),
		movements:    make(map[string]models.CashMovement, len(m.movements)),
		invoices:     make(map[string]models.Invoice, len(m.invoices)),
	}
	for k, v := range m.programs {
		s.programs[k] = v
	}
	for k, v := range m.enrollments {
		s.enrollments[k] = v
	}
	for k, v := range m.installments {
		s.installments[k] = append([]models.Installment(nil), v...)
	}
	for k, v := range m.payments {
		s.payments[k] = v
	}
	for k, v := range m.movements {
		s.movements[k] = v
	}
	for k, v := range m.invoices {
		s.invoices[k] = v
	}
	return s
}

func (m *memoryLedger) restore(s ledgerSnapshot) {
	m.programs, m.enrollments, m.installments, m.payments, m.movements = s.programs, s.enrollments, s.installments, s.payments, s.movements
	m.invoices = s.invoices
}

func (m *memoryLedger) WithinTx(ctx context.Context, fn func(tx repository.LedgerTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txCount++
	snap := m.snapshot()
	if err := fn(m); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

func (m *memoryLedger) LockProgram(ctx context.Context, id string) (*models.Program, error) {
	p, ok := m.programs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &p, nil
}

func (m *memoryLedger) UpdateProgram(ctx context.Context, program *models.Program) error {
	m.programs[program.ID] = *program
	return nil
}

func (m *memoryLedger) OccupySeat(ctx context.Context, programID string, at time.Time) (bool, error) {
	p := m.programs[programID]
	if p.AvailableSeats <= 0 {
		return false, nil
	}
	p.AvailableSeats--
	m.programs[programID] = p
	return true, nil
}

func (m *memoryLedger) ReleaseSeat(ctx context.Context, programID string, at time.Time) (bool, error) {
	p := m.programs[programID]
	if p.AvailableSeats >= p.TotalSeats {
		return false, nil
	}
	p.AvailableSeats++
	m.programs[programID] = p
	return true, nil
}

func (m *memoryLedger) CountActiveEnrollments(ctx context.Context, programID string) (int, error) {
	count := 0
	for _, e := range m.enrollments {
		if e.ProgramID == programID && e.AcademicState.Active() {
			count++
		}
	}
	return count, nil
}

func (m *memoryLedger) OpenEnrollmentExists(ctx context.Context, studentID, programID string) (bool, error) {
	for _, e := range m.enrollments {
		if e.StudentID == studentID && e.ProgramID == programID && !e.Cancelled() {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryLedger) InsertEnrollment(ctx context.Context, enrollment *models.Enrollment) error {
	if _, ok := m.enrollments[enrollment.ID]; ok {
		return repository.ErrDuplicate
	}
	m.enrollments[enrollment.ID] = *enrollment
	return nil
}

func (m *memoryLedger) LockEnrollment(ctx context.Context, id string) (*models.Enrollment, error) {
	e, ok := m.enrollments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &e, nil
}

func (m *memoryLedger) UpdateEnrollment(ctx context.Context, enrollment *models.Enrollment) error {
	stored, ok := m.enrollments[enrollment.ID]
	if !ok || stored.Version != enrollment.Version {
		return fmt.Errorf("update enrollment %s: %w", enrollment.ID, repository.ErrConcurrentModification)
	}
	enrollment.Version++
	m.enrollments[enrollment.ID] = *enrollment
	return nil
}

func (m *memoryLedger) InsertInstallments(ctx context.Context, installments []models.Installment) error {
	for _, inst := range installments {
		m.installments[inst.EnrollmentID] = append(m.installments[inst.EnrollmentID], inst)
	}
	return nil
}

func (m *memoryLedger) ListInstallments(ctx context.Context, enrollmentID string) ([]models.Installment, error) {
	out := append([]models.Installment(nil), m.installments[enrollmentID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (m *memoryLedger) UpdateInstallment(ctx context.Context, installment *models.Installment) error {
	list := m.installments[installment.EnrollmentID]
	for i := range list {
		if list[i].ID == installment.ID {
			list[i] = *installment
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *memoryLedger) InsertPayment(ctx context.Context, payment *models.Payment) error {
	m.payments[payment.ID] = *payment
	return nil
}

func (m *memoryLedger) LockPayment(ctx context.Context, id string) (*models.Payment, error) {
	p, ok := m.payments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &p, nil
}

func (m *memoryLedger) UpdatePayment(ctx context.Context, payment *models.Payment) error {
	if _, ok := m.payments[payment.ID]; !ok {
		return sql.ErrNoRows
	}
	m.payments[payment.ID] = *payment
	return nil
}

func (m *memoryLedger) InsertCashMovement(ctx context.Context, movement *models.CashMovement) error {
	m.movements[movement.ID] = *movement
	return nil
}

func (m *memoryLedger) LockCashMovement(ctx context.Context, id string) (*models.CashMovement, error) {
	mv, ok := m.movements[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &mv, nil
}

func (m *memoryLedger) ActiveMovementForPayment(ctx context.Context, paymentID string) (*models.CashMovement, error) {
	for _, mv := range m.movements {
		if mv.ReferenceID != nil && *mv.ReferenceID == paymentID && mv.Type == models.MovementInflow &&
			mv.ReversedBy == nil && (mv.ReferenceType == models.ReferencePayment || mv.ReferenceType == models.ReferenceGenericIncome) {
			found := mv
			return &found, nil
		}
	}
	return nil, nil
}

func (m *memoryLedger) MarkMovementReversed(ctx context.Context, id, reversalID string) error {
	mv, ok := m.movements[id]
	if !ok || mv.ReversedBy != nil {
		return repository.ErrConcurrentModification
	}
	mv.ReversedBy = &reversalID
	m.movements[id] = mv
	return nil
}

func (m *memoryLedger) LastInvoiceNumber(ctx context.Context, prefix string) (string, error) {
	last := ""
	for _, inv := range m.invoices {
		if !strings.HasPrefix(inv.Number, prefix) {
			continue
		}
		if len(inv.Number) > len(last) || (len(inv.Number) == len(last) && inv.Number > last) {
			last = inv.Number
		}
	}
	return last, nil
}

// InsertInvoice enforces the unique number and the single ISSUED invoice per payment.
func (m *memoryLedger) InsertInvoice(ctx context.Context, invoice *models.Invoice) error {
	for _, inv := range m.invoices {
		if inv.Number == invoice.Number {
			return repository.ErrDuplicate
		}
		if inv.State == models.InvoiceIssued && inv.PaymentID != nil && invoice.PaymentID != nil && *inv.PaymentID == *invoice.PaymentID {
			return repository.ErrDuplicate
		}
	}
	m.invoices[invoice.ID] = *invoice
	return nil
}

func (m *memoryLedger) LockInvoice(ctx context.Context, id string) (*models.Invoice, error) {
	inv, ok := m.invoices[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &inv, nil
}

func (m *memoryLedger) UpdateInvoice(ctx context.Context, invoice *models.Invoice) error {
	stored, ok := m.invoices[invoice.ID]
	if !ok || stored.State != models.InvoiceIssued {
		return repository.ErrConcurrentModification
	}
	m.invoices[invoice.ID] = *invoice
	return nil
}

func (m *memoryLedger) ActiveInvoiceForPayment(ctx context.Context, paymentID string) (*models.Invoice, error) {
	for _, inv := range m.invoices {
		if inv.PaymentID != nil && *inv.PaymentID == paymentID && inv.State == models.InvoiceIssued {
			found := inv
			return &found, nil
		}
	}
	return nil, nil
}

// Read side.

func (m *memoryLedger) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.LockEnrollment(ctx, id)
}

func (m *memoryLedger) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Enrollment
	for _, e := range m.enrollments {
		if filter.ProgramID != "" && e.ProgramID != filter.ProgramID {
			continue
		}
		if filter.StudentID != "" && e.StudentID != filter.StudentID {
			continue
		}
		out = append(out, e)
	}
	return out, len(out), nil
}

func (m *memoryLedger) MarkOverdue(ctx context.Context, today, at time.Time) (repository.OverdueResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result repository.OverdueResult
	overdue := map[string]bool{}
	for id, list := range m.installments {
		for i := range list {
			if list[i].State == models.InstallmentPending && list[i].DueDate.Before(today) {
				list[i].State = models.InstallmentOverdue
				result.Installments++
			}
			if list[i].State == models.InstallmentOverdue {
				overdue[id] = true
			}
		}
	}
	for id, e := range m.enrollments {
		if overdue[id] && (e.PaymentState == models.PaymentPending || e.PaymentState == models.PaymentPartial) {
			e.PaymentState = models.PaymentDelinquent
			e.UpdatedAt = at
			e.Version++
			m.enrollments[id] = e
			result.Enrollments++
		}
	}
	return result, nil
}

func (m *memoryLedger) program(id string) models.Program {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.programs[id]
}

func (m *memoryLedger) enrollment(id string) models.Enrollment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enrollments[id]
}

func (m *memoryLedger) payment(id string) models.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.payments[id]
}

func (m *memoryLedger) schedule(enrollmentID string) []models.Installment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out, _ := m.ListInstallments(context.Background(), enrollmentID)
	return out
}

func (m *memoryLedger) movementFor(paymentID string) *models.CashMovement {
	m.mu.Lock()
	defer m.mu.Unlock()
	mv, _ := m.ActiveMovementForPayment(context.Background(), paymentID)
	return mv
}

func (m *memoryLedger) movementCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.movements)
}

// programReads exposes the program side of memoryLedger as a read repository.
type programReads struct{ ledger *memoryLedger }

func (p programReads) FindByID(ctx context.Context, id string) (*models.Program, error) {
	p.ledger.mu.Lock()
	defer p.ledger.mu.Unlock()
	return p.ledger.LockProgram(ctx, id)
}

// paymentReads exposes the payment side of memoryLedger as a read repository.
type paymentReads struct{ ledger *memoryLedger }

func (p paymentReads) FindByID(ctx context.Context, id string) (*models.Payment, error) {
	p.ledger.mu.Lock()
	defer p.ledger.mu.Unlock()
	return p.ledger.LockPayment(ctx, id)
}

func (p paymentReads) List(ctx context.Context, filter models.PaymentFilter) ([]models.Payment, int, error) {
	p.ledger.mu.Lock()
	defer p.ledger.mu.Unlock()
	var out []models.Payment
	for _, pay := range p.ledger.payments {
		if filter.EnrollmentID != "" && (pay.EnrollmentID == nil || *pay.EnrollmentID != filter.EnrollmentID) {
			continue
		}
		out = append(out, pay)
	}
	return out, len(out), nil
}

type memoryStudents struct {
	students map[string]models.Student
	exists   map[string]bool
	created  []models.Student
	updated  []models.Student
	inactive []string
}

func (m *memoryStudents) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	var out []models.Student
	for _, s := range m.students {
		out = append(out, s)
	}
	return out, len(out), nil
}

func (m *memoryStudents) FindByID(ctx context.Context, id string) (*models.Student, error) {
	s, ok := m.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &s, nil
}

func (m *memoryStudents) ExistsByDocument(ctx context.Context, number, issuer string) (bool, error) {
	return m.exists[number+"/"+issuer], nil
}

func (m *memoryStudents) Create(ctx context.Context, student *models.Student) error {
	if student.ID == "" {
		student.ID = fmt.Sprintf("student-%d", len(m.created)+1)
	}
	if m.students == nil {
		m.students = map[string]models.Student{}
	}
	m.students[student.ID] = *student
	m.created = append(m.created, *student)
	return nil
}

func (m *memoryStudents) UpdateContact(ctx context.Context, student *models.Student) error {
	m.students[student.ID] = *student
	m.updated = append(m.updated, *student)
	return nil
}

func (m *memoryStudents) Deactivate(ctx context.Context, id string) error {
	s := m.students[id]
	s.Active = false
	m.students[id] = s
	m.inactive = append(m.inactive, id)
	return nil
}

type recordingAudit struct {
	logs []*models.AuditLog
	err  error
}

func (r *recordingAudit) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	if r.err != nil {
		return r.err
	}
	r.logs = append(r.logs, log)
	return nil
}

type memoryCache struct {
	entries     map[string][]byte
	invalidated []string
	flushed     int
}

func newMemoryCache() *memoryCache { return &memoryCache{entries: map[string][]byte{}} }

func (c *memoryCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	raw, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (c *memoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.entries[key] = raw
	return nil
}

func (c *memoryCache) InvalidateProgram(ctx context.Context, programID string) {
	delete(c.entries, programCacheKey(programID))
	delete(c.entries, programStatsCacheKey(programID))
	c.invalidated = append(c.invalidated, programID)
}

func (c *memoryCache) Flush(ctx context.Context) error {
	c.entries = map[string][]byte{}
	c.flushed++
	return nil
}

type denyAll struct{}

func (denyAll) Can(models.Actor, models.Action, string) bool { return false }

var (
	admin   = models.Actor{ID: "11111111-1111-1111-1111-111111111111", Role: models.RoleAdmin, Email: "admin@institute.test"}
	cashier = models.Actor{ID: "22222222-2222-2222-2222-222222222222", Role: models.RoleCashier, Email: "cashier@institute.test"}
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

func date(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

// movementReads exposes the cash side of memoryLedger as a read repository.
type movementReads struct{ ledger *memoryLedger }

func (r movementReads) FindByID(ctx context.Context, id string) (*models.CashMovement, error) {
	r.ledger.mu.Lock()
	defer r.ledger.mu.Unlock()
	return r.ledger.LockCashMovement(ctx, id)
}

func (r movementReads) ListBetween(ctx context.Context, from, to time.Time) ([]models.CashMovement, error) {
	r.ledger.mu.Lock()
	defer r.ledger.mu.Unlock()
	var out []models.CashMovement
	for _, mv := range r.ledger.movements {
		if mv.MovementDate.Before(from) || mv.MovementDate.After(to) {
			continue
		}
		out = append(out, mv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r movementReads) Totals(ctx context.Context, from *time.Time, to time.Time) (decimal.Decimal, decimal.Decimal, int, error) {
	r.ledger.mu.Lock()
	defer r.ledger.mu.Unlock()
	in, out, count := decimal.Zero, decimal.Zero, 0
	for _, mv := range r.ledger.movements {
		if mv.MovementDate.After(to) || (from != nil && mv.MovementDate.Before(*from)) {
			continue
		}
		count++
		if mv.Type == models.MovementInflow {
			in = in.Add(mv.Amount)
		} else {
			out = out.Add(mv.Amount)
		}
	}
	return in, out, count, nil
}

type memoryPlans struct {
	plans map[string]models.PaymentPlan
	usage map[string]int
	live  map[string]int
}

func newMemoryPlans(plans ...models.PaymentPlan) *memoryPlans {
	m := &memoryPlans{plans: map[string]models.PaymentPlan{}, usage: map[string]int{}, live: map[string]int{}}
	for _, p := range plans {
		m.plans[p.ID] = p
	}
	return m
}

func (m *memoryPlans) FindByID(ctx context.Context, id string) (*models.PaymentPlan, error) {
	p, ok := m.plans[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &p, nil
}

func (m *memoryPlans) ListByProgram(ctx context.Context, programID string, activeOnly bool) ([]models.PaymentPlan, error) {
	var out []models.PaymentPlan
	for _, p := range m.plans {
		if p.ProgramID != programID || (activeOnly && !p.Active) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memoryPlans) NameTaken(ctx context.Context, programID, name, excludeID string) (bool, error) {
	for _, p := range m.plans {
		if p.ProgramID == programID && p.Name == name && p.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryPlans) CountEnrollments(ctx context.Context, planID string, activeOnly bool) (int, error) {
	if activeOnly {
		return m.live[planID], nil
	}
	return m.usage[planID], nil
}

func (m *memoryPlans) Create(ctx context.Context, plan *models.PaymentPlan) error {
	if plan.ID == "" {
		plan.ID = fmt.Sprintf("plan-%d", len(m.plans)+1)
	}
	m.plans[plan.ID] = *plan
	return nil
}

func (m *memoryPlans) Update(ctx context.Context, plan *models.PaymentPlan) error {
	if _, ok := m.plans[plan.ID]; !ok {
		return sql.ErrNoRows
	}
	m.plans[plan.ID] = *plan
	return nil
}

// invoiceReads exposes the invoice side of memoryLedger as a read repository.
type invoiceReads struct{ ledger *memoryLedger }

func (r invoiceReads) FindByID(ctx context.Context, id string) (*models.Invoice, error) {
	r.ledger.mu.Lock()
	defer r.ledger.mu.Unlock()
	return r.ledger.LockInvoice(ctx, id)
}

func (r invoiceReads) List(ctx context.Context, filter models.InvoiceFilter) ([]models.Invoice, int, error) {
	r.ledger.mu.Lock()
	defer r.ledger.mu.Unlock()
	var out []models.Invoice
	for _, inv := range r.ledger.invoices {
		if filter.State != nil && inv.State != *filter.State {
			continue
		}
		if filter.PaymentID != "" && (inv.PaymentID == nil || *inv.PaymentID != filter.PaymentID) {
			continue
		}
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number > out[j].Number })
	return out, len(out), nil
}

func (r invoiceReads) inPeriod(inv models.Invoice, from, to time.Time) bool {
	return !inv.IssuedOn.Before(from) && !inv.IssuedOn.After(to)
}

func (r invoiceReads) Totals(ctx context.Context, from, to time.Time) (*repository.InvoiceTotalsRow, error) {
	r.ledger.mu.Lock()
	defer r.ledger.mu.Unlock()
	row := &repository.InvoiceTotalsRow{}
	for _, inv := range r.ledger.invoices {
		if !r.inPeriod(inv, from, to) || inv.State == models.InvoiceVoided {
			continue
		}
		row.Count++
		row.Subtotal = row.Subtotal.Add(inv.Subtotal)
		row.VAT = row.VAT.Add(inv.VAT)
		row.TransactionTax = row.TransactionTax.Add(inv.TransactionTax)
		row.Total = row.Total.Add(inv.Total)
		if !row.First.Valid || inv.IssuedOn.Before(row.First.Time) {
			row.First = sql.NullTime{Time: inv.IssuedOn, Valid: true}
		}
		if !row.Last.Valid || inv.IssuedOn.After(row.Last.Time) {
			row.Last = sql.NullTime{Time: inv.IssuedOn, Valid: true}
		}
	}
	return row, nil
}

func (r invoiceReads) GroupTotals(ctx context.Context, from, to time.Time, column string) ([]models.InvoiceGroup, error) {
	r.ledger.mu.Lock()
	defer r.ledger.mu.Unlock()
	groups := map[string]*models.InvoiceGroup{}
	for _, inv := range r.ledger.invoices {
		if !r.inPeriod(inv, from, to) {
			continue
		}
		key := string(inv.State)
		if column == "document_type" {
			key = string(inv.DocumentType)
		}
		g, ok := groups[key]
		if !ok {
			g = &models.InvoiceGroup{Key: key}
			groups[key] = g
		}
		g.Count++
		g.Total = g.Total.Add(inv.Total)
	}
	out := make([]models.InvoiceGroup, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Total.GreaterThan(out[j].Total) })
	return out, nil
}

func (m *memoryLedger) invoice(id string) models.Invoice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invoices[id]
}
