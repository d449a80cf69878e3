package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/edu-billing-api/internal/models"
	appErrors "github.com/noah-isme/edu-billing-api/pkg/errors"
)

var enrollmentDay = time.Date(2024, time.January, 1, 10, 0, 0, 0, time.UTC)

type billingFixture struct {
	ledger      *memoryLedger
	students    *memoryStudents
	plans       *memoryPlans
	audit       *recordingAudit
	cache       *memoryCache
	cash        *CashLedgerService
	enrollments *EnrollmentService
	payments    *PaymentService
}

func newBillingFixture(t *testing.T, program models.Program, plans ...models.PaymentPlan) *billingFixture {
	t.Helper()
	ledger := newMemoryLedger()
	ledger.programs[program.ID] = program

	students := &memoryStudents{students: map[string]models.Student{}}
	for _, id := range []string{"student-1", "student-2", "student-3", "student-4", "student-5"} {
		students.students[id] = models.Student{ID: id, CINumber: id, FirstNames: "Ana", LastNames: "Rojas", Active: true}
	}
	planRepo := newMemoryPlans(plans...)
	audit := &recordingAudit{}
	cache := newMemoryCache()
	policy := NewRolePolicy()
	clock := fixedClock(enrollmentDay)

	cash := NewCashLedgerService(movementReads{ledger}, ledger, policy, audit, nil, zap.NewNop())
	cash.now = clock
	planService := NewPaymentPlanService(planRepo, programReads{ledger}, policy, audit, nil, zap.NewNop(), PaymentPlanConfig{})
	enrollments := NewEnrollmentService(ledger, students, programReads{ledger}, planService, ledger, cash, policy, audit, cache, nil,
		validator.New(), zap.NewNop(), EnrollmentConfig{MaxPaymentAmount: dec("100000")})
	enrollments.now = clock
	payments := NewPaymentService(paymentReads{ledger}, ledger, enrollments, cash, policy, audit, nil, validator.New(), zap.NewNop(),
		PaymentConfig{MaxPaymentAmount: dec("100000"), GenericIncomeAutoConfirm: true})
	payments.now = clock

	return &billingFixture{
		ledger:      ledger,
		students:    students,
		plans:       planRepo,
		audit:       audit,
		cache:       cache,
		cash:        cash,
		enrollments: enrollments,
		payments:    payments,
	}
}

func catalogProgram(baseCost string, seats int) models.Program {
	start := date(2024, time.January, 1)
	return models.Program{
		ID:              "prog-1",
		Code:            "ENG-101",
		Name:            "English I",
		BaseCost:        dec(baseCost),
		CashDiscountPct: dec("10"),
		TotalSeats:      seats,
		AvailableSeats:  seats,
		State:           models.ProgramPlanned,
		StartDate:       &start,
	}
}

func threeMonthPlan() models.PaymentPlan {
	return models.PaymentPlan{ID: "plan-3x30", ProgramID: "prog-1", Name: "Three months", Installments: 3, IntervalDays: 30, Active: true}
}

func (f *billingFixture) enrollInInstallments(t *testing.T, studentID string) *models.Enrollment {
	t.Helper()
	planID := "plan-3x30"
	enrollment, err := f.enrollments.Create(context.Background(), cashier, models.CreateEnrollmentRequest{
		StudentID: studentID,
		ProgramID: "prog-1",
		Modality:  models.ModalityInstallments,
		PlanID:    &planID,
	})
	require.NoError(t, err)
	return enrollment
}

func (f *billingFixture) pay(t *testing.T, enrollmentID, amount string) *models.PaymentReceipt {
	t.Helper()
	receipt, err := f.enrollments.RegisterPayment(context.Background(), cashier, enrollmentID, models.RegisterPaymentRequest{
		Amount: dec(amount),
		Method: models.MethodCash,
	})
	require.NoError(t, err)
	return receipt
}

func TestEnrollmentServiceCashEnrollmentTakesLastSeat(t *testing.T) {
	f := newBillingFixture(t, catalogProgram("1000.00", 1))

	enrollment, err := f.enrollments.Create(context.Background(), cashier, models.CreateEnrollmentRequest{
		StudentID: "student-1",
		ProgramID: "prog-1",
		Modality:  models.ModalityCash,
	})
	require.NoError(t, err)

	assert.Equal(t, "1000.00", enrollment.TotalAmount.StringFixed(2))
	assert.Equal(t, "100.00", enrollment.DiscountAmount.StringFixed(2))
	assert.Equal(t, "900.00", enrollment.FinalAmount.StringFixed(2))
	assert.Equal(t, models.PaymentPending, enrollment.PaymentState)
	assert.Equal(t, models.AcademicPreEnrolled, enrollment.AcademicState)
	assert.Equal(t, 0, f.ledger.program("prog-1").AvailableSeats)
	assert.Empty(t, f.ledger.schedule(enrollment.ID))
	assert.Contains(t, f.cache.invalidated, "prog-1")

	_, err = f.enrollments.Create(context.Background(), cashier, models.CreateEnrollmentRequest{
		StudentID: "student-2",
		ProgramID: "prog-1",
		Modality:  models.ModalityCash,
	})
	assert.ErrorIs(t, err, appErrors.ErrNoSeatsAvailable)
	assert.Equal(t, 0, f.ledger.program("prog-1").AvailableSeats)
	assert.Len(t, f.ledger.enrollments, 1)
}

func TestEnrollmentServiceConcurrentEnrollmentsNeverOversell(t *testing.T) {
	f := newBillingFixture(t, catalogProgram("1000.00", 1))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		full      int
	)
	for _, id := range []string{"student-1", "student-2", "student-3", "student-4", "student-5"} {
		wg.Add(1)
		go func(studentID string) {
			defer wg.Done()
			_, err := f.enrollments.Create(context.Background(), cashier, models.CreateEnrollmentRequest{
				StudentID: studentID,
				ProgramID: "prog-1",
				Modality:  models.ModalityCash,
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if assert.ErrorIs(t, err, appErrors.ErrNoSeatsAvailable) {
				full++
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 4, full)
	assert.Equal(t, 0, f.ledger.program("prog-1").AvailableSeats)
}

func TestEnrollmentServiceDuplicateEnrollmentKeepsSeat(t *testing.T) {
	f := newBillingFixture(t, catalogProgram("1000.00", 5))
	req := models.CreateEnrollmentRequest{StudentID: "student-1", ProgramID: "prog-1", Modality: models.ModalityCash}

	_, err := f.enrollments.Create(context.Background(), cashier, req)
	require.NoError(t, err)
	_, err = f.enrollments.Create(context.Background(), cashier, req)

	assert.ErrorIs(t, err, appErrors.ErrConflict)
	assert.Equal(t, 4, f.ledger.program("prog-1").AvailableSeats)
}

func TestEnrollmentServiceCreateValidation(t *testing.T) {
	f := newBillingFixture(t, catalogProgram("900.00", 5), threeMonthPlan())

	_, err := f.enrollments.Create(context.Background(), cashier, models.CreateEnrollmentRequest{
		StudentID: "student-1", ProgramID: "prog-1", Modality: models.ModalityInstallments,
	})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	inactive := f.students.students["student-2"]
	inactive.Active = false
	f.students.students["student-2"] = inactive
	_, err = f.enrollments.Create(context.Background(), cashier, models.CreateEnrollmentRequest{
		StudentID: "student-2", ProgramID: "prog-1", Modality: models.ModalityCash,
	})
	assert.ErrorIs(t, err, appErrors.ErrBusinessRule)

	_, err = f.enrollments.Create(context.Background(), cashier, models.CreateEnrollmentRequest{
		StudentID: "missing", ProgramID: "prog-1", Modality: models.ModalityCash,
	})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
	assert.Equal(t, 5, f.ledger.program("prog-1").AvailableSeats)
}

func TestEnrollmentServiceInstallmentsSettleInOrder(t *testing.T) {
	f := newBillingFixture(t, catalogProgram("900.00", 5), threeMonthPlan())
	enrollment := f.enrollInInstallments(t, "student-1")

	schedule := f.ledger.schedule(enrollment.ID)
	require.Len(t, schedule, 3)
	assert.Equal(t, date(2024, time.January, 1), schedule[0].DueDate)
	assert.Equal(t, date(2024, time.January, 31), schedule[1].DueDate)
	assert.Equal(t, date(2024, time.March, 1), schedule[2].DueDate)
	for _, inst := range schedule {
		assert.Equal(t, "300.00", inst.Amount.StringFixed(2))
		assert.Equal(t, models.InstallmentPending, inst.State)
	}

	states := []models.PaymentState{}
	for i := 0; i < 3; i++ {
		receipt := f.pay(t, enrollment.ID, "300.00")
		require.NotNil(t, receipt.Payment.InstallmentNumber)
		assert.Equal(t, i+1, *receipt.Payment.InstallmentNumber)
		assert.Equal(t, models.PaymentKindInstallment, receipt.Payment.Kind)
		states = append(states, receipt.Enrollment.PaymentState)
	}
	assert.Equal(t, []models.PaymentState{models.PaymentPartial, models.PaymentPartial, models.PaymentPaid}, states)

	stored := f.ledger.enrollment(enrollment.ID)
	assert.Equal(t, "900.00", stored.PaidAmount.StringFixed(2))
	for _, inst := range f.ledger.schedule(enrollment.ID) {
		assert.Equal(t, models.InstallmentPaid, inst.State)
		require.NotNil(t, inst.PaymentID)
	}
	assert.Equal(t, 3, f.ledger.movementCount())

	_, err := f.enrollments.RegisterPayment(context.Background(), cashier, enrollment.ID, models.RegisterPaymentRequest{
		Amount: dec("0.01"),
		Method: models.MethodCash,
	})
	assert.ErrorIs(t, err, appErrors.ErrExceedsBalance)
	assert.Equal(t, "900.00", f.ledger.enrollment(enrollment.ID).PaidAmount.StringFixed(2))
	assert.Equal(t, 3, f.ledger.movementCount())
}

func TestEnrollmentServiceRegisterPaymentPostsCashInflow(t *testing.T) {
	f := newBillingFixture(t, catalogProgram("1000.00", 5))
	enrollment, err := f.enrollments.Create(context.Background(), cashier, models.CreateEnrollmentRequest{
		StudentID: "student-1", ProgramID: "prog-1", Modality: models.ModalityCash,
	})
	require.NoError(t, err)

	receipt := f.pay(t, enrollment.ID, "400.00")

	assert.Equal(t, models.PaymentKindCash, receipt.Payment.Kind)
	assert.Nil(t, receipt.Payment.InstallmentNumber)
	assert.Equal(t, "Cash payment - Enrollment "+enrollment.ID, receipt.Payment.Concept)
	assert.Equal(t, models.PaymentPartial, receipt.Enrollment.PaymentState)

	movement := f.ledger.movementFor(receipt.Payment.ID)
	require.NotNil(t, movement)
	assert.Equal(t, models.MovementInflow, movement.Type)
	assert.Equal(t, models.ReferencePayment, movement.ReferenceType)
	assert.Equal(t, "400.00", movement.Amount.StringFixed(2))
}

func TestEnrollmentServiceCancelReleasesSeat(t *testing.T) {
	f := newBillingFixture(t, catalogProgram("900.00", 5), threeMonthPlan())
	enrollment := f.enrollInInstallments(t, "student-1")
	f.pay(t, enrollment.ID, "300.00")
	require.Equal(t, 4, f.ledger.program("prog-1").AvailableSeats)

	cancelled, err := f.enrollments.Cancel(context.Background(), admin, enrollment.ID, models.CancelEnrollmentRequest{Reason: "moved abroad"})
	require.NoError(t, err)

	assert.Equal(t, models.AcademicWithdrawn, cancelled.AcademicState)
	assert.Equal(t, models.PaymentCancelled, cancelled.PaymentState)
	assert.Equal(t, "300.00", cancelled.PaidAmount.StringFixed(2))
	require.NotNil(t, cancelled.Observations)
	assert.Contains(t, *cancelled.Observations, "moved abroad")
	assert.Equal(t, 5, f.ledger.program("prog-1").AvailableSeats)

	schedule := f.ledger.schedule(enrollment.ID)
	assert.Equal(t, models.InstallmentPaid, schedule[0].State)
	assert.Equal(t, models.InstallmentCancelled, schedule[1].State)
	assert.Equal(t, models.InstallmentCancelled, schedule[2].State)

	version := f.ledger.enrollment(enrollment.ID).Version
	_, err = f.enrollments.Cancel(context.Background(), admin, enrollment.ID, models.CancelEnrollmentRequest{})
	assert.ErrorIs(t, err, appErrors.ErrAlreadyCancelled)
	assert.Equal(t, version, f.ledger.enrollment(enrollment.ID).Version)
	assert.Equal(t, 5, f.ledger.program("prog-1").AvailableSeats)

	_, err = f.enrollments.RegisterPayment(context.Background(), cashier, enrollment.ID, models.RegisterPaymentRequest{
		Amount: dec("100.00"), Method: models.MethodCash,
	})
	assert.ErrorIs(t, err, appErrors.ErrAlreadyCancelled)
}

func TestEnrollmentServiceVoidRequiresReversedMovement(t *testing.T) {
	f := newBillingFixture(t, catalogProgram("900.00", 5), threeMonthPlan())
	enrollment := f.enrollInInstallments(t, "student-1")
	receipt := f.pay(t, enrollment.ID, "300.00")
	ctx := context.Background()

	_, err := f.enrollments.VoidPayment(ctx, admin, receipt.Payment.ID, models.VoidPaymentRequest{Reason: "duplicate"})
	assert.ErrorIs(t, err, appErrors.ErrVoidNotAllowed)
	assert.Equal(t, "300.00", f.ledger.enrollment(enrollment.ID).PaidAmount.StringFixed(2))

	movement := f.ledger.movementFor(receipt.Payment.ID)
	require.NotNil(t, movement)
	reversal, err := f.cash.Reverse(ctx, admin, movement.ID, models.ReverseMovementRequest{Reason: "duplicate"})
	require.NoError(t, err)
	assert.Equal(t, models.MovementOutflow, reversal.Type)

	voided, err := f.enrollments.VoidPayment(ctx, admin, receipt.Payment.ID, models.VoidPaymentRequest{Reason: "duplicate"})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusVoided, voided.Payment.Status)
	assert.Equal(t, "0.00", voided.Enrollment.PaidAmount.StringFixed(2))
	assert.Equal(t, models.PaymentPending, voided.Enrollment.PaymentState)

	first := f.ledger.schedule(enrollment.ID)[0]
	assert.Equal(t, models.InstallmentPending, first.State)
	assert.Nil(t, first.PaymentID)

	_, err = f.enrollments.VoidPayment(ctx, admin, receipt.Payment.ID, models.VoidPaymentRequest{Reason: "again"})
	assert.ErrorIs(t, err, appErrors.ErrVoidNotAllowed)
	assert.Equal(t, "0.00", f.ledger.enrollment(enrollment.ID).PaidAmount.StringFixed(2))
}

func TestEnrollmentServiceRefreshOverdueMarksDelinquent(t *testing.T) {
	f := newBillingFixture(t, catalogProgram("900.00", 5), threeMonthPlan())
	enrollment := f.enrollInInstallments(t, "student-1")

	later := date(2024, time.February, 15)
	f.enrollments.now = fixedClock(later)
	result, err := f.enrollments.RefreshOverdue(context.Background(), later)
	require.NoError(t, err)

	assert.Equal(t, int64(2), result.Installments)
	assert.Equal(t, int64(1), result.Enrollments)
	assert.Equal(t, models.PaymentDelinquent, f.ledger.enrollment(enrollment.ID).PaymentState)
	assert.Equal(t, later, f.ledger.enrollment(enrollment.ID).UpdatedAt)
	assert.Equal(t, 1, f.cache.flushed)

	receipt := f.pay(t, enrollment.ID, "300.00")
	assert.Equal(t, 1, *receipt.Payment.InstallmentNumber)
	assert.Equal(t, models.PaymentDelinquent, receipt.Enrollment.PaymentState)

	receipt = f.pay(t, enrollment.ID, "300.00")
	assert.Equal(t, models.PaymentPartial, receipt.Enrollment.PaymentState)
}

func TestEnrollmentServiceTransitionRules(t *testing.T) {
	f := newBillingFixture(t, catalogProgram("1000.00", 5))
	ctx := context.Background()
	enrollment, err := f.enrollments.Create(ctx, cashier, models.CreateEnrollmentRequest{
		StudentID: "student-1", ProgramID: "prog-1", Modality: models.ModalityCash,
	})
	require.NoError(t, err)

	_, err = f.enrollments.Transition(ctx, admin, enrollment.ID, models.TransitionRequest{Target: models.AcademicCompleted})
	assert.ErrorIs(t, err, appErrors.ErrInvalidStateTransition)

	for _, target := range []models.AcademicState{models.AcademicEnrolled, models.AcademicInProgress} {
		updated, err := f.enrollments.Transition(ctx, admin, enrollment.ID, models.TransitionRequest{Target: target})
		require.NoError(t, err)
		assert.Equal(t, target, updated.AcademicState)
	}

	_, err = f.enrollments.Transition(ctx, admin, enrollment.ID, models.TransitionRequest{Target: models.AcademicCompleted})
	assert.ErrorIs(t, err, appErrors.ErrBusinessRule)

	f.pay(t, enrollment.ID, "900.00")
	completed, err := f.enrollments.Transition(ctx, admin, enrollment.ID, models.TransitionRequest{Target: models.AcademicCompleted})
	require.NoError(t, err)
	assert.Equal(t, models.AcademicCompleted, completed.AcademicState)
	require.NotNil(t, completed.CompletionDate)

	_, err = f.enrollments.Cancel(ctx, admin, enrollment.ID, models.CancelEnrollmentRequest{})
	assert.ErrorIs(t, err, appErrors.ErrInvalidStateTransition)
}

func TestEnrollmentServiceWithdrawTransitionCancels(t *testing.T) {
	f := newBillingFixture(t, catalogProgram("1000.00", 2))
	enrollment, err := f.enrollments.Create(context.Background(), cashier, models.CreateEnrollmentRequest{
		StudentID: "student-1", ProgramID: "prog-1", Modality: models.ModalityCash,
	})
	require.NoError(t, err)

	withdrawn, err := f.enrollments.Transition(context.Background(), admin, enrollment.ID, models.TransitionRequest{Target: models.AcademicWithdrawn})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCancelled, withdrawn.PaymentState)
	assert.Equal(t, 2, f.ledger.program("prog-1").AvailableSeats)
}

func TestEnrollmentServiceAuthorization(t *testing.T) {
	f := newBillingFixture(t, catalogProgram("1000.00", 2))
	coordinator := models.Actor{ID: "33333333-3333-3333-3333-333333333333", Role: models.RoleCoordinator}
	enrollment, err := f.enrollments.Create(context.Background(), coordinator, models.CreateEnrollmentRequest{
		StudentID: "student-1", ProgramID: "prog-1", Modality: models.ModalityCash,
	})
	require.NoError(t, err)

	_, err = f.enrollments.RegisterPayment(context.Background(), coordinator, enrollment.ID, models.RegisterPaymentRequest{
		Amount: dec("10.00"), Method: models.MethodCash,
	})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
	assert.True(t, f.ledger.enrollment(enrollment.ID).PaidAmount.IsZero())
}

func TestEnrollmentServicePaymentValidation(t *testing.T) {
	f := newBillingFixture(t, catalogProgram("1000.00", 2))
	enrollment, err := f.enrollments.Create(context.Background(), cashier, models.CreateEnrollmentRequest{
		StudentID: "student-1", ProgramID: "prog-1", Modality: models.ModalityCash,
	})
	require.NoError(t, err)

	_, err = f.enrollments.RegisterPayment(context.Background(), cashier, enrollment.ID, models.RegisterPaymentRequest{
		Amount: dec("0"), Method: models.PaymentMethod("BARTER"),
	})
	require.ErrorIs(t, err, appErrors.ErrValidation)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Len(t, appErr.Details, 2)
}

func (f *billingFixture) reverseAndVoid(t *testing.T, paymentID string) *models.PaymentReceipt {
	t.Helper()
	ctx := context.Background()
	movement := f.ledger.movementFor(paymentID)
	require.NotNil(t, movement)
	_, err := f.cash.Reverse(ctx, admin, movement.ID, models.ReverseMovementRequest{Reason: "entered twice"})
	require.NoError(t, err)
	receipt, err := f.enrollments.VoidPayment(ctx, admin, paymentID, models.VoidPaymentRequest{Reason: "entered twice"})
	require.NoError(t, err)
	return receipt
}

func TestEnrollmentServiceSmallPaymentsLeaveInstallmentOpen(t *testing.T) {
	f := newBillingFixture(t, catalogProgram("900.00", 5), threeMonthPlan())
	enrollment := f.enrollInInstallments(t, "student-1")

	for i := 0; i < 3; i++ {
		receipt := f.pay(t, enrollment.ID, "1.00")
		require.NotNil(t, receipt.Payment.InstallmentNumber)
		assert.Equal(t, 1, *receipt.Payment.InstallmentNumber)
	}

	schedule := f.ledger.schedule(enrollment.ID)
	assert.Equal(t, "3.00", schedule[0].PaidAmount.StringFixed(2))
	assert.Equal(t, "297.00", schedule[0].Outstanding().StringFixed(2))
	for _, inst := range schedule {
		assert.Equal(t, models.InstallmentPending, inst.State)
		assert.Nil(t, inst.PaymentID)
	}

	june := date(2024, time.June, 1)
	f.enrollments.now = fixedClock(june)
	result, err := f.enrollments.RefreshOverdue(context.Background(), june)
	require.NoError(t, err)

	assert.Equal(t, int64(3), result.Installments)
	stored := f.ledger.enrollment(enrollment.ID)
	assert.Equal(t, "3.00", stored.PaidAmount.StringFixed(2))
	assert.Equal(t, models.PaymentDelinquent, stored.PaymentState)
}

func TestEnrollmentServiceSinglePaymentSettlesWholeSchedule(t *testing.T) {
	f := newBillingFixture(t, catalogProgram("900.00", 5), threeMonthPlan())
	enrollment := f.enrollInInstallments(t, "student-1")

	receipt := f.pay(t, enrollment.ID, "900.00")
	assert.Equal(t, models.PaymentPaid, receipt.Enrollment.PaymentState)
	for _, inst := range f.ledger.schedule(enrollment.ID) {
		assert.Equal(t, models.InstallmentPaid, inst.State)
		assert.Equal(t, "300.00", inst.PaidAmount.StringFixed(2))
		require.NotNil(t, inst.PaymentID)
		assert.Equal(t, receipt.Payment.ID, *inst.PaymentID)
	}

	june := date(2024, time.June, 1)
	f.enrollments.now = fixedClock(june)
	result, err := f.enrollments.RefreshOverdue(context.Background(), june)
	require.NoError(t, err)

	assert.Equal(t, int64(0), result.Installments)
	assert.Equal(t, models.PaymentPaid, f.ledger.enrollment(enrollment.ID).PaymentState)
	for _, inst := range f.ledger.schedule(enrollment.ID) {
		assert.Equal(t, models.InstallmentPaid, inst.State)
	}
}

func TestEnrollmentServiceExcessCarriesToNextInstallment(t *testing.T) {
	f := newBillingFixture(t, catalogProgram("900.00", 5), threeMonthPlan())
	enrollment := f.enrollInInstallments(t, "student-1")

	f.pay(t, enrollment.ID, "300.00")
	second := f.pay(t, enrollment.ID, "150.00")
	assert.Equal(t, 2, *second.Payment.InstallmentNumber)

	schedule := f.ledger.schedule(enrollment.ID)
	assert.Equal(t, models.InstallmentPaid, schedule[0].State)
	assert.Equal(t, "150.00", schedule[1].PaidAmount.StringFixed(2))
	assert.Equal(t, models.InstallmentPending, schedule[1].State)

	f.enrollments.now = fixedClock(date(2024, time.February, 15))
	voided := f.reverseAndVoid(t, second.Payment.ID)
	assert.Equal(t, "300.00", voided.Enrollment.PaidAmount.StringFixed(2))
	assert.Equal(t, models.PaymentDelinquent, voided.Enrollment.PaymentState)

	schedule = f.ledger.schedule(enrollment.ID)
	assert.Equal(t, models.InstallmentPaid, schedule[0].State)
	assert.True(t, schedule[1].PaidAmount.IsZero())
	assert.Equal(t, models.InstallmentOverdue, schedule[1].State)
	assert.Equal(t, models.InstallmentPending, schedule[2].State)
}

func TestEnrollmentServiceVoidReopensSpilledInstallments(t *testing.T) {
	f := newBillingFixture(t, catalogProgram("900.00", 5), threeMonthPlan())
	enrollment := f.enrollInInstallments(t, "student-1")

	receipt := f.pay(t, enrollment.ID, "450.00")
	schedule := f.ledger.schedule(enrollment.ID)
	assert.Equal(t, models.InstallmentPaid, schedule[0].State)
	assert.Equal(t, "150.00", schedule[1].PaidAmount.StringFixed(2))

	voided := f.reverseAndVoid(t, receipt.Payment.ID)
	assert.Equal(t, models.PaymentPending, voided.Enrollment.PaymentState)
	for _, inst := range f.ledger.schedule(enrollment.ID) {
		assert.True(t, inst.PaidAmount.IsZero())
		assert.Equal(t, models.InstallmentPending, inst.State)
		assert.Nil(t, inst.PaidOn)
	}
}

func TestEnrollmentServicePendingPaymentVoidableAfterCancel(t *testing.T) {
	f := newBillingFixture(t, catalogProgram("900.00", 5), threeMonthPlan())
	enrollment := f.enrollInInstallments(t, "student-1")
	ctx := context.Background()

	pending, err := f.payments.Record(ctx, cashier, models.RecordPaymentRequest{
		EnrollmentID: &enrollment.ID, Amount: dec("300.00"), Method: models.MethodCheck,
	})
	require.NoError(t, err)
	_, err = f.enrollments.Cancel(ctx, admin, enrollment.ID, models.CancelEnrollmentRequest{Reason: "moved"})
	require.NoError(t, err)

	_, err = f.enrollments.ConfirmPayment(ctx, cashier, pending.ID)
	assert.ErrorIs(t, err, appErrors.ErrAlreadyCancelled)

	voided, err := f.enrollments.VoidPayment(ctx, admin, pending.ID, models.VoidPaymentRequest{Reason: "cheque returned"})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusVoided, voided.Payment.Status)
	assert.True(t, f.ledger.enrollment(enrollment.ID).PaidAmount.IsZero())
	assert.Equal(t, models.PaymentCancelled, f.ledger.enrollment(enrollment.ID).PaymentState)
	assert.Equal(t, 0, f.ledger.movementCount())
}
