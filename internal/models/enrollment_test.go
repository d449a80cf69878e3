package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestDerivePaymentState(t *testing.T) {
	final := dec("900")
	cases := []struct {
		name      string
		paid      string
		cancelled bool
		want      PaymentState
	}{
		{"nothing paid", "0", false, PaymentPending},
		{"some paid", "300", false, PaymentPartial},
		{"almost paid", "899.99", false, PaymentPartial},
		{"fully paid", "900", false, PaymentPaid},
		{"cancelled overrides partial", "300", true, PaymentCancelled},
		{"cancelled overrides paid", "900", true, PaymentCancelled},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DerivePaymentState(dec(tc.paid), final, tc.cancelled))
		})
	}
}

func TestDerivePaymentStateZeroFinal(t *testing.T) {
	assert.Equal(t, PaymentPending, DerivePaymentState(decimal.Zero, decimal.Zero, false))
}

func TestApplyDelinquency(t *testing.T) {
	assert.Equal(t, PaymentDelinquent, ApplyDelinquency(PaymentPartial, true))
	assert.Equal(t, PaymentDelinquent, ApplyDelinquency(PaymentPending, true))
	assert.Equal(t, PaymentPaid, ApplyDelinquency(PaymentPaid, true))
	assert.Equal(t, PaymentCancelled, ApplyDelinquency(PaymentCancelled, true))
	assert.Equal(t, PaymentPartial, ApplyDelinquency(PaymentPartial, false))
}

func TestAcademicTransitions(t *testing.T) {
	assert.True(t, AcademicPreEnrolled.CanTransition(AcademicEnrolled))
	assert.True(t, AcademicInProgress.CanTransition(AcademicApproved))
	assert.True(t, AcademicEnrolled.CanTransition(AcademicWithdrawn))
	assert.False(t, AcademicPreEnrolled.CanTransition(AcademicCompleted))
	assert.False(t, AcademicWithdrawn.CanTransition(AcademicEnrolled))
	assert.False(t, AcademicApproved.CanTransition(AcademicWithdrawn))
	assert.True(t, AcademicFailed.Terminal())
	assert.False(t, AcademicSuspended.Terminal())
}

func TestEnrollmentBalance(t *testing.T) {
	e := Enrollment{FinalAmount: dec("900"), PaidAmount: dec("300")}
	assert.True(t, e.Balance().Equal(dec("600")))
	assert.Equal(t, "33.33", e.PaidPercent().StringFixed(2))

	e.PaidAmount = dec("950")
	assert.True(t, e.Balance().IsZero())
}

func TestProgramCost(t *testing.T) {
	today := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	expires := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	p := Program{
		BaseCost:           dec("1000"),
		CashDiscountPct:    dec("10"),
		PromotionActive:    true,
		PromotionPct:       dec("15"),
		PromotionExpiresOn: &expires,
	}

	assert.True(t, p.Cost(true, today).Equal(dec("900")), "cash path ignores promotion")
	assert.True(t, p.Cost(false, today).Equal(dec("850")), "promotion valid through its expiry date")
	assert.True(t, p.Cost(false, today.AddDate(0, 0, 1)).Equal(dec("1000")), "expired promotion")

	p.PromotionActive = false
	assert.True(t, p.Cost(false, today).Equal(dec("1000")))
}

func TestProgramTransitions(t *testing.T) {
	assert.True(t, ProgramPlanned.CanTransition(ProgramStarted))
	assert.True(t, ProgramPlanned.CanTransition(ProgramCancelled))
	assert.True(t, ProgramStarted.CanTransition(ProgramConcluded))
	assert.False(t, ProgramPlanned.CanTransition(ProgramConcluded))
	assert.False(t, ProgramConcluded.CanTransition(ProgramCancelled))
	assert.False(t, ProgramCancelled.CanTransition(ProgramStarted))
}

func TestInstallmentPastDue(t *testing.T) {
	due := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	inst := Installment{DueDate: due, State: InstallmentPending}

	assert.False(t, inst.PastDue(due))
	assert.True(t, inst.PastDue(due.AddDate(0, 0, 1)))
	assert.Equal(t, 3, inst.DaysUntilDue(due.AddDate(0, 0, -3)))

	inst.State = InstallmentPaid
	assert.False(t, inst.PastDue(due.AddDate(0, 0, 5)))
}

func TestInstallmentOutstanding(t *testing.T) {
	inst := Installment{Amount: dec("300"), PaidAmount: dec("120.50"), State: InstallmentOverdue}
	assert.Equal(t, "179.50", inst.Outstanding().StringFixed(2))

	inst.State = InstallmentPaid
	assert.True(t, inst.Outstanding().IsZero())

	inst = Installment{Amount: dec("300"), PaidAmount: dec("0"), State: InstallmentCancelled}
	assert.True(t, inst.Outstanding().IsZero())
}
