package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// InstallmentState tracks one scheduled payment.
type InstallmentState string

const (
	InstallmentPending   InstallmentState = "PENDING"
	InstallmentPaid      InstallmentState = "PAID"
	InstallmentOverdue   InstallmentState = "OVERDUE"
	InstallmentCancelled InstallmentState = "CANCELLED"
)

// Installment is a scheduled payment of an INSTALLMENTS enrollment.
type Installment struct {
	ID           string           `db:"id" json:"id"`
	EnrollmentID string           `db:"enrollment_id" json:"enrollment_id"`
	Number       int              `db:"number" json:"number"`
	Amount       decimal.Decimal  `db:"amount" json:"amount"`
	PaidAmount   decimal.Decimal  `db:"paid_amount" json:"paid_amount"`
	DueDate      time.Time        `db:"due_date" json:"due_date"`
	State        InstallmentState `db:"state" json:"state"`
	PaidOn       *time.Time       `db:"paid_on" json:"paid_on,omitempty"`
	PaymentID    *string          `db:"payment_id" json:"payment_id,omitempty"`
}

// Open reports whether the installment still expects money.
func (i Installment) Open() bool {
	return i.State == InstallmentPending || i.State == InstallmentOverdue
}

// Outstanding is what the installment still expects. Closed installments owe nothing.
func (i Installment) Outstanding() decimal.Decimal {
	if !i.Open() {
		return decimal.Zero
	}
	rest := i.Amount.Sub(i.PaidAmount)
	if rest.IsNegative() {
		return decimal.Zero
	}
	return rest
}

// PastDue reports whether an open installment is late on the given date.
func (i Installment) PastDue(on time.Time) bool {
	return i.Open() && DateOf(on).After(DateOf(i.DueDate))
}

// DaysUntilDue is negative once the due date has passed.
func (i Installment) DaysUntilDue(on time.Time) int {
	return int(DateOf(i.DueDate).Sub(DateOf(on)).Hours() / 24)
}
