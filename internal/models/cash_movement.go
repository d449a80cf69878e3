package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MovementType is the direction of a cash movement.
type MovementType string

const (
	MovementInflow  MovementType = "INFLOW"
	MovementOutflow MovementType = "OUTFLOW"
)

// ReferenceType names what originated a movement.
type ReferenceType string

const (
	ReferencePayment       ReferenceType = "PAYMENT"
	ReferenceGenericIncome ReferenceType = "GENERIC_INCOME"
	ReferenceExpense       ReferenceType = "EXPENSE"
	ReferenceReversal      ReferenceType = "REVERSAL"
)

// CashMovement is an immutable cash-desk entry. Corrections are inverse entries that
// point back to the original through ReversedBy.
type CashMovement struct {
	ID            string          `db:"id" json:"id"`
	Type          MovementType    `db:"type" json:"type"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	Description   string          `db:"description" json:"description"`
	ReferenceType ReferenceType   `db:"reference_type" json:"reference_type"`
	ReferenceID   *string         `db:"reference_id" json:"reference_id,omitempty"`
	MovementDate  time.Time       `db:"movement_date" json:"movement_date"`
	CreatedBy     string          `db:"created_by" json:"created_by"`
	ReversedBy    *string         `db:"reversed_by" json:"reversed_by,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// Signed returns the amount with the sign of its direction.
func (m CashMovement) Signed() decimal.Decimal {
	if m.Type == MovementOutflow {
		return m.Amount.Neg()
	}
	return m.Amount
}

// ExpenseRequest records an outflow from the cash desk.
type ExpenseRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description" validate:"required,max=255"`
	On          *time.Time      `json:"on"`
}

// ReverseMovementRequest reverses a posted movement.
type ReverseMovementRequest struct {
	Reason string `json:"reason" validate:"required,max=200"`
}

// CashSummary aggregates movements over a period.
type CashSummary struct {
	From     time.Time       `json:"from"`
	To       time.Time       `json:"to"`
	Inflows  decimal.Decimal `json:"inflows"`
	Outflows decimal.Decimal `json:"outflows"`
	Net      decimal.Decimal `json:"net"`
	Count    int             `json:"count"`
	Opening  decimal.Decimal `json:"opening_balance"`
	Closing  decimal.Decimal `json:"closing_balance"`
}
