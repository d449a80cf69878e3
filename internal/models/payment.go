package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentKind distinguishes enrollment payments from generic income.
type PaymentKind string

const (
	PaymentKindInstallment   PaymentKind = "ENROLLMENT_INSTALLMENT"
	PaymentKindCash          PaymentKind = "ENROLLMENT_CASH"
	PaymentKindGenericIncome PaymentKind = "GENERIC_INCOME"
)

// PaymentMethod is how the money was received.
type PaymentMethod string

const (
	MethodCash       PaymentMethod = "CASH"
	MethodTransfer   PaymentMethod = "TRANSFER"
	MethodCreditCard PaymentMethod = "CREDIT_CARD"
	MethodDebitCard  PaymentMethod = "DEBIT_CARD"
	MethodDeposit    PaymentMethod = "DEPOSIT"
	MethodCheck      PaymentMethod = "CHECK"
	MethodOther      PaymentMethod = "OTHER"
)

// Valid reports whether m is an accepted payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodTransfer, MethodCreditCard, MethodDebitCard, MethodDeposit, MethodCheck, MethodOther:
		return true
	}
	return false
}

// PaymentStatus is the lifecycle of a payment record.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusConfirmed PaymentStatus = "CONFIRMED"
	PaymentStatusVoided    PaymentStatus = "VOIDED"
)

// Payment is an append-only money receipt. A nil EnrollmentID marks generic income.
type Payment struct {
	ID                string          `db:"id" json:"id"`
	EnrollmentID      *string         `db:"enrollment_id" json:"enrollment_id,omitempty"`
	Kind              PaymentKind     `db:"kind" json:"kind"`
	InstallmentNumber *int            `db:"installment_number" json:"installment_number,omitempty"`
	Amount            decimal.Decimal `db:"amount" json:"amount"`
	Method            PaymentMethod   `db:"method" json:"method"`
	Concept           string          `db:"concept" json:"concept"`
	Status            PaymentStatus   `db:"status" json:"status"`
	ReceiptNumber     *string         `db:"receipt_number" json:"receipt_number,omitempty"`
	TransactionRef    *string         `db:"transaction_ref" json:"transaction_ref,omitempty"`
	PaidOn            time.Time       `db:"paid_on" json:"paid_on"`
	CreatedBy         string          `db:"created_by" json:"created_by"`
	ConfirmedBy       *string         `db:"confirmed_by" json:"confirmed_by,omitempty"`
	ConfirmedAt       *time.Time      `db:"confirmed_at" json:"confirmed_at,omitempty"`
	VoidedBy          *string         `db:"voided_by" json:"voided_by,omitempty"`
	VoidedAt          *time.Time      `db:"voided_at" json:"voided_at,omitempty"`
	VoidReason        *string         `db:"void_reason" json:"void_reason,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
}

// Generic reports whether the payment is not tied to an enrollment.
func (p Payment) Generic() bool {
	return p.EnrollmentID == nil
}

// RecordPaymentRequest stores a payment, optionally confirming it right away.
type RecordPaymentRequest struct {
	EnrollmentID   *string         `json:"enrollment_id"`
	Amount         decimal.Decimal `json:"amount"`
	Method         PaymentMethod   `json:"method" validate:"required"`
	Installment    *int            `json:"installment"`
	Concept        *string         `json:"concept" validate:"omitempty,max=255"`
	ReceiptNumber  *string         `json:"receipt_number" validate:"omitempty,max=50"`
	TransactionRef *string         `json:"transaction_ref" validate:"omitempty,max=100"`
	PaidOn         *time.Time      `json:"paid_on"`
	Confirm        bool            `json:"confirm"`
}

// GenericIncomeRequest records revenue not tied to an enrollment.
type GenericIncomeRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	Concept        string          `json:"concept" validate:"required,max=255"`
	Method         PaymentMethod   `json:"method" validate:"required"`
	ReceiptNumber  *string         `json:"receipt_number" validate:"omitempty,max=50"`
	TransactionRef *string         `json:"transaction_ref" validate:"omitempty,max=100"`
	PaidOn         *time.Time      `json:"paid_on"`
}

// VoidPaymentRequest carries the reason for a void.
type VoidPaymentRequest struct {
	Reason string `json:"reason" validate:"required,max=255"`
}

// PaymentFilter captures list filters.
type PaymentFilter struct {
	EnrollmentID string
	Kind         *PaymentKind
	Status       *PaymentStatus
	From         *time.Time
	To           *time.Time
	Page         int
	PageSize     int
}

// PaymentConfirmedEvent is emitted inside the confirming transaction.
type PaymentConfirmedEvent struct {
	EnrollmentID *string
	PaymentID    string
	Amount       decimal.Decimal
	Method       PaymentMethod
	Kind         PaymentKind
	Concept      string
	On           time.Time
	ActorID      string
}

// PaymentReceipt is the outcome of a settled or voided enrollment payment.
type PaymentReceipt struct {
	Payment    Payment     `json:"payment"`
	Enrollment *Enrollment `json:"enrollment,omitempty"`
}
