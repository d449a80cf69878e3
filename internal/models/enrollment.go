package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/edu-billing-api/pkg/money"
)

// Modality is how the student agreed to pay.
type Modality string

const (
	ModalityCash         Modality = "CASH"
	ModalityInstallments Modality = "INSTALLMENTS"
)

// Valid reports whether m is a known modality.
func (m Modality) Valid() bool {
	return m == ModalityCash || m == ModalityInstallments
}

// PaymentState is the financial axis of an enrollment. It is never set directly:
// see DerivePaymentState.
type PaymentState string

const (
	PaymentPending    PaymentState = "PENDING"
	PaymentPartial    PaymentState = "PARTIAL"
	PaymentPaid       PaymentState = "PAID"
	PaymentDelinquent PaymentState = "DELINQUENT"
	PaymentCancelled  PaymentState = "CANCELLED"
)

// DerivePaymentState is the single source of the payment axis. CANCELLED only ever
// comes from an explicit cancellation.
func DerivePaymentState(paid, final decimal.Decimal, cancelled bool) PaymentState {
	switch {
	case cancelled:
		return PaymentCancelled
	case paid.LessThanOrEqual(decimal.Zero):
		return PaymentPending
	case paid.GreaterThanOrEqual(final):
		return PaymentPaid
	default:
		return PaymentPartial
	}
}

// ApplyDelinquency marks open balances with overdue installments as DELINQUENT.
func ApplyDelinquency(state PaymentState, hasOverdue bool) PaymentState {
	if hasOverdue && (state == PaymentPending || state == PaymentPartial) {
		return PaymentDelinquent
	}
	return state
}

// AcademicState is the academic axis of an enrollment.
type AcademicState string

const (
	AcademicPreEnrolled AcademicState = "PRE_ENROLLED"
	AcademicEnrolled    AcademicState = "ENROLLED"
	AcademicInProgress  AcademicState = "IN_PROGRESS"
	AcademicCompleted   AcademicState = "COMPLETED"
	AcademicApproved    AcademicState = "APPROVED"
	AcademicFailed      AcademicState = "FAILED"
	AcademicWithdrawn   AcademicState = "WITHDRAWN"
	AcademicSuspended   AcademicState = "SUSPENDED"
)

var academicTransitions = map[AcademicState][]AcademicState{
	AcademicPreEnrolled: {AcademicEnrolled, AcademicWithdrawn, AcademicSuspended},
	AcademicEnrolled:    {AcademicInProgress, AcademicWithdrawn, AcademicSuspended},
	AcademicInProgress:  {AcademicCompleted, AcademicApproved, AcademicFailed, AcademicWithdrawn, AcademicSuspended},
	AcademicSuspended:   {AcademicWithdrawn},
}

// Terminal reports whether no further academic transition is possible.
func (s AcademicState) Terminal() bool {
	switch s {
	case AcademicCompleted, AcademicApproved, AcademicFailed, AcademicWithdrawn:
		return true
	}
	return false
}

// Active reports whether the student is still taking part in the program.
func (s AcademicState) Active() bool {
	return s == AcademicPreEnrolled || s == AcademicEnrolled || s == AcademicInProgress
}

// CanTransition reports whether s -> to is legal on the academic axis.
func (s AcademicState) CanTransition(to AcademicState) bool {
	for _, next := range academicTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// ActiveAcademicStates lists the states that keep a program from concluding.
var ActiveAcademicStates = []AcademicState{AcademicPreEnrolled, AcademicEnrolled, AcademicInProgress}

// Enrollment links one student to one program with agreed payment terms.
type Enrollment struct {
	ID             string          `db:"id" json:"id"`
	StudentID      string          `db:"student_id" json:"student_id"`
	ProgramID      string          `db:"program_id" json:"program_id"`
	Modality       Modality        `db:"modality" json:"modality"`
	PlanID         *string         `db:"plan_id" json:"plan_id,omitempty"`
	TotalAmount    decimal.Decimal `db:"total_amount" json:"total_amount"`
	DiscountAmount decimal.Decimal `db:"discount_amount" json:"discount_amount"`
	FinalAmount    decimal.Decimal `db:"final_amount" json:"final_amount"`
	PaidAmount     decimal.Decimal `db:"paid_amount" json:"paid_amount"`
	PaymentState   PaymentState    `db:"payment_state" json:"payment_state"`
	AcademicState  AcademicState   `db:"academic_state" json:"academic_state"`
	EnrolledOn     time.Time       `db:"enrolled_on" json:"enrolled_on"`
	StartDate      *time.Time      `db:"start_date" json:"start_date,omitempty"`
	CompletionDate *time.Time      `db:"completion_date" json:"completion_date,omitempty"`
	CoordinatorID  *string         `db:"coordinator_id" json:"coordinator_id,omitempty"`
	Observations   *string         `db:"observations" json:"observations,omitempty"`
	Version        int             `db:"version" json:"version"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// Balance is the amount still owed, never negative.
func (e Enrollment) Balance() decimal.Decimal {
	b := e.FinalAmount.Sub(e.PaidAmount)
	if b.IsNegative() {
		return decimal.Zero
	}
	return b
}

// PaidPercent is the share of the final amount already paid.
func (e Enrollment) PaidPercent() decimal.Decimal {
	return money.Ratio(e.PaidAmount, e.FinalAmount)
}

// Cancelled reports whether the enrollment was cancelled.
func (e Enrollment) Cancelled() bool {
	return e.PaymentState == PaymentCancelled
}

// CreateEnrollmentRequest enrolls a student.
type CreateEnrollmentRequest struct {
	StudentID     string     `json:"student_id" validate:"required"`
	ProgramID     string     `json:"program_id" validate:"required"`
	Modality      Modality   `json:"modality" validate:"required"`
	PlanID        *string    `json:"plan_id"`
	StartDate     *time.Time `json:"start_date"`
	CoordinatorID *string    `json:"coordinator_id"`
	Observations  *string    `json:"observations" validate:"omitempty,max=1000"`
}

// RegisterPaymentRequest registers a confirmed payment against an enrollment.
type RegisterPaymentRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	Method         PaymentMethod   `json:"method" validate:"required"`
	Installment    *int            `json:"installment"`
	ReceiptNumber  *string         `json:"receipt_number" validate:"omitempty,max=50"`
	TransactionRef *string         `json:"transaction_ref" validate:"omitempty,max=100"`
	PaidOn         *time.Time      `json:"paid_on"`
}

// CancelEnrollmentRequest withdraws a student.
type CancelEnrollmentRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// TransitionRequest moves an enrollment along the academic axis.
type TransitionRequest struct {
	Target AcademicState `json:"target" validate:"required"`
	On     *time.Time    `json:"on"`
}

// EnrollmentFilter captures list filters.
type EnrollmentFilter struct {
	StudentID     string
	ProgramID     string
	PaymentState  *PaymentState
	AcademicState *AcademicState
	Page          int
	PageSize      int
}
