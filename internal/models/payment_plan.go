package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentPlan is a named installment template owned by one program.
type PaymentPlan struct {
	ID           string    `db:"id" json:"id"`
	ProgramID    string    `db:"program_id" json:"program_id"`
	Name         string    `db:"name" json:"name"`
	Description  *string   `db:"description" json:"description,omitempty"`
	Installments int       `db:"installments" json:"installments"`
	IntervalDays int       `db:"interval_days" json:"interval_days"`
	Active       bool      `db:"active" json:"active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// SpanDays is the number of days between the first and last due dates.
func (p PaymentPlan) SpanDays() int {
	return (p.Installments - 1) * p.IntervalDays
}

// CreatePaymentPlanRequest defines a new plan for a program.
type CreatePaymentPlanRequest struct {
	ProgramID    string  `json:"program_id" validate:"required"`
	Name         string  `json:"name"`
	Description  *string `json:"description" validate:"omitempty,max=500"`
	Installments int     `json:"installments"`
	IntervalDays int     `json:"interval_days"`
}

// PaymentPlanUpdate lists the editable plan fields. Installments and IntervalDays are
// frozen once any enrollment uses the plan.
type PaymentPlanUpdate struct {
	Name         *string `json:"name"`
	Description  *string `json:"description" validate:"omitempty,max=500"`
	Installments *int    `json:"installments"`
	IntervalDays *int    `json:"interval_days"`
}

// ChangesTerms reports whether the update touches the schedule shape.
func (u PaymentPlanUpdate) ChangesTerms() bool {
	return u.Installments != nil || u.IntervalDays != nil
}

// ScheduleItem is one row of a generated installment schedule.
type ScheduleItem struct {
	Index   int             `json:"index"`
	DueDate time.Time       `json:"due_date"`
	Amount  decimal.Decimal `json:"amount"`
}

// PlanSimulation shows what a plan would look like for a given total.
type PlanSimulation struct {
	Plan              PaymentPlan     `json:"plan"`
	InstallmentAmount decimal.Decimal `json:"installment_amount"`
	Total             decimal.Decimal `json:"total"`
	Schedule          []ScheduleItem  `json:"schedule"`
	MeetsMinimum      bool            `json:"meets_minimum"`
}

// ScheduleRequest asks for a schedule preview.
type ScheduleRequest struct {
	Total     decimal.Decimal `json:"total"`
	StartDate time.Time       `json:"start_date"`
}

// RecommendPlanRequest asks for the most balanced plan of a program.
type RecommendPlanRequest struct {
	Total          decimal.Decimal `json:"total"`
	PreferredCount *int            `json:"preferred_count"`
}
