package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/edu-billing-api/pkg/money"
)

// ProgramState is the lifecycle of an academic program.
type ProgramState string

const (
	ProgramPlanned   ProgramState = "PLANNED"
	ProgramStarted   ProgramState = "STARTED"
	ProgramConcluded ProgramState = "CONCLUDED"
	ProgramCancelled ProgramState = "CANCELLED"
)

var programTransitions = map[ProgramState][]ProgramState{
	ProgramPlanned: {ProgramStarted, ProgramCancelled},
	ProgramStarted: {ProgramConcluded, ProgramCancelled},
}

// CanTransition reports whether s -> to is a legal lifecycle step.
func (s ProgramState) CanTransition(to ProgramState) bool {
	for _, next := range programTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// AcceptsEnrollments reports whether new students may join.
func (s ProgramState) AcceptsEnrollments() bool {
	return s == ProgramPlanned || s == ProgramStarted
}

// Program is a catalog entry with capacity and pricing rules.
type Program struct {
	ID                   string          `db:"id" json:"id"`
	Code                 string          `db:"code" json:"code"`
	Name                 string          `db:"name" json:"name"`
	Description          *string         `db:"description" json:"description,omitempty"`
	DurationWeeks        *int            `db:"duration_weeks" json:"duration_weeks,omitempty"`
	Hours                *int            `db:"hours" json:"hours,omitempty"`
	BaseCost             decimal.Decimal `db:"base_cost" json:"base_cost"`
	RegistrationFee      decimal.Decimal `db:"registration_fee" json:"registration_fee"`
	EnrollmentFee        decimal.Decimal `db:"enrollment_fee" json:"enrollment_fee"`
	TotalSeats           int             `db:"total_seats" json:"total_seats"`
	AvailableSeats       int             `db:"available_seats" json:"available_seats"`
	CashDiscountPct      decimal.Decimal `db:"cash_discount_pct" json:"cash_discount_pct"`
	PromotionActive      bool            `db:"promotion_active" json:"promotion_active"`
	PromotionPct         decimal.Decimal `db:"promotion_pct" json:"promotion_pct"`
	PromotionDescription *string         `db:"promotion_description" json:"promotion_description,omitempty"`
	PromotionExpiresOn   *time.Time      `db:"promotion_expires_on" json:"promotion_expires_on,omitempty"`
	State                ProgramState    `db:"state" json:"state"`
	StartDate            *time.Time      `db:"start_date" json:"start_date,omitempty"`
	EndDate              *time.Time      `db:"end_date" json:"end_date,omitempty"`
	TutorID              *string         `db:"tutor_id" json:"tutor_id,omitempty"`
	StartedAt            *time.Time      `db:"started_at" json:"started_at,omitempty"`
	ConcludedAt          *time.Time      `db:"concluded_at" json:"concluded_at,omitempty"`
	CancelledAt          *time.Time      `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt            time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time       `db:"updated_at" json:"updated_at"`
}

// OccupiedSeats is the number of seats currently taken.
func (p Program) OccupiedSeats() int {
	return p.TotalSeats - p.AvailableSeats
}

// PromotionInEffect reports whether the promotion applies on the given date. A
// promotion without expiry stays in effect until deactivated.
func (p Program) PromotionInEffect(on time.Time) bool {
	if !p.PromotionActive || !p.PromotionPct.IsPositive() {
		return false
	}
	if p.PromotionExpiresOn == nil {
		return true
	}
	return !DateOf(on).After(DateOf(*p.PromotionExpiresOn))
}

// Cost returns the amount charged for the program. The cash path applies only the
// cash discount; other modalities get the promotion when it is in effect.
func (p Program) Cost(cash bool, on time.Time) decimal.Decimal {
	if cash {
		return money.ApplyDiscount(p.BaseCost, p.CashDiscountPct)
	}
	if p.PromotionInEffect(on) {
		return money.ApplyDiscount(p.BaseCost, p.PromotionPct)
	}
	return money.Round(p.BaseCost)
}

// CreateProgramRequest registers a program in the catalog.
type CreateProgramRequest struct {
	Code            string           `json:"code" validate:"required"`
	Name            string           `json:"name" validate:"required,max=200"`
	Description     *string          `json:"description"`
	DurationWeeks   *int             `json:"duration_weeks"`
	Hours           *int             `json:"hours" validate:"omitempty,gte=0"`
	BaseCost        decimal.Decimal  `json:"base_cost"`
	RegistrationFee *decimal.Decimal `json:"registration_fee"`
	EnrollmentFee   *decimal.Decimal `json:"enrollment_fee"`
	TotalSeats      int              `json:"total_seats"`
	CashDiscountPct *decimal.Decimal `json:"cash_discount_pct"`
	StartDate       *time.Time       `json:"start_date"`
	EndDate         *time.Time       `json:"end_date"`
	TutorID         *string          `json:"tutor_id" validate:"omitempty,uuid"`
}

// ProgramUpdate lists the catalog fields that may be edited. Seats, pricing and dates
// are validated individually before the row is touched.
type ProgramUpdate struct {
	Name            *string          `json:"name" validate:"omitempty,max=200"`
	Description     *string          `json:"description"`
	DurationWeeks   *int             `json:"duration_weeks"`
	Hours           *int             `json:"hours" validate:"omitempty,gte=0"`
	BaseCost        *decimal.Decimal `json:"base_cost"`
	RegistrationFee *decimal.Decimal `json:"registration_fee"`
	EnrollmentFee   *decimal.Decimal `json:"enrollment_fee"`
	TotalSeats      *int             `json:"total_seats"`
	CashDiscountPct *decimal.Decimal `json:"cash_discount_pct"`
	StartDate       *time.Time       `json:"start_date"`
	EndDate         *time.Time       `json:"end_date"`
	TutorID         *string          `json:"tutor_id" validate:"omitempty,uuid"`
}

// PromotionRequest activates a time-bounded discount.
type PromotionRequest struct {
	Percent     decimal.Decimal `json:"percent"`
	Description *string         `json:"description" validate:"omitempty,max=255"`
	ExpiresOn   *time.Time      `json:"expires_on"`
}

// ProgramFilter captures list filters.
type ProgramFilter struct {
	State    *ProgramState
	Search   string
	Page     int
	PageSize int
}

// ProgramStatistics aggregates enrollment and financial figures for one program.
type ProgramStatistics struct {
	ProgramID        string                `json:"program_id"`
	TotalSeats       int                   `json:"total_seats"`
	OccupiedSeats    int                   `json:"occupied_seats"`
	ByAcademicState  map[AcademicState]int `json:"by_academic_state"`
	ByPaymentState   map[PaymentState]int  `json:"by_payment_state"`
	PotentialIncome  decimal.Decimal       `json:"potential_income"`
	CollectedIncome  decimal.Decimal       `json:"collected_income"`
	PendingBalance   decimal.Decimal       `json:"pending_balance"`
	CollectionPct    decimal.Decimal       `json:"collection_pct"`
	OccupancyPct     decimal.Decimal       `json:"occupancy_pct"`
	ActiveEnrollment int                   `json:"active_enrollments"`
}
