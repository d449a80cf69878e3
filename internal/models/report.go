package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReportType enumerates exportable datasets.
type ReportType string

const (
	ReportEnrollments   ReportType = "enrollments"
	ReportPayments      ReportType = "payments"
	ReportCashMovements ReportType = "cash_movements"
)

// ReportFormat enumerates supported export formats.
type ReportFormat string

const (
	ReportFormatCSV ReportFormat = "csv"
	ReportFormatPDF ReportFormat = "pdf"
)

// ReportRequest selects a dataset, a format and a period.
type ReportRequest struct {
	Type      ReportType   `json:"type" form:"type" validate:"required,oneof=enrollments payments cash_movements"`
	Format    ReportFormat `json:"format" form:"format" validate:"required,oneof=csv pdf"`
	From      time.Time    `json:"from" form:"from" time_format:"2006-01-02" time_utc:"1" validate:"required"`
	To        time.Time    `json:"to" form:"to" time_format:"2006-01-02" time_utc:"1" validate:"required"`
	ProgramID string       `json:"program_id" form:"program_id"`
}

// ReportFile is a rendered export.
type ReportFile struct {
	Filename    string
	ContentType string
	Body        []byte
}

// IncomeBreakdown sums confirmed payments per key.
type IncomeBreakdown struct {
	Key    string          `db:"key" json:"key"`
	Count  int             `db:"count" json:"count"`
	Amount decimal.Decimal `db:"amount" json:"amount"`
}

// PeriodSummary aggregates the financial activity of a period.
type PeriodSummary struct {
	From          time.Time         `json:"from"`
	To            time.Time         `json:"to"`
	Confirmed     decimal.Decimal   `json:"confirmed_income"`
	ByKind        []IncomeBreakdown `json:"by_kind"`
	ByMethod      []IncomeBreakdown `json:"by_method"`
	VoidedCount   int               `json:"voided_count"`
	PendingCount  int               `json:"pending_count"`
	Outflows      decimal.Decimal   `json:"outflows"`
	Net           decimal.Decimal   `json:"net"`
	NewEnrollment int               `json:"new_enrollments"`
}
