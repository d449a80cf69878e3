// Package validation holds pure rule checks over primitive values. Every check
// reports all of its violations so callers can show them together.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/edu-billing-api/internal/models"
	appErrors "github.com/noah-isme/edu-billing-api/pkg/errors"
	"github.com/noah-isme/edu-billing-api/pkg/money"
)

const (
	MaxInstallments     = 36
	MaxIntervalDays     = 365
	MinIntervalDays     = 7
	MaxPlanSpanDays     = 730
	MaxInstallmentIndex = 100
	MaxPlanNameLength   = 100
	MinDocumentLength   = 5
	MaxDocumentLength   = 15
	MaxSeats            = 1000
	MaxDurationWeeks    = 104
	MinBusinessName     = 3
	MaxBusinessName     = 255
)

var (
	documentPattern = regexp.MustCompile(`^[0-9]+[A-Z]?$`)
	codePattern     = regexp.MustCompile(`^[A-Z0-9_-]+$`)
	nitPattern      = regexp.MustCompile(`^\d{7,10}-?\d?$`)
	ciPattern       = regexp.MustCompile(`^\d{7,8}[A-Z]?$`)
	hundred         = decimal.NewFromInt(100)
	documentIssuers = map[string]struct{}{
		"BE": {}, "CH": {}, "CB": {}, "LP": {}, "OR": {}, "PD": {}, "PT": {}, "SC": {}, "TJ": {}, "EX": {},
	}
)

// Violations is the list of problems found by one or more checks.
type Violations []string

// Add appends a formatted violation.
func (v *Violations) Add(format string, args ...interface{}) {
	*v = append(*v, fmt.Sprintf(format, args...))
}

// Merge appends every violation of other.
func (v *Violations) Merge(other Violations) {
	*v = append(*v, other...)
}

// Prefix returns a copy with field prepended to every message.
func (v Violations) Prefix(field string) Violations {
	out := make(Violations, len(v))
	for i, msg := range v {
		out[i] = field + ": " + msg
	}
	return out
}

// OK reports whether no violation was found.
func (v Violations) OK() bool {
	return len(v) == 0
}

// Err converts the list into a validation error, or nil when empty.
func (v Violations) Err(message string) error {
	if v.OK() {
		return nil
	}
	if message == "" {
		message = appErrors.ErrValidation.Message
	}
	return appErrors.WithDetails(appErrors.ErrValidation, message, v)
}

// Amount checks a monetary value: non-negative, two decimals at most, inside the
// optional bounds.
func Amount(value decimal.Decimal, min, max *decimal.Decimal) Violations {
	var v Violations
	if value.IsNegative() {
		v.Add("amount cannot be negative")
	}
	if min != nil && value.LessThan(*min) {
		v.Add("amount must be at least %s", min.StringFixed(2))
	}
	if max != nil && value.GreaterThan(*max) {
		v.Add("amount cannot exceed %s", max.StringFixed(2))
	}
	if !money.FitsScale(value) {
		v.Add("amount cannot have more than 2 decimal places")
	}
	return v
}

// PositiveAmount is Amount with a strict lower bound of one cent.
func PositiveAmount(value decimal.Decimal, max *decimal.Decimal) Violations {
	var v Violations
	if !value.IsPositive() {
		v.Add("amount must be greater than zero")
	}
	v.Merge(Amount(value, nil, max))
	return v
}

// DiscountPercent checks 0 <= value <= max (100 when max is zero).
func DiscountPercent(value, max decimal.Decimal) Violations {
	if max.IsZero() {
		max = hundred
	}
	var v Violations
	if value.IsNegative() {
		v.Add("discount cannot be negative")
	}
	if value.GreaterThan(max) {
		v.Add("discount cannot exceed %s%%", max.String())
	}
	if !money.FitsScale(value) {
		v.Add("discount cannot have more than 2 decimal places")
	}
	return v
}

// InstallmentPlan checks the shape of an installment template.
func InstallmentPlan(count, intervalDays int) Violations {
	var v Violations
	if count < 1 {
		v.Add("installments must be at least 1")
	}
	if count > MaxInstallments {
		v.Add("installments cannot exceed %d", MaxInstallments)
	}
	if intervalDays < 1 {
		v.Add("interval must be at least 1 day")
	}
	if intervalDays > MaxIntervalDays {
		v.Add("interval cannot exceed %d days", MaxIntervalDays)
	}
	if count > 1 && intervalDays < MinIntervalDays {
		v.Add("interval between installments must be at least %d days", MinIntervalDays)
	}
	if count > 1 && (count-1)*intervalDays > MaxPlanSpanDays {
		v.Add("payment period cannot exceed %d days", MaxPlanSpanDays)
	}
	return v
}

// PlanName checks a plan display name.
func PlanName(name string) Violations {
	var v Violations
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		v.Add("plan name is required")
	}
	if len([]rune(trimmed)) > MaxPlanNameLength {
		v.Add("plan name cannot exceed %d characters", MaxPlanNameLength)
	}
	return v
}

// DateRange checks that end is not before start when both are present.
func DateRange(start, end *time.Time) Violations {
	var v Violations
	if start != nil && end != nil && end.Before(*start) {
		v.Add("end date cannot be before start date")
	}
	return v
}

// DocumentID checks an identity document number and its optional issuing office.
func DocumentID(number, issuer string) Violations {
	var v Violations
	number = strings.TrimSpace(number)
	switch {
	case number == "":
		v.Add("document number is required")
	case !documentPattern.MatchString(number):
		v.Add("document number must be digits with an optional trailing letter")
	case len(number) < MinDocumentLength || len(number) > MaxDocumentLength:
		v.Add("document number must have between %d and %d characters", MinDocumentLength, MaxDocumentLength)
	}
	if issuer != "" {
		if _, ok := documentIssuers[issuer]; !ok {
			v.Add("document issuer %q is not valid", issuer)
		}
	}
	return v
}

// ProgramCode checks the catalog code format. Codes are compared uppercase.
func ProgramCode(code string) Violations {
	var v Violations
	code = strings.ToUpper(strings.TrimSpace(code))
	switch {
	case code == "":
		v.Add("program code is required")
	case len(code) < 3 || len(code) > 20:
		v.Add("program code must have between 3 and 20 characters")
	case !codePattern.MatchString(code):
		v.Add("program code may only contain letters, digits, '-' and '_'")
	}
	return v
}

// Seats checks capacity figures. available is ignored when negative one.
func Seats(total, available int) Violations {
	var v Violations
	if total < 1 {
		v.Add("total seats must be at least 1")
	}
	if total > MaxSeats {
		v.Add("total seats cannot exceed %d", MaxSeats)
	}
	if available != -1 {
		if available < 0 {
			v.Add("available seats cannot be negative")
		}
		if available > total {
			v.Add("available seats cannot exceed total seats")
		}
	}
	return v
}

// DurationWeeks checks the optional program length.
func DurationWeeks(weeks *int) Violations {
	var v Violations
	if weeks == nil {
		return v
	}
	if *weeks < 1 {
		v.Add("duration must be at least 1 week")
	}
	if *weeks > MaxDurationWeeks {
		v.Add("duration cannot exceed %d weeks", MaxDurationWeeks)
	}
	return v
}

// InstallmentIndex checks an optional installment number against the plan size.
func InstallmentIndex(index *int, planCount int) Violations {
	var v Violations
	if index == nil {
		return v
	}
	if *index < 1 || *index > MaxInstallmentIndex {
		v.Add("installment number must be between 1 and %d", MaxInstallmentIndex)
		return v
	}
	if planCount > 0 && *index > planCount {
		v.Add("installment number cannot exceed %d", planCount)
	}
	return v
}

// FinalAmount checks final = total - discount with a non-negative discount.
func FinalAmount(total, discount, final decimal.Decimal) Violations {
	var v Violations
	if discount.IsNegative() {
		v.Add("discount cannot be negative")
	}
	if discount.GreaterThan(total) {
		v.Add("discount cannot exceed total")
	}
	if !total.Sub(discount).Equal(final) {
		v.Add("final amount must equal total minus discount")
	}
	return v
}

// InvoiceCustomer checks the billed party. NIT and CI documents need a tax id in their
// own format; a final consumer carries none.
func InvoiceCustomer(kind models.DocumentType, taxID *string, businessName string) Violations {
	var v Violations
	id := ""
	if taxID != nil {
		id = strings.TrimSpace(*taxID)
	}
	switch kind {
	case models.DocumentNIT:
		if id == "" {
			v.Add("document type NIT requires a tax id")
		} else if !nitPattern.MatchString(id) {
			v.Add("tax id is not a valid NIT, expected e.g. 123456789-0")
		}
	case models.DocumentCI:
		if id == "" {
			v.Add("document type CI requires a tax id")
		} else if !ciPattern.MatchString(id) {
			v.Add("tax id is not a valid CI, expected e.g. 1234567A")
		}
	case models.DocumentFinalConsumer:
		if id != "" {
			v.Add("a final consumer invoice carries no tax id")
		}
	default:
		v.Add("unknown document type %q", kind)
	}
	name := strings.TrimSpace(businessName)
	if len(name) < MinBusinessName || len(name) > MaxBusinessName {
		v.Add("business name must have between %d and %d characters", MinBusinessName, MaxBusinessName)
	}
	return v
}

// InvoiceTotals checks that every figure is a non-negative amount and that total is
// subtotal plus both taxes.
func InvoiceTotals(t models.InvoiceTotals) Violations {
	var v Violations
	v.Merge(PositiveAmount(t.Subtotal, nil).Prefix("subtotal"))
	v.Merge(Amount(t.VAT, nil, nil).Prefix("vat"))
	v.Merge(Amount(t.TransactionTax, nil, nil).Prefix("transaction tax"))
	if !t.Subtotal.Add(t.VAT).Add(t.TransactionTax).Equal(t.Total) {
		v.Add("total must equal subtotal plus vat plus transaction tax, got %s", t.Total.StringFixed(2))
	}
	return v
}
