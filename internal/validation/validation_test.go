package validation

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/edu-billing-api/internal/models"
	appErrors "github.com/noah-isme/edu-billing-api/pkg/errors"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestAmount(t *testing.T) {
	max := dec("100000")
	assert.True(t, Amount(dec("10.50"), nil, &max).OK())
	assert.Len(t, Amount(dec("-1.005"), nil, nil), 2)
	assert.Equal(t, Violations{"amount cannot exceed 100000.00"}, Amount(dec("100000.01"), nil, &max))

	min := dec("10")
	assert.Equal(t, Violations{"amount must be at least 10.00"}, Amount(dec("9.99"), &min, nil))
}

func TestPositiveAmount(t *testing.T) {
	assert.Equal(t, Violations{"amount must be greater than zero"}, PositiveAmount(decimal.Zero, nil))
	assert.True(t, PositiveAmount(dec("0.01"), nil).OK())
}

func TestDiscountPercent(t *testing.T) {
	assert.True(t, DiscountPercent(dec("100"), decimal.Zero).OK())
	assert.True(t, DiscountPercent(dec("0"), decimal.Zero).OK())
	assert.Equal(t, Violations{"discount cannot exceed 100%"}, DiscountPercent(dec("100.01"), decimal.Zero))
	assert.Equal(t, Violations{"discount cannot be negative"}, DiscountPercent(dec("-5"), decimal.Zero))
}

func TestInstallmentPlanReportsEveryViolation(t *testing.T) {
	v := InstallmentPlan(40, 3)

	assert.Contains(t, v, "installments cannot exceed 36")
	assert.Contains(t, v, "interval between installments must be at least 7 days")
	assert.Len(t, v, 2)
}

func TestInstallmentPlanSpan(t *testing.T) {
	assert.True(t, InstallmentPlan(25, 30).OK())
	assert.Equal(t, Violations{"payment period cannot exceed 730 days"}, InstallmentPlan(26, 30))
	assert.True(t, InstallmentPlan(1, 1).OK(), "single installment may use any interval")
	assert.Len(t, InstallmentPlan(0, 0), 2)
	assert.Contains(t, InstallmentPlan(3, 400), "interval cannot exceed 365 days")
}

func TestDateRange(t *testing.T) {
	start := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, -1)

	assert.False(t, DateRange(&start, &end).OK())
	assert.True(t, DateRange(&start, nil).OK())
	assert.True(t, DateRange(&start, &start).OK())
}

func TestDocumentID(t *testing.T) {
	assert.True(t, DocumentID("1234567", "LP").OK())
	assert.True(t, DocumentID("1234567A", "").OK())
	assert.Len(t, DocumentID("12", "XX"), 2)
	assert.Equal(t, Violations{"document number is required"}, DocumentID(" ", ""))
	assert.Equal(t, Violations{"document number must be digits with an optional trailing letter"}, DocumentID("12-345", ""))
}

func TestProgramCodeAndSeats(t *testing.T) {
	assert.True(t, ProgramCode("dip-ia_01").OK())
	assert.False(t, ProgramCode("AB").OK())
	assert.False(t, ProgramCode("ABC DEF").OK())

	assert.True(t, Seats(30, 30).OK())
	assert.True(t, Seats(30, -1).OK())
	assert.Len(t, Seats(0, 5), 2)
}

func TestInstallmentIndex(t *testing.T) {
	three := 3
	five := 5
	zero := 0
	assert.True(t, InstallmentIndex(nil, 3).OK())
	assert.True(t, InstallmentIndex(&three, 3).OK())
	assert.Equal(t, Violations{"installment number cannot exceed 3"}, InstallmentIndex(&five, 3))
	assert.Equal(t, Violations{"installment number must be between 1 and 100"}, InstallmentIndex(&zero, 3))
}

func TestFinalAmount(t *testing.T) {
	assert.True(t, FinalAmount(dec("1000"), dec("100"), dec("900")).OK())
	assert.Equal(t, Violations{"final amount must equal total minus discount"}, FinalAmount(dec("1000"), dec("100"), dec("950")))
}

func TestViolationsErr(t *testing.T) {
	var v Violations
	assert.NoError(t, v.Err("invalid plan"))

	v.Add("a %d", 1)
	v.Merge(Violations{"b"})
	err := v.Prefix("plan").Err("invalid plan")
	require.Error(t, err)

	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Equal(t, []string{"plan: a 1", "plan: b"}, appErr.Details)
}

func TestInvoiceCustomer(t *testing.T) {
	nit, ci, bad := "1234567890", "1234567A", "12-AB"
	assert.True(t, InvoiceCustomer(models.DocumentNIT, &nit, "Acme Training SRL").OK())
	assert.True(t, InvoiceCustomer(models.DocumentCI, &ci, "Ana Rojas").OK())
	assert.True(t, InvoiceCustomer(models.DocumentFinalConsumer, nil, "Sin nombre").OK())

	assert.Equal(t, Violations{"document type NIT requires a tax id"}, InvoiceCustomer(models.DocumentNIT, nil, "Acme Training SRL"))
	assert.Equal(t, Violations{"tax id is not a valid CI, expected e.g. 1234567A"}, InvoiceCustomer(models.DocumentCI, &bad, "Ana Rojas"))
	assert.Equal(t, Violations{"a final consumer invoice carries no tax id", "business name must have between 3 and 255 characters"},
		InvoiceCustomer(models.DocumentFinalConsumer, &ci, "AB"))
	assert.Len(t, InvoiceCustomer("PASSPORT", nil, "Acme"), 1)
}

func TestInvoiceTotals(t *testing.T) {
	ok := models.InvoiceTotals{Subtotal: dec("100"), VAT: dec("13"), TransactionTax: dec("3"), Total: dec("116")}
	assert.True(t, InvoiceTotals(ok).OK())

	off := ok
	off.Total = dec("115.99")
	assert.Equal(t, Violations{"total must equal subtotal plus vat plus transaction tax, got 115.99"}, InvoiceTotals(off))

	negative := models.InvoiceTotals{Subtotal: dec("10"), VAT: dec("-1"), Total: dec("9")}
	assert.Equal(t, Violations{"vat: amount cannot be negative"}, InvoiceTotals(negative))
}
