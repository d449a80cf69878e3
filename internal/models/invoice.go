package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceState is the lifecycle of an invoice.
type InvoiceState string

const (
	InvoiceIssued InvoiceState = "ISSUED"
	InvoiceVoided InvoiceState = "VOIDED"
)

// DocumentType identifies the tax document of the billed customer.
type DocumentType string

const (
	DocumentNIT           DocumentType = "NIT"
	DocumentCI            DocumentType = "CI"
	DocumentFinalConsumer DocumentType = "FINAL_CONSUMER"
)

// Valid reports whether d is a known document type.
func (d DocumentType) Valid() bool {
	switch d {
	case DocumentNIT, DocumentCI, DocumentFinalConsumer:
		return true
	}
	return false
}

// Invoice is the tax document issued for a confirmed payment.
type Invoice struct {
	ID             string          `db:"id" json:"id"`
	Number         string          `db:"number" json:"number"`
	PaymentID      *string         `db:"payment_id" json:"payment_id,omitempty"`
	IssuedOn       time.Time       `db:"issued_on" json:"issued_on"`
	DocumentType   DocumentType    `db:"document_type" json:"document_type"`
	TaxID          *string         `db:"tax_id" json:"tax_id,omitempty"`
	BusinessName   string          `db:"business_name" json:"business_name"`
	Subtotal       decimal.Decimal `db:"subtotal" json:"subtotal"`
	VAT            decimal.Decimal `db:"vat" json:"vat"`
	TransactionTax decimal.Decimal `db:"transaction_tax" json:"transaction_tax"`
	Total          decimal.Decimal `db:"total" json:"total"`
	Concept        string          `db:"concept" json:"concept"`
	State          InvoiceState    `db:"state" json:"state"`
	CreatedBy      string          `db:"created_by" json:"created_by"`
	VoidedBy       *string         `db:"voided_by" json:"voided_by,omitempty"`
	VoidedAt       *time.Time      `db:"voided_at" json:"voided_at,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

// InvoiceTotals is the tax breakdown of an invoice.
type InvoiceTotals struct {
	Subtotal       decimal.Decimal `json:"subtotal"`
	VAT            decimal.Decimal `json:"vat"`
	TransactionTax decimal.Decimal `json:"transaction_tax"`
	Total          decimal.Decimal `json:"total"`
}

// IssueInvoiceRequest bills a confirmed payment.
type IssueInvoiceRequest struct {
	PaymentID           string       `json:"payment_id" validate:"required"`
	DocumentType        DocumentType `json:"document_type" validate:"required"`
	TaxID               *string      `json:"tax_id" validate:"omitempty,max=20"`
	BusinessName        string       `json:"business_name" validate:"required"`
	Concept             *string      `json:"concept" validate:"omitempty,max=255"`
	ApplyVAT            *bool        `json:"apply_vat"`
	ApplyTransactionTax bool         `json:"apply_transaction_tax"`
	IssuedOn            *time.Time   `json:"issued_on"`
}

// VoidInvoiceRequest carries the reason for voiding an invoice.
type VoidInvoiceRequest struct {
	Reason string `json:"reason" validate:"required,max=200"`
}

// InvoiceTotalsRequest previews the taxes on a subtotal.
type InvoiceTotalsRequest struct {
	Subtotal            decimal.Decimal `form:"subtotal"`
	ApplyVAT            bool            `form:"apply_vat"`
	ApplyTransactionTax bool            `form:"apply_transaction_tax"`
}

// InvoiceFilter captures list filters.
type InvoiceFilter struct {
	From         *time.Time
	To           *time.Time
	State        *InvoiceState
	DocumentType *DocumentType
	TaxID        string
	BusinessName string
	PaymentID    string
	Page         int
	PageSize     int
}

// InvoiceGroup counts and sums invoices sharing a key.
type InvoiceGroup struct {
	Key   string          `db:"key" json:"key"`
	Count int             `db:"count" json:"count"`
	Total decimal.Decimal `db:"total" json:"total"`
}

// InvoiceSummary aggregates the invoices of a month or a whole year. The totals leave
// voided invoices out; the per-state groups include them.
type InvoiceSummary struct {
	Period         string          `json:"period"`
	Count          int             `json:"count"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	VAT            decimal.Decimal `json:"vat"`
	TransactionTax decimal.Decimal `json:"transaction_tax"`
	Total          decimal.Decimal `json:"total"`
	Average        decimal.Decimal `json:"average"`
	First          *time.Time      `json:"first_issued_on,omitempty"`
	Last           *time.Time      `json:"last_issued_on,omitempty"`
	ByState        []InvoiceGroup  `json:"by_state"`
	ByDocumentType []InvoiceGroup  `json:"by_document_type"`
}
