package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/edu-billing-api/internal/models"
	appErrors "github.com/noah-isme/edu-billing-api/pkg/errors"
	"github.com/noah-isme/edu-billing-api/pkg/response"
)

type invoiceService interface {
	Get(ctx context.Context, id string) (*models.Invoice, error)
	List(ctx context.Context, filter models.InvoiceFilter) ([]models.Invoice, *models.Pagination, error)
	Issue(ctx context.Context, actor models.Actor, req models.IssueInvoiceRequest) (*models.Invoice, error)
	Void(ctx context.Context, actor models.Actor, id string, req models.VoidInvoiceRequest) (*models.Invoice, error)
	Totals(req models.InvoiceTotalsRequest) (*models.InvoiceTotals, error)
	MonthlySummary(ctx context.Context, year, month int) (*models.InvoiceSummary, error)
}

// InvoiceHandler exposes invoices issued for confirmed payments.
type InvoiceHandler struct {
	invoices invoiceService
	now      func() time.Time
}

// NewInvoiceHandler constructs InvoiceHandler.
func NewInvoiceHandler(invoices invoiceService) *InvoiceHandler {
	return &InvoiceHandler{invoices: invoices, now: time.Now}
}

// List godoc
// @Summary Search invoices
// @Tags Invoices
// @Produce json
// @Param from query string false "Issued on or after (YYYY-MM-DD)"
// @Param to query string false "Issued on or before (YYYY-MM-DD)"
// @Param state query string false "ISSUED or VOIDED"
// @Param document_type query string false "NIT, CI or FINAL_CONSUMER"
// @Param tax_id query string false "Customer NIT or CI"
// @Param business_name query string false "Customer name, partial match"
// @Param payment_id query string false "Payment ID"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /invoices [get]
func (h *InvoiceHandler) List(c *gin.Context) {
	filter := models.InvoiceFilter{
		TaxID:        c.Query("tax_id"),
		BusinessName: c.Query("business_name"),
		PaymentID:    c.Query("payment_id"),
	}
	if raw := strings.ToUpper(strings.TrimSpace(c.Query("state"))); raw != "" {
		state := models.InvoiceState(raw)
		filter.State = &state
	}
	if raw := strings.ToUpper(strings.TrimSpace(c.Query("document_type"))); raw != "" {
		kind := models.DocumentType(raw)
		filter.DocumentType = &kind
	}
	for key, dest := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		if c.Query(key) == "" {
			continue
		}
		t, err := queryDate(c, key, time.Time{})
		if err != nil {
			response.Error(c, err)
			return
		}
		*dest = &t
	}
	filter.Page, filter.PageSize = pageParams(c)

	invoices, pagination, err := h.invoices.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, invoices, pagination)
}

// Get godoc
// @Summary Get invoice
// @Tags Invoices
// @Produce json
// @Param id path string true "Invoice ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /invoices/{id} [get]
func (h *InvoiceHandler) Get(c *gin.Context) {
	invoice, err := h.invoices.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, invoice)
}

// Issue godoc
// @Summary Invoice a confirmed payment
// @Description The invoice total is the payment amount; VAT is included unless apply_vat is false.
// @Tags Invoices
// @Accept json
// @Produce json
// @Param payload body models.IssueInvoiceRequest true "Invoice payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Security BearerAuth
// @Router /invoices [post]
func (h *InvoiceHandler) Issue(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req models.IssueInvoiceRequest
	if !bindJSON(c, &req) {
		return
	}
	invoice, err := h.invoices.Issue(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, invoice)
}

// Void godoc
// @Summary Void an invoice
// @Tags Invoices
// @Accept json
// @Produce json
// @Param id path string true "Invoice ID"
// @Param payload body models.VoidInvoiceRequest true "Reason"
// @Success 200 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Security BearerAuth
// @Router /invoices/{id}/void [post]
func (h *InvoiceHandler) Void(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req models.VoidInvoiceRequest
	if !bindJSON(c, &req) {
		return
	}
	invoice, err := h.invoices.Void(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, invoice)
}

// Totals godoc
// @Summary Preview invoice taxes
// @Tags Invoices
// @Produce json
// @Param subtotal query string true "Subtotal"
// @Param apply_vat query bool false "Add VAT, default true"
// @Param apply_transaction_tax query bool false "Add transaction tax, default false"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /invoices/totals [get]
func (h *InvoiceHandler) Totals(c *gin.Context) {
	subtotal, err := decimal.NewFromString(strings.TrimSpace(c.Query("subtotal")))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "subtotal must be a decimal amount"))
		return
	}
	req := models.InvoiceTotalsRequest{Subtotal: subtotal, ApplyVAT: true}
	if v := queryBool(c, "apply_vat"); v != nil {
		req.ApplyVAT = *v
	}
	if v := queryBool(c, "apply_transaction_tax"); v != nil {
		req.ApplyTransactionTax = *v
	}
	totals, err := h.invoices.Totals(req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, totals)
}

// Summary godoc
// @Summary Monthly invoice summary
// @Description Omit month for the whole year. Voided invoices only count in the per-state groups.
// @Tags Invoices
// @Produce json
// @Param year query int false "Year, default current"
// @Param month query int false "Month 1-12"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /invoices/summary [get]
func (h *InvoiceHandler) Summary(c *gin.Context) {
	year, month := h.now().Year(), 0
	for key, dest := range map[string]*int{"year": &year, "month": &month} {
		raw := strings.TrimSpace(c.Query(key))
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, key+" must be a number"))
			return
		}
		*dest = n
	}
	summary, err := h.invoices.MonthlySummary(c.Request.Context(), year, month)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, summary)
}
