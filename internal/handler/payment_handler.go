package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/edu-billing-api/internal/models"
	"github.com/noah-isme/edu-billing-api/pkg/response"
)

type paymentService interface {
	Get(ctx context.Context, id string) (*models.Payment, error)
	List(ctx context.Context, filter models.PaymentFilter) ([]models.Payment, *models.Pagination, error)
	Record(ctx context.Context, actor models.Actor, req models.RecordPaymentRequest) (*models.Payment, error)
	Confirm(ctx context.Context, actor models.Actor, id string) (*models.Payment, error)
	RecordGenericIncome(ctx context.Context, actor models.Actor, req models.GenericIncomeRequest) (*models.Payment, error)
	Void(ctx context.Context, actor models.Actor, id string, req models.VoidPaymentRequest) (*models.Payment, error)
}

// PaymentHandler exposes payment records.
type PaymentHandler struct {
	payments paymentService
}

// NewPaymentHandler constructs PaymentHandler.
func NewPaymentHandler(payments paymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

// List godoc
// @Summary List payments
// @Tags Payments
// @Produce json
// @Param enrollment_id query string false "Enrollment ID"
// @Param kind query string false "Payment kind"
// @Param status query string false "PENDING, CONFIRMED or VOIDED"
// @Param from query string false "Paid on or after (YYYY-MM-DD)"
// @Param to query string false "Paid on or before (YYYY-MM-DD)"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /payments [get]
func (h *PaymentHandler) List(c *gin.Context) {
	filter := models.PaymentFilter{EnrollmentID: c.Query("enrollment_id")}
	if raw := strings.ToUpper(strings.TrimSpace(c.Query("kind"))); raw != "" {
		kind := models.PaymentKind(raw)
		filter.Kind = &kind
	}
	if raw := strings.ToUpper(strings.TrimSpace(c.Query("status"))); raw != "" {
		status := models.PaymentStatus(raw)
		filter.Status = &status
	}
	if c.Query("from") != "" {
		from, err := queryDate(c, "from", time.Time{})
		if err != nil {
			response.Error(c, err)
			return
		}
		filter.From = &from
	}
	if c.Query("to") != "" {
		to, err := queryDate(c, "to", time.Time{})
		if err != nil {
			response.Error(c, err)
			return
		}
		filter.To = &to
	}
	filter.Page, filter.PageSize = pageParams(c)

	payments, pagination, err := h.payments.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, payments, pagination)
}

// Get godoc
// @Summary Get payment
// @Tags Payments
// @Produce json
// @Param id path string true "Payment ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /payments/{id} [get]
func (h *PaymentHandler) Get(c *gin.Context) {
	payment, err := h.payments.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, payment)
}

// Record godoc
// @Summary Record a payment
// @Description Pending unless confirm is set. Confirmation applies it to the enrollment and the cash ledger.
// @Tags Payments
// @Accept json
// @Produce json
// @Param payload body models.RecordPaymentRequest true "Payment payload"
// @Success 201 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Security BearerAuth
// @Router /payments [post]
func (h *PaymentHandler) Record(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req models.RecordPaymentRequest
	if !bindJSON(c, &req) {
		return
	}
	payment, err := h.payments.Record(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, payment)
}

// GenericIncome godoc
// @Summary Record income not tied to an enrollment
// @Tags Payments
// @Accept json
// @Produce json
// @Param payload body models.GenericIncomeRequest true "Income payload"
// @Success 201 {object} response.Envelope
// @Security BearerAuth
// @Router /payments/generic-income [post]
func (h *PaymentHandler) GenericIncome(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req models.GenericIncomeRequest
	if !bindJSON(c, &req) {
		return
	}
	payment, err := h.payments.RecordGenericIncome(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, payment)
}

// Confirm godoc
// @Summary Confirm a pending payment
// @Tags Payments
// @Produce json
// @Param id path string true "Payment ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /payments/{id}/confirm [post]
func (h *PaymentHandler) Confirm(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	payment, err := h.payments.Confirm(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, payment)
}

// Void godoc
// @Summary Void a payment
// @Description Confirmed payments can only be voided once their cash movement is reversed.
// @Tags Payments
// @Accept json
// @Produce json
// @Param id path string true "Payment ID"
// @Param payload body models.VoidPaymentRequest true "Reason"
// @Success 200 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Security BearerAuth
// @Router /payments/{id}/void [post]
func (h *PaymentHandler) Void(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req models.VoidPaymentRequest
	if !bindJSON(c, &req) {
		return
	}
	payment, err := h.payments.Void(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, payment)
}
