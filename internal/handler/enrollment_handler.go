package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/edu-billing-api/internal/models"
	"github.com/noah-isme/edu-billing-api/pkg/response"
)

type enrollmentService interface {
	Get(ctx context.Context, id string) (*models.Enrollment, error)
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, *models.Pagination, error)
	Installments(ctx context.Context, id string) ([]models.Installment, error)
	Create(ctx context.Context, actor models.Actor, req models.CreateEnrollmentRequest) (*models.Enrollment, error)
	RegisterPayment(ctx context.Context, actor models.Actor, id string, req models.RegisterPaymentRequest) (*models.PaymentReceipt, error)
	Cancel(ctx context.Context, actor models.Actor, id string, req models.CancelEnrollmentRequest) (*models.Enrollment, error)
	Transition(ctx context.Context, actor models.Actor, id string, req models.TransitionRequest) (*models.Enrollment, error)
}

// EnrollmentHandler exposes enrollment endpoints.
type EnrollmentHandler struct {
	enrollments enrollmentService
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(enrollments enrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments}
}

// List godoc
// @Summary List enrollments
// @Tags Enrollments
// @Produce json
// @Param student_id query string false "Student ID"
// @Param program_id query string false "Program ID"
// @Param payment_state query string false "Payment state"
// @Param academic_state query string false "Academic state"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /enrollments [get]
func (h *EnrollmentHandler) List(c *gin.Context) {
	filter := models.EnrollmentFilter{
		StudentID: c.Query("student_id"),
		ProgramID: c.Query("program_id"),
	}
	if raw := strings.ToUpper(strings.TrimSpace(c.Query("payment_state"))); raw != "" {
		state := models.PaymentState(raw)
		filter.PaymentState = &state
	}
	if raw := strings.ToUpper(strings.TrimSpace(c.Query("academic_state"))); raw != "" {
		state := models.AcademicState(raw)
		filter.AcademicState = &state
	}
	filter.Page, filter.PageSize = pageParams(c)

	enrollments, pagination, err := h.enrollments.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollments, pagination)
}

// Get godoc
// @Summary Get enrollment
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /enrollments/{id} [get]
func (h *EnrollmentHandler) Get(c *gin.Context) {
	enrollment, err := h.enrollments.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, enrollment)
}

// Create godoc
// @Summary Enroll a student
// @Description Occupies a seat and, for installment enrollments, creates the schedule.
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body models.CreateEnrollmentRequest true "Enrollment payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Security BearerAuth
// @Router /enrollments [post]
func (h *EnrollmentHandler) Create(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req models.CreateEnrollmentRequest
	if !bindJSON(c, &req) {
		return
	}
	enrollment, err := h.enrollments.Create(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, enrollment)
}

// Installments godoc
// @Summary List the installment schedule
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /enrollments/{id}/installments [get]
func (h *EnrollmentHandler) Installments(c *gin.Context) {
	items, err := h.enrollments.Installments(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, items)
}

// RegisterPayment godoc
// @Summary Register a confirmed payment against an enrollment
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body models.RegisterPaymentRequest true "Payment payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Security BearerAuth
// @Router /enrollments/{id}/payments [post]
func (h *EnrollmentHandler) RegisterPayment(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req models.RegisterPaymentRequest
	if !bindJSON(c, &req) {
		return
	}
	receipt, err := h.enrollments.RegisterPayment(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, receipt)
}

// Cancel godoc
// @Summary Cancel enrollment
// @Description Releases the seat. Recorded payments stay on the books.
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body models.CancelEnrollmentRequest false "Reason"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /enrollments/{id}/cancel [post]
func (h *EnrollmentHandler) Cancel(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req models.CancelEnrollmentRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	enrollment, err := h.enrollments.Cancel(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, enrollment)
}

// Transition godoc
// @Summary Move enrollment to another academic state
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body models.TransitionRequest true "Target state"
// @Success 200 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Security BearerAuth
// @Router /enrollments/{id}/transition [post]
func (h *EnrollmentHandler) Transition(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req models.TransitionRequest
	if !bindJSON(c, &req) {
		return
	}
	enrollment, err := h.enrollments.Transition(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, enrollment)
}
