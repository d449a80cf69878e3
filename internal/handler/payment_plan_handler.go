package handler

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/edu-billing-api/internal/models"
	appErrors "github.com/noah-isme/edu-billing-api/pkg/errors"
	"github.com/noah-isme/edu-billing-api/pkg/response"
)

type paymentPlanService interface {
	Get(ctx context.Context, id string) (*models.PaymentPlan, error)
	ListByProgram(ctx context.Context, programID string, activeOnly bool) ([]models.PaymentPlan, error)
	CreatePlan(ctx context.Context, actor models.Actor, req models.CreatePaymentPlanRequest) (*models.PaymentPlan, error)
	UpdatePlan(ctx context.Context, actor models.Actor, id string, upd models.PaymentPlanUpdate) (*models.PaymentPlan, error)
	Deactivate(ctx context.Context, actor models.Actor, id string) (*models.PaymentPlan, error)
	GenerateSchedule(ctx context.Context, planID string, total decimal.Decimal, start time.Time) ([]models.ScheduleItem, error)
	Simulate(ctx context.Context, programID string, total decimal.Decimal, start time.Time) ([]models.PlanSimulation, error)
	RecommendPlan(ctx context.Context, programID string, req models.RecommendPlanRequest) (*models.PlanSimulation, error)
}

// PaymentPlanHandler exposes installment plans and their simulations.
type PaymentPlanHandler struct {
	plans paymentPlanService
	now   func() time.Time
}

// NewPaymentPlanHandler constructs PaymentPlanHandler.
func NewPaymentPlanHandler(plans paymentPlanService) *PaymentPlanHandler {
	return &PaymentPlanHandler{plans: plans, now: time.Now}
}

// ListByProgram godoc
// @Summary List the plans of a program
// @Tags Payment Plans
// @Produce json
// @Param id path string true "Program ID"
// @Param active query bool false "Only active plans"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /programs/{id}/plans [get]
func (h *PaymentPlanHandler) ListByProgram(c *gin.Context) {
	activeOnly := false
	if v := queryBool(c, "active"); v != nil {
		activeOnly = *v
	}
	plans, err := h.plans.ListByProgram(c.Request.Context(), c.Param("id"), activeOnly)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, plans)
}

// Create godoc
// @Summary Create a plan for a program
// @Tags Payment Plans
// @Accept json
// @Produce json
// @Param id path string true "Program ID"
// @Param payload body models.CreatePaymentPlanRequest true "Plan payload"
// @Success 201 {object} response.Envelope
// @Security BearerAuth
// @Router /programs/{id}/plans [post]
func (h *PaymentPlanHandler) Create(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req models.CreatePaymentPlanRequest
	if !bindJSON(c, &req) {
		return
	}
	req.ProgramID = c.Param("id")
	plan, err := h.plans.CreatePlan(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, plan)
}

// Simulate godoc
// @Summary Simulate every active plan of a program
// @Tags Payment Plans
// @Accept json
// @Produce json
// @Param id path string true "Program ID"
// @Param payload body models.ScheduleRequest true "Total and start date"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /programs/{id}/plans/simulate [post]
func (h *PaymentPlanHandler) Simulate(c *gin.Context) {
	var req models.ScheduleRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.StartDate.IsZero() {
		req.StartDate = h.now()
	}
	sims, err := h.plans.Simulate(c.Request.Context(), c.Param("id"), req.Total, models.DateOf(req.StartDate))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, sims)
}

// Recommend godoc
// @Summary Recommend a plan
// @Tags Payment Plans
// @Accept json
// @Produce json
// @Param id path string true "Program ID"
// @Param payload body models.RecommendPlanRequest true "Total and preferred installment count"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /programs/{id}/plans/recommend [post]
func (h *PaymentPlanHandler) Recommend(c *gin.Context) {
	var req models.RecommendPlanRequest
	if !bindJSON(c, &req) {
		return
	}
	sim, err := h.plans.RecommendPlan(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, sim)
}

// Get godoc
// @Summary Get payment plan
// @Tags Payment Plans
// @Produce json
// @Param id path string true "Plan ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /payment-plans/{id} [get]
func (h *PaymentPlanHandler) Get(c *gin.Context) {
	plan, err := h.plans.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, plan)
}

// Update godoc
// @Summary Update payment plan
// @Tags Payment Plans
// @Accept json
// @Produce json
// @Param id path string true "Plan ID"
// @Param payload body models.PaymentPlanUpdate true "Changed fields"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /payment-plans/{id} [patch]
func (h *PaymentPlanHandler) Update(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req models.PaymentPlanUpdate
	if !bindJSON(c, &req) {
		return
	}
	plan, err := h.plans.UpdatePlan(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, plan)
}

// Deactivate godoc
// @Summary Deactivate payment plan
// @Tags Payment Plans
// @Produce json
// @Param id path string true "Plan ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /payment-plans/{id}/deactivate [post]
func (h *PaymentPlanHandler) Deactivate(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	plan, err := h.plans.Deactivate(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, plan)
}

// Schedule godoc
// @Summary Preview the installment schedule of a plan
// @Tags Payment Plans
// @Produce json
// @Param id path string true "Plan ID"
// @Param total query string true "Amount to finance"
// @Param start query string false "First due date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /payment-plans/{id}/schedule [get]
func (h *PaymentPlanHandler) Schedule(c *gin.Context) {
	total, err := decimal.NewFromString(strings.TrimSpace(c.Query("total")))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "total must be a decimal amount"))
		return
	}
	start, err := queryDate(c, "start", models.DateOf(h.now()))
	if err != nil {
		response.Error(c, err)
		return
	}
	items, err := h.plans.GenerateSchedule(c.Request.Context(), c.Param("id"), total, start)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, items)
}
