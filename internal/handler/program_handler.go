package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/edu-billing-api/internal/models"
	appErrors "github.com/noah-isme/edu-billing-api/pkg/errors"
	"github.com/noah-isme/edu-billing-api/pkg/response"
)

type programService interface {
	List(ctx context.Context, filter models.ProgramFilter) ([]models.Program, *models.Pagination, error)
	Get(ctx context.Context, id string) (*models.Program, error)
	Create(ctx context.Context, actor models.Actor, req models.CreateProgramRequest) (*models.Program, error)
	Update(ctx context.Context, actor models.Actor, id string, upd models.ProgramUpdate) (*models.Program, error)
	ComputeCost(ctx context.Context, id string, cash bool) (decimal.Decimal, error)
	Start(ctx context.Context, actor models.Actor, id string) (*models.Program, error)
	Conclude(ctx context.Context, actor models.Actor, id string) (*models.Program, error)
	Cancel(ctx context.Context, actor models.Actor, id string) (*models.Program, error)
	ActivatePromotion(ctx context.Context, actor models.Actor, id string, req models.PromotionRequest) (*models.Program, error)
	DeactivatePromotion(ctx context.Context, actor models.Actor, id string) (*models.Program, error)
}

type programReporter interface {
	ProgramStatistics(ctx context.Context, actor models.Actor, programID string) (*models.ProgramStatistics, error)
}

// ProgramHandler exposes the program catalog.
type ProgramHandler struct {
	programs programService
	reports  programReporter
}

// NewProgramHandler constructs ProgramHandler.
func NewProgramHandler(programs programService, reports programReporter) *ProgramHandler {
	return &ProgramHandler{programs: programs, reports: reports}
}

// List godoc
// @Summary List programs
// @Tags Programs
// @Produce json
// @Param state query string false "PLANNED, STARTED, CONCLUDED or CANCELLED"
// @Param search query string false "Search by code or name"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /programs [get]
func (h *ProgramHandler) List(c *gin.Context) {
	filter := models.ProgramFilter{Search: strings.TrimSpace(c.Query("search"))}
	if raw := strings.ToUpper(strings.TrimSpace(c.Query("state"))); raw != "" {
		state := models.ProgramState(raw)
		filter.State = &state
	}
	filter.Page, filter.PageSize = pageParams(c)

	programs, pagination, err := h.programs.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, programs, pagination)
}

// Get godoc
// @Summary Get program
// @Tags Programs
// @Produce json
// @Param id path string true "Program ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /programs/{id} [get]
func (h *ProgramHandler) Get(c *gin.Context) {
	program, err := h.programs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, program)
}

// Create godoc
// @Summary Create program
// @Tags Programs
// @Accept json
// @Produce json
// @Param payload body models.CreateProgramRequest true "Program payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /programs [post]
func (h *ProgramHandler) Create(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req models.CreateProgramRequest
	if !bindJSON(c, &req) {
		return
	}
	program, err := h.programs.Create(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, program)
}

// Update godoc
// @Summary Update program
// @Tags Programs
// @Accept json
// @Produce json
// @Param id path string true "Program ID"
// @Param payload body models.ProgramUpdate true "Changed fields"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /programs/{id} [patch]
func (h *ProgramHandler) Update(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req models.ProgramUpdate
	if !bindJSON(c, &req) {
		return
	}
	program, err := h.programs.Update(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, program)
}

// Start godoc
// @Summary Start program
// @Tags Programs
// @Produce json
// @Param id path string true "Program ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /programs/{id}/start [post]
func (h *ProgramHandler) Start(c *gin.Context) {
	h.transition(c, h.programs.Start)
}

// Conclude godoc
// @Summary Conclude program
// @Tags Programs
// @Produce json
// @Param id path string true "Program ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /programs/{id}/conclude [post]
func (h *ProgramHandler) Conclude(c *gin.Context) {
	h.transition(c, h.programs.Conclude)
}

// Cancel godoc
// @Summary Cancel program
// @Tags Programs
// @Produce json
// @Param id path string true "Program ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /programs/{id}/cancel [post]
func (h *ProgramHandler) Cancel(c *gin.Context) {
	h.transition(c, h.programs.Cancel)
}

func (h *ProgramHandler) transition(c *gin.Context, apply func(context.Context, models.Actor, string) (*models.Program, error)) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	program, err := apply(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, program)
}

// ActivatePromotion godoc
// @Summary Activate promotional discount
// @Tags Programs
// @Accept json
// @Produce json
// @Param id path string true "Program ID"
// @Param payload body models.PromotionRequest true "Promotion"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /programs/{id}/promotion [post]
func (h *ProgramHandler) ActivatePromotion(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req models.PromotionRequest
	if !bindJSON(c, &req) {
		return
	}
	program, err := h.programs.ActivatePromotion(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, program)
}

// DeactivatePromotion godoc
// @Summary Remove promotional discount
// @Tags Programs
// @Produce json
// @Param id path string true "Program ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /programs/{id}/promotion/end [post]
func (h *ProgramHandler) DeactivatePromotion(c *gin.Context) {
	h.transition(c, h.programs.DeactivatePromotion)
}

// Cost godoc
// @Summary Effective enrollment cost
// @Tags Programs
// @Produce json
// @Param id path string true "Program ID"
// @Param cash query bool false "Apply the cash discount"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /programs/{id}/cost [get]
func (h *ProgramHandler) Cost(c *gin.Context) {
	cash := false
	if v := queryBool(c, "cash"); v != nil {
		cash = *v
	}
	cost, err := h.programs.ComputeCost(c.Request.Context(), c.Param("id"), cash)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"program_id": c.Param("id"), "cash": cash, "cost": cost.StringFixed(2)})
}

// Statistics godoc
// @Summary Program statistics
// @Tags Programs
// @Produce json
// @Param id path string true "Program ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /programs/{id}/statistics [get]
func (h *ProgramHandler) Statistics(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	if h.reports == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	stats, err := h.reports.ProgramStatistics(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, stats)
}
