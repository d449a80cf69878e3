package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/edu-billing-api/internal/middleware"
	"github.com/noah-isme/edu-billing-api/internal/models"
	"github.com/noah-isme/edu-billing-api/pkg/response"
)

type cashLedgerService interface {
	Movements(ctx context.Context, from, to time.Time) ([]models.CashMovement, error)
	Balance(ctx context.Context, until time.Time) (decimal.Decimal, error)
	Summary(ctx context.Context, from, to time.Time) (*models.CashSummary, error)
	DailySummary(ctx context.Context, day time.Time) (*models.CashSummary, error)
	Reverse(ctx context.Context, actor models.Actor, movementID string, req models.ReverseMovementRequest) (*models.CashMovement, error)
	RecordExpense(ctx context.Context, actor models.Actor, req models.ExpenseRequest) (*models.CashMovement, error)
}

// CashHandler exposes the cash ledger.
type CashHandler struct {
	cash cashLedgerService
	now  func() time.Time
}

// NewCashHandler constructs CashHandler.
func NewCashHandler(cash cashLedgerService) *CashHandler {
	return &CashHandler{cash: cash, now: time.Now}
}

// Movements godoc
// @Summary List cash movements of a period
// @Tags Cash
// @Produce json
// @Param from query string false "First day (YYYY-MM-DD), defaults to the start of the month"
// @Param to query string false "Last day (YYYY-MM-DD), defaults to today"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /cash/movements [get]
func (h *CashHandler) Movements(c *gin.Context) {
	from, to, ok := queryPeriod(c, h.now())
	if !ok {
		return
	}
	movements, err := h.cash.Movements(c.Request.Context(), from, to)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetMeta(c, "count", len(movements))
	response.JSON(c, http.StatusOK, movements, nil, middleware.ExtractMeta(c))
}

// Balance godoc
// @Summary Cash balance at the end of a day
// @Tags Cash
// @Produce json
// @Param until query string false "Day (YYYY-MM-DD), defaults to today"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /cash/balance [get]
func (h *CashHandler) Balance(c *gin.Context) {
	until, err := queryDate(c, "until", models.DateOf(h.now()))
	if err != nil {
		response.Error(c, err)
		return
	}
	balance, err := h.cash.Balance(c.Request.Context(), until)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"until": until.Format(dateLayout), "balance": balance.StringFixed(2)})
}

// Summary godoc
// @Summary Opening, flows and closing balance of a period
// @Tags Cash
// @Produce json
// @Param from query string false "First day (YYYY-MM-DD)"
// @Param to query string false "Last day (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /cash/summary [get]
func (h *CashHandler) Summary(c *gin.Context) {
	from, to, ok := queryPeriod(c, h.now())
	if !ok {
		return
	}
	summary, err := h.cash.Summary(c.Request.Context(), from, to)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, summary)
}

// Daily godoc
// @Summary Daily cash summary
// @Tags Cash
// @Produce json
// @Param day query string false "Day (YYYY-MM-DD), defaults to today"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /cash/daily [get]
func (h *CashHandler) Daily(c *gin.Context) {
	day, err := queryDate(c, "day", models.DateOf(h.now()))
	if err != nil {
		response.Error(c, err)
		return
	}
	summary, err := h.cash.DailySummary(c.Request.Context(), day)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, summary)
}

// Reverse godoc
// @Summary Reverse a cash movement
// @Description Posts an opposite movement. A movement can be reversed once.
// @Tags Cash
// @Accept json
// @Produce json
// @Param id path string true "Movement ID"
// @Param payload body models.ReverseMovementRequest true "Reason"
// @Success 201 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Security BearerAuth
// @Router /cash/movements/{id}/reverse [post]
func (h *CashHandler) Reverse(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req models.ReverseMovementRequest
	if !bindJSON(c, &req) {
		return
	}
	movement, err := h.cash.Reverse(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, movement)
}

// Expense godoc
// @Summary Record an expense
// @Tags Cash
// @Accept json
// @Produce json
// @Param payload body models.ExpenseRequest true "Expense payload"
// @Success 201 {object} response.Envelope
// @Security BearerAuth
// @Router /cash/expenses [post]
func (h *CashHandler) Expense(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req models.ExpenseRequest
	if !bindJSON(c, &req) {
		return
	}
	movement, err := h.cash.RecordExpense(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, movement)
}
