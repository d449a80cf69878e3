package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/edu-billing-api/internal/models"
	appErrors "github.com/noah-isme/edu-billing-api/pkg/errors"
	"github.com/noah-isme/edu-billing-api/pkg/response"
)

type reportService interface {
	PeriodSummary(ctx context.Context, actor models.Actor, from, to time.Time) (*models.PeriodSummary, error)
	Export(ctx context.Context, actor models.Actor, req models.ReportRequest) (*models.ReportFile, error)
}

// ReportHandler exposes financial reports.
type ReportHandler struct {
	reports reportService
	now     func() time.Time
}

// NewReportHandler constructs ReportHandler.
func NewReportHandler(reports reportService) *ReportHandler {
	return &ReportHandler{reports: reports, now: time.Now}
}

// Summary godoc
// @Summary Financial summary of a period
// @Tags Reports
// @Produce json
// @Param from query string false "First day (YYYY-MM-DD)"
// @Param to query string false "Last day (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /reports/summary [get]
func (h *ReportHandler) Summary(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	from, to, ok := queryPeriod(c, h.now())
	if !ok {
		return
	}
	summary, err := h.reports.PeriodSummary(c.Request.Context(), actor, from, to)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, summary)
}

// Export godoc
// @Summary Export a dataset as CSV or PDF
// @Tags Reports
// @Produce text/csv
// @Produce application/pdf
// @Param type query string true "enrollments, payments or cash_movements"
// @Param format query string true "csv or pdf"
// @Param from query string true "First day (YYYY-MM-DD)"
// @Param to query string true "Last day (YYYY-MM-DD)"
// @Param program_id query string false "Restrict enrollments to a program"
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Security BearerAuth
// @Router /reports/export [get]
func (h *ReportHandler) Export(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req models.ReportRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid report query"))
		return
	}
	file, err := h.reports.Export(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.File(c, file.Filename, file.ContentType, file.Body)
}
