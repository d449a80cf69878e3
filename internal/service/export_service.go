package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/edu-billing-api/internal/models"
	"github.com/noah-isme/edu-billing-api/pkg/export"
	"github.com/noah-isme/edu-billing-api/pkg/money"
)

type enrollmentPeriodReader interface {
	ListBetween(ctx context.Context, from, to time.Time, programID string) ([]models.Enrollment, error)
}

type paymentPeriodReader interface {
	ListBetween(ctx context.Context, from, to time.Time) ([]models.Payment, error)
}

type movementPeriodReader interface {
	ListBetween(ctx context.Context, from, to time.Time) ([]models.CashMovement, error)
}

type tableRenderer interface {
	Render(t export.Table) ([]byte, error)
}

// ExportService turns ledger records of a period into CSV or PDF files.
type ExportService struct {
	enrollments enrollmentPeriodReader
	payments    paymentPeriodReader
	movements   movementPeriodReader
	csv         tableRenderer
	pdf         tableRenderer
	logger      *zap.Logger
}

// NewExportService constructs an ExportService. Nil renderers fall back to the defaults.
func NewExportService(enrollments enrollmentPeriodReader, payments paymentPeriodReader, movements movementPeriodReader, logger *zap.Logger, csv, pdf tableRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVRenderer()
	}
	if pdf == nil {
		pdf = export.NewPDFRenderer()
	}
	return &ExportService{enrollments: enrollments, payments: payments, movements: movements, csv: csv, pdf: pdf, logger: logger}
}

// Render builds the requested dataset and renders it in the requested format.
func (s *ExportService) Render(ctx context.Context, req models.ReportRequest) (*models.ReportFile, error) {
	from, to := models.DateOf(req.From), models.DateOf(req.To)
	table, err := s.buildTable(ctx, req.Type, from, to, req.ProgramID)
	if err != nil {
		return nil, err
	}
	table.Subtitle = fmt.Sprintf("%s to %s", from.Format("2006-01-02"), to.Format("2006-01-02"))

	var (
		body        []byte
		contentType string
	)
	switch req.Format {
	case models.ReportFormatCSV:
		body, err = s.csv.Render(table)
		contentType = "text/csv"
	case models.ReportFormatPDF:
		body, err = s.pdf.Render(table)
		contentType = "application/pdf"
	default:
		err = fmt.Errorf("unsupported format %s", req.Format)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Debug("report rendered", zap.String("type", string(req.Type)), zap.String("format", string(req.Format)), zap.Int("rows", len(table.Rows)))
	return &models.ReportFile{
		Filename:    fmt.Sprintf("%s_%s_%s.%s", req.Type, from.Format("20060102"), to.Format("20060102"), req.Format),
		ContentType: contentType,
		Body:        body,
	}, nil
}

func (s *ExportService) buildTable(ctx context.Context, kind models.ReportType, from, to time.Time, programID string) (export.Table, error) {
	switch kind {
	case models.ReportEnrollments:
		rows, err := s.enrollments.ListBetween(ctx, from, to, programID)
		if err != nil {
			return export.Table{}, fmt.Errorf("load enrollments: %w", err)
		}
		return enrollmentTable(rows), nil
	case models.ReportPayments:
		rows, err := s.payments.ListBetween(ctx, from, to)
		if err != nil {
			return export.Table{}, fmt.Errorf("load payments: %w", err)
		}
		return paymentTable(rows), nil
	case models.ReportCashMovements:
		rows, err := s.movements.ListBetween(ctx, from, to)
		if err != nil {
			return export.Table{}, fmt.Errorf("load cash movements: %w", err)
		}
		return movementTable(rows), nil
	default:
		return export.Table{}, fmt.Errorf("unsupported report type %s", kind)
	}
}

func enrollmentTable(enrollments []models.Enrollment) export.Table {
	table := export.Table{
		Title: "Enrollments",
		Columns: []export.Column{
			{Header: "Enrolled on"},
			{Header: "Enrollment", Weight: 2},
			{Header: "Student", Weight: 2},
			{Header: "Program", Weight: 2},
			{Header: "Modality"},
			{Header: "Final", Align: export.AlignRight},
			{Header: "Paid", Align: export.AlignRight},
			{Header: "Balance", Align: export.AlignRight},
			{Header: "Payment"},
			{Header: "Academic"},
		},
	}
	final, paid, balance := decimal.Zero, decimal.Zero, decimal.Zero
	for _, e := range enrollments {
		table.Rows = append(table.Rows, []string{
			e.EnrolledOn.Format("2006-01-02"),
			e.ID,
			e.StudentID,
			e.ProgramID,
			string(e.Modality),
			e.FinalAmount.StringFixed(2),
			e.PaidAmount.StringFixed(2),
			e.Balance().StringFixed(2),
			string(e.PaymentState),
			string(e.AcademicState),
		})
		if e.Cancelled() {
			continue
		}
		final = final.Add(e.FinalAmount)
		paid = paid.Add(e.PaidAmount)
		balance = balance.Add(e.Balance())
	}
	table.Totals = []string{"Total", fmt.Sprintf("%d", len(enrollments)), "", "", "",
		money.Round(final).StringFixed(2), money.Round(paid).StringFixed(2), money.Round(balance).StringFixed(2), "", ""}
	return table
}

func paymentTable(payments []models.Payment) export.Table {
	table := export.Table{
		Title: "Payments",
		Columns: []export.Column{
			{Header: "Paid on"},
			{Header: "Kind", Weight: 2},
			{Header: "Method"},
			{Header: "Status"},
			{Header: "Concept", Weight: 4},
			{Header: "Amount", Align: export.AlignRight},
		},
	}
	confirmed := decimal.Zero
	for _, p := range payments {
		table.Rows = append(table.Rows, []string{
			p.PaidOn.Format("2006-01-02"),
			string(p.Kind),
			string(p.Method),
			string(p.Status),
			p.Concept,
			p.Amount.StringFixed(2),
		})
		if p.Status == models.PaymentStatusConfirmed {
			confirmed = confirmed.Add(p.Amount)
		}
	}
	table.Totals = []string{"Confirmed", "", "", "", "", money.Round(confirmed).StringFixed(2)}
	return table
}

func movementTable(movements []models.CashMovement) export.Table {
	table := export.Table{
		Title: "Cash movements",
		Columns: []export.Column{
			{Header: "Date"},
			{Header: "Reference"},
			{Header: "Description", Weight: 4},
			{Header: "Inflow", Align: export.AlignRight},
			{Header: "Outflow", Align: export.AlignRight},
		},
	}
	in, out := decimal.Zero, decimal.Zero
	for _, m := range movements {
		inflow, outflow := "", ""
		if m.Type == models.MovementOutflow {
			outflow = m.Amount.StringFixed(2)
			out = out.Add(m.Amount)
		} else {
			inflow = m.Amount.StringFixed(2)
			in = in.Add(m.Amount)
		}
		table.Rows = append(table.Rows, []string{
			m.MovementDate.Format("2006-01-02"),
			string(m.ReferenceType),
			m.Description,
			inflow,
			outflow,
		})
	}
	table.Totals = []string{"Total", "", "Net " + money.Round(in.Sub(out)).StringFixed(2), money.Round(in).StringFixed(2), money.Round(out).StringFixed(2)}
	return table
}
