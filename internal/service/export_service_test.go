package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/edu-billing-api/internal/models"
)

type periodRows struct {
	enrollments []models.Enrollment
	payments    []models.Payment
	movements   []models.CashMovement
	programID   string
}

func (p *periodRows) enrollmentReader() enrollmentPeriodReader { return enrollmentRows{p} }

type enrollmentRows struct{ p *periodRows }

func (e enrollmentRows) ListBetween(ctx context.Context, from, to time.Time, programID string) ([]models.Enrollment, error) {
	e.p.programID = programID
	return e.p.enrollments, nil
}

type paymentRows struct{ p *periodRows }

func (r paymentRows) ListBetween(ctx context.Context, from, to time.Time) ([]models.Payment, error) {
	return r.p.payments, nil
}

type movementRows struct{ p *periodRows }

func (r movementRows) ListBetween(ctx context.Context, from, to time.Time) ([]models.CashMovement, error) {
	return r.p.movements, nil
}

func sampleRows() *periodRows {
	on := date(2024, time.January, 10)
	return &periodRows{
		enrollments: []models.Enrollment{
			{ID: "enr-1", StudentID: "student-1", ProgramID: "prog-1", Modality: models.ModalityCash, FinalAmount: dec("900"), PaidAmount: dec("300"),
				PaymentState: models.PaymentPartial, AcademicState: models.AcademicEnrolled, EnrolledOn: on},
			{ID: "enr-2", StudentID: "student-2", ProgramID: "prog-1", Modality: models.ModalityCash, FinalAmount: dec("900"), PaidAmount: dec("100"),
				PaymentState: models.PaymentCancelled, AcademicState: models.AcademicWithdrawn, EnrolledOn: on},
		},
		payments: []models.Payment{
			{ID: "pay-1", Kind: models.PaymentKindCash, Method: models.MethodCash, Status: models.PaymentStatusConfirmed, Concept: "Cash payment", Amount: dec("300"), PaidOn: on},
			{ID: "pay-2", Kind: models.PaymentKindGenericIncome, Method: models.MethodTransfer, Status: models.PaymentStatusVoided, Concept: "Certificate", Amount: dec("40"), PaidOn: on},
		},
		movements: []models.CashMovement{
			{ID: "mv-1", Type: models.MovementInflow, Amount: dec("300"), Description: "Cash payment", ReferenceType: models.ReferencePayment, MovementDate: on},
			{ID: "mv-2", Type: models.MovementOutflow, Amount: dec("25.50"), Description: "Markers", ReferenceType: models.ReferenceExpense, MovementDate: on},
		},
	}
}

func newExportFixture(rows *periodRows) *ExportService {
	return NewExportService(rows.enrollmentReader(), paymentRows{rows}, movementRows{rows}, zap.NewNop(), nil, nil)
}

func TestExportServiceEnrollmentsCSV(t *testing.T) {
	rows := sampleRows()
	svc := newExportFixture(rows)

	file, err := svc.Render(context.Background(), models.ReportRequest{
		Type:      models.ReportEnrollments,
		Format:    models.ReportFormatCSV,
		From:      date(2024, time.January, 1),
		To:        date(2024, time.January, 31),
		ProgramID: "prog-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "enrollments_20240101_20240131.csv", file.Filename)
	assert.Equal(t, "text/csv", file.ContentType)
	assert.Equal(t, "prog-1", rows.programID)

	records, err := csv.NewReader(bytes.NewReader(file.Body)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, "Enrolled on", records[0][0])
	assert.Equal(t, "enr-1", records[1][1])
	totals := records[3]
	assert.Equal(t, "Total", totals[0])
	assert.Equal(t, "900.00", totals[5])
	assert.Equal(t, "300.00", totals[6])
	assert.Equal(t, "600.00", totals[7])
}

func TestExportServicePaymentsAndMovements(t *testing.T) {
	svc := newExportFixture(sampleRows())
	period := models.ReportRequest{From: date(2024, time.January, 1), To: date(2024, time.January, 31), Format: models.ReportFormatCSV}

	period.Type = models.ReportPayments
	file, err := svc.Render(context.Background(), period)
	require.NoError(t, err)
	records, err := csv.NewReader(bytes.NewReader(file.Body)).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "300.00", records[len(records)-1][5])

	period.Type = models.ReportCashMovements
	file, err = svc.Render(context.Background(), period)
	require.NoError(t, err)
	records, err = csv.NewReader(bytes.NewReader(file.Body)).ReadAll()
	require.NoError(t, err)
	totals := records[len(records)-1]
	assert.Equal(t, "Net 274.50", totals[2])
	assert.Equal(t, "25.50", totals[4])
}

func TestExportServicePDF(t *testing.T) {
	svc := newExportFixture(sampleRows())

	file, err := svc.Render(context.Background(), models.ReportRequest{
		Type: models.ReportEnrollments, Format: models.ReportFormatPDF,
		From: date(2024, time.January, 1), To: date(2024, time.January, 31),
	})
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", file.ContentType)
	assert.True(t, bytes.HasPrefix(file.Body, []byte("%PDF")))
}

func TestExportServiceRejectsUnknownFormat(t *testing.T) {
	svc := newExportFixture(sampleRows())

	_, err := svc.Render(context.Background(), models.ReportRequest{
		Type: models.ReportPayments, Format: "xlsx", From: date(2024, time.January, 1), To: date(2024, time.January, 31),
	})
	assert.Error(t, err)
}
