package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

// landscapeColumns is the column count from which tables are laid out in landscape.
const landscapeColumns = 7

// PDFRenderer renders tables into an A4 PDF with a repeated header row and page numbers.
type PDFRenderer struct{}

// NewPDFRenderer constructs a PDF renderer.
func NewPDFRenderer() *PDFRenderer {
	return &PDFRenderer{}
}

// Render lays out the table. Wide tables switch to landscape.
func (r *PDFRenderer) Render(t Table) ([]byte, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	orientation := "P"
	if len(t.Columns) >= landscapeColumns {
		orientation = "L"
	}
	pdf := gofpdf.New(orientation, "mm", "A4", "")
	pdf.SetMargins(10, 15, 10)
	pdf.SetAutoPageBreak(true, 15)
	pageWidth, _ := pdf.GetPageSize()
	left, _, right, _ := pdf.GetMargins()
	widths := columnWidths(t.Columns, pageWidth-left-right)

	pdf.SetHeaderFunc(func() {
		if pdf.PageNo() == 1 {
			if t.Title != "" {
				pdf.SetFont("Arial", "B", 14)
				pdf.CellFormat(0, 10, strings.ToUpper(t.Title), "", 1, "C", false, 0, "")
			}
			if t.Subtitle != "" {
				pdf.SetFont("Arial", "", 10)
				pdf.CellFormat(0, 6, t.Subtitle, "", 1, "C", false, 0, "")
			}
			pdf.Ln(4)
		}
		pdf.SetFont("Arial", "B", 9)
		pdf.SetFillColor(230, 230, 230)
		for i, c := range t.Columns {
			pdf.CellFormat(widths[i], 8, c.Header, "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
	})
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont("Arial", "I", 8)
		pdf.CellFormat(0, 8, fmt.Sprintf("Page %d/{nb}", pdf.PageNo()), "", 0, "R", false, 0, "")
	})
	pdf.AliasNbPages("")
	pdf.AddPage()

	pdf.SetFont("Arial", "", 8)
	for _, row := range t.Rows {
		writeRow(pdf, t.Columns, widths, row)
	}
	if len(t.Totals) > 0 {
		pdf.SetFont("Arial", "B", 8)
		writeRow(pdf, t.Columns, widths, t.Totals)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRow(pdf *gofpdf.Fpdf, columns []Column, widths []float64, cells []string) {
	for i, value := range cells {
		align := string(columns[i].Align)
		if align == "" {
			align = string(AlignLeft)
		}
		pdf.CellFormat(widths[i], 7, value, "1", 0, align, false, 0, "")
	}
	pdf.Ln(-1)
}

func columnWidths(columns []Column, available float64) []float64 {
	total := 0.0
	for _, c := range columns {
		total += weight(c)
	}
	widths := make([]float64, len(columns))
	for i, c := range columns {
		widths[i] = available * weight(c) / total
	}
	return widths
}

func weight(c Column) float64 {
	if c.Weight <= 0 {
		return 1
	}
	return c.Weight
}
