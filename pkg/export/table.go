package export

import "fmt"

// Align is the horizontal alignment of a column.
type Align string

const (
	AlignLeft  Align = "L"
	AlignRight Align = "R"
)

// Column describes one column of a table. Weight is relative to the other columns and
// defaults to 1.
type Column struct {
	Header string
	Align  Align
	Weight float64
}

// Table is the tabular content of a report.
type Table struct {
	Title    string
	Subtitle string
	Columns  []Column
	Rows     [][]string
	Totals   []string
}

// Headers returns the column headers in order.
func (t Table) Headers() []string {
	headers := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		headers[i] = c.Header
	}
	return headers
}

// Validate checks that every row matches the column count.
func (t Table) Validate() error {
	if len(t.Columns) == 0 {
		return fmt.Errorf("table requires at least one column")
	}
	for i, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return fmt.Errorf("row %d has %d cells, want %d", i+1, len(row), len(t.Columns))
		}
	}
	if len(t.Totals) > 0 && len(t.Totals) != len(t.Columns) {
		return fmt.Errorf("totals row has %d cells, want %d", len(t.Totals), len(t.Columns))
	}
	return nil
}
