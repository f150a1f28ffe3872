package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Table renders rows of text in aligned columns.
type Table struct {
	Headers []string
	Rows    [][]string

	// CellStyle picks the style of one cell. Nil uses TableCellStyle.
	CellStyle func(row, col int, value string) lipgloss.Style
}

// NewTable creates a table with the given column headers.
func NewTable(headers ...string) *Table {
	return &Table{Headers: headers}
}

// AddRow appends a row. Missing cells render empty and extra cells are
// dropped.
func (t *Table) AddRow(cells ...string) *Table {
	row := make([]string, len(t.Headers))
	copy(row, cells)
	t.Rows = append(t.Rows, row)
	return t
}

// Render returns the table as a string with a divider under the headers.
func (t *Table) Render() string {
	if len(t.Headers) == 0 {
		return ""
	}

	widths := make([]int, len(t.Headers))
	for i, h := range t.Headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.Rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	const gap = "  "
	var b strings.Builder

	header := make([]string, len(t.Headers))
	total := 0
	for i, h := range t.Headers {
		header[i] = TableHeaderStyle.Render(padRight(h, widths[i]))
		total += widths[i]
	}
	total += len(gap) * (len(t.Headers) - 1)
	b.WriteString(strings.TrimRight(strings.Join(header, gap), " "))
	b.WriteString("\n")
	b.WriteString(RenderHorizontalDivider(total, "─"))

	for r, row := range t.Rows {
		cells := make([]string, len(row))
		for c, cell := range row {
			style := TableCellStyle
			if t.CellStyle != nil {
				style = t.CellStyle(r, c, cell)
			}
			cells[c] = style.Render(padRight(cell, widths[c]))
		}
		b.WriteString("\n")
		b.WriteString(strings.TrimRight(strings.Join(cells, gap), " "))
	}
	return b.String()
}

// String implements fmt.Stringer
func (t *Table) String() string {
	return t.Render()
}
