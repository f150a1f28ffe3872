package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Result is a success or failure box printed when a command finishes.
type Result struct {
	Success bool
	Title   string
	Details []Param
	Error   error
	Width   int
}

// NewSuccessResult creates a success result box
func NewSuccessResult(title string, details ...Param) *Result {
	return &Result{Success: true, Title: title, Details: details, Width: GetTerminalWidth()}
}

// NewFailureResult creates a failure result box
func NewFailureResult(title string, err error) *Result {
	return &Result{Title: title, Error: err, Width: GetTerminalWidth()}
}

// SetWidth sets the terminal width for responsive rendering
func (r *Result) SetWidth(width int) *Result {
	r.Width = width
	return r
}

// Render returns the styled result box as a string
func (r *Result) Render() string {
	width := max(r.Width, MinTerminalWidth)

	color := SuccessColor
	title := SuccessTitleStyle.Render(fmt.Sprintf("%s  %s", SuccessMarker, r.Title))
	if !r.Success {
		color = ErrorColor
		title = ErrorTitleStyle.Render(fmt.Sprintf("%s  %s", FailureMarker, r.Title))
	}

	lines := []string{title}
	if r.Error != nil {
		lines = append(lines, "", ErrorMessageStyle.Render(r.Error.Error()))
	}
	if len(r.Details) > 0 {
		lines = append(lines, "")
		for _, d := range r.Details {
			lines = append(lines, ResultKeyStyle.Render(d.Key+":")+" "+ResultValueStyle.Render(d.Value))
		}
	}

	return lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(color).
		Width(width - 2).
		Padding(0, 2).
		Render(strings.Join(lines, "\n"))
}

// String implements fmt.Stringer
func (r *Result) String() string {
	return r.Render()
}
