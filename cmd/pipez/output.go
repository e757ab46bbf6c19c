package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("33"))
	failureStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	skippedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
)

// stateStyle colors lifecycle and deployment state names.
func stateStyle(value string) (lipgloss.Style, bool) {
	switch value {
	case "Terminated", "Completed":
		return successStyle, true
	case "Running", "ShuttingDown":
		return runningStyle, true
	case "Errored", "Failed":
		return failureStyle, true
	case "Init", "Pending":
		return pendingStyle, true
	case "Unknown":
		return skippedStyle, true
	}
	return lipgloss.Style{}, false
}

// renderTable writes rows under a bold header, padding every column to its
// widest cell.
func renderTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				widths[i] = max(widths[i], lipgloss.Width(cell))
			}
		}
	}

	line := func(cells []string, style func(string) lipgloss.Style) string {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			s := style(cell)
			if i < len(cells)-1 {
				s = s.Width(widths[i] + 2)
			}
			parts[i] = s.Render(cell)
		}
		return strings.TrimRight(strings.Join(parts, ""), " ")
	}

	fmt.Fprintln(w, line(headers, func(string) lipgloss.Style { return headerStyle }))
	for _, row := range rows {
		fmt.Fprintln(w, line(row, func(cell string) lipgloss.Style {
			if s, ok := stateStyle(cell); ok {
				return s
			}
			return lipgloss.NewStyle()
		}))
	}
}
