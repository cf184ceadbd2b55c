package cmd

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

var (
	successColor = lipgloss.Color("#10B981") // Green
	errorColor   = lipgloss.Color("#F87171") // Red
	mutedColor   = lipgloss.Color("#9CA3AF") // Gray
	primaryColor = lipgloss.Color("#A78BFA") // Purple

	successStyle = lipgloss.NewStyle().Foreground(successColor).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(mutedColor)
	labelStyle   = lipgloss.NewStyle().Foreground(primaryColor).Width(14)
)

// field renders an aligned "label value" line.
func field(label string, value any) string {
	return labelStyle.Render(label) + " " + fmt.Sprint(value)
}
