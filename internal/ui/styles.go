// Package ui renders the read-only terminal dashboard over the service
// layer.
package ui

import "github.com/charmbracelet/lipgloss"

// Styles groups the lipgloss styles the dashboard renders with.
type Styles struct {
	Header    lipgloss.Style
	Tab       lipgloss.Style
	ActiveTab lipgloss.Style
	Footer    lipgloss.Style
	Error     lipgloss.Style
}

// DefaultStyles is the stock dashboard theme.
func DefaultStyles() Styles {
	return Styles{
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#8BC34A")).
			PaddingBottom(1),
		Tab: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6c7a92")).
			Padding(0, 2),
		ActiveTab: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#f2f2f2")).
			Background(lipgloss.Color("#2a3850")).
			Padding(0, 2),
		Footer: lipgloss.NewStyle().
			Faint(true).
			PaddingTop(1),
		Error: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#e53935")),
	}
}
