package cli

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/custodia-labs/tally/internal/core/domain"
)

// Colour palette.
var (
	colourPrimary = lipgloss.Color("#7C3AED")
	colourMuted   = lipgloss.Color("#6C7086")
	colourSuccess = lipgloss.Color("#A6E3A1")
	colourWarning = lipgloss.Color("#F9E2AF")
	colourError   = lipgloss.Color("#F38BA8")
	colourInfo    = lipgloss.Color("#06B6D4")
	colourBorder  = lipgloss.Color("#45475A")
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(colourPrimary)
	mutedStyle  = lipgloss.NewStyle().Foreground(colourMuted)
)

// stateStyle colours a cell by state.
func stateStyle(state domain.CellState) lipgloss.Style {
	s := lipgloss.NewStyle()
	switch {
	case state == domain.CellCompleted:
		return s.Foreground(colourSuccess)
	case state == domain.CellFailed:
		return s.Foreground(colourError)
	case state.IsInFlight():
		return s.Foreground(colourInfo)
	case state.IsQueued():
		return s.Foreground(colourWarning)
	default:
		return s.Foreground(colourMuted)
	}
}
