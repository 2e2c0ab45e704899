package tui

import (
	"vitalred_worker/core/domain"

	"github.com/charmbracelet/lipgloss"
)

var (
	colorBlue   = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	colorGreen  = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	colorYellow = lipgloss.AdaptiveColor{Dark: "#FFD93D", Light: "#B7791F"}
	colorRed    = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	colorGray   = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
	colorWhite  = lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"}
	colorBorder = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#E2E8F0"}
)

var headerStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(colorWhite).
	Background(colorBlue).
	Padding(0, 1)

var panelStyle = lipgloss.NewStyle().
	Padding(1, 2).
	Border(lipgloss.RoundedBorder()).
	BorderForeground(colorBorder)

var labelStyle = lipgloss.NewStyle().
	Foreground(colorGray).
	Width(14)

var errorStyle = lipgloss.NewStyle().Foreground(colorRed)

var noticeStyle = lipgloss.NewStyle().
	Foreground(colorYellow).
	Italic(true)

func statusStyle(s domain.SessionStatus) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)
	switch s {
	case domain.SessionRunning:
		return base.Foreground(colorBlue)
	case domain.SessionPaused, domain.SessionStopped:
		return base.Foreground(colorYellow)
	case domain.SessionCompleted:
		return base.Foreground(colorGreen)
	case domain.SessionFailed:
		return base.Foreground(colorRed)
	}
	return base.Foreground(colorGray)
}
