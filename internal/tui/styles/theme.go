package styles

import (
	serial "github.com/allbin/go-serial-relay"
	"github.com/allbin/go-serial-relay/internal/tui/colors"
	"github.com/charmbracelet/lipgloss"
)

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colors.Mauve).
			Background(colors.Surface0).
			Padding(0, 1)

	StateConnectedStyle = lipgloss.NewStyle().
				Foreground(colors.Green).
				Bold(true)

	StatePendingStyle = lipgloss.NewStyle().
				Foreground(colors.Yellow).
				Bold(true)

	StateDisconnectedStyle = lipgloss.NewStyle().
				Foreground(colors.Red).
				Bold(true)

	ContentBorderStyle = lipgloss.NewStyle().
				BorderTop(true).
				BorderStyle(lipgloss.NormalBorder()).
				BorderForeground(colors.Surface1)

	InputStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colors.Surface2).
			Padding(0, 1)

	NoticeStyle = lipgloss.NewStyle().
			Foreground(colors.Peach)

	ErrorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colors.Red)
)

// StateStyle returns the style of a session state indicator
func StateStyle(s serial.State) lipgloss.Style {
	switch s {
	case serial.StateConnected:
		return StateConnectedStyle
	case serial.StatePending:
		return StatePendingStyle
	default:
		return StateDisconnectedStyle
	}
}

// StateSymbol returns the one-character indicator of a session state
func StateSymbol(s serial.State) string {
	switch s {
	case serial.StateConnected:
		return "●"
	case serial.StatePending:
		return "◐"
	default:
		return "○"
	}
}
