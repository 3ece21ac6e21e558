package components

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	serial "github.com/allbin/go-serial-relay"
	"github.com/allbin/go-serial-relay/internal/tui/colors"
	"github.com/allbin/go-serial-relay/internal/tui/styles"
)

// StatusBar is the bottom line of the session monitor
type StatusBar struct {
	width   int
	target  string
	framing string
	device  string
	state   serial.State
	notice  string
}

func NewStatusBar(target string, cfg serial.Config) *StatusBar {
	if target == "" {
		target = "any device"
	}
	return &StatusBar{
		target:  target,
		framing: fmt.Sprintf("%s port %d", cfg, cfg.PortIndex),
	}
}

func (sb *StatusBar) SetWidth(width int) { sb.width = width }

func (sb *StatusBar) SetState(state serial.State, device string) {
	sb.state = state
	sb.device = device
}

func (sb *StatusBar) SetNotice(notice string) { sb.notice = notice }

func (sb *StatusBar) State() serial.State { return sb.state }

func (sb *StatusBar) Notice() string { return sb.notice }

// View renders mode, target, state and framing in nvim statusline order.
func (sb *StatusBar) View(insert bool, sending SendingMode, timestamp string) string {
	width := sb.width
	if width <= 0 {
		width = 80
	}

	modeText, modeColor := "NORMAL", colors.Blue
	if insert {
		modeText, modeColor = "INSERT", colors.Green
	}
	mode := lipgloss.NewStyle().
		Foreground(colors.Base).
		Background(modeColor).
		Bold(true).
		Padding(0, 1).
		Render(modeText)

	name := sb.target
	if sb.device != "" {
		name = sb.device
	}
	target := lipgloss.NewStyle().
		Foreground(colors.Mauve).
		Bold(true).
		Padding(0, 1).
		Render(name)

	state := styles.StateStyle(sb.state).Render(styles.StateSymbol(sb.state) + " " + sb.state.String())

	divider := lipgloss.NewStyle().
		Foreground(colors.Surface2).
		Padding(0, 1).
		Render("│")

	left := []string{mode, target, state}
	if insert {
		left = append(left, lipgloss.NewStyle().
			Foreground(colors.Peach).
			Bold(true).
			Padding(0, 1).
			Render(fmt.Sprintf("[%s] Tab to toggle", sending)))
	}
	left = append(left, divider)
	leftSide := lipgloss.JoinHorizontal(lipgloss.Left, left...)

	framing := lipgloss.NewStyle().
		Foreground(colors.Subtext0).
		Padding(0, 1).
		Render("⚡ " + sb.framing)
	clock := lipgloss.NewStyle().
		Foreground(colors.Subtext1).
		Padding(0, 1).
		Render(timestamp)
	rightSide := lipgloss.JoinHorizontal(lipgloss.Left, framing, divider, clock)

	spacerWidth := width - lipgloss.Width(leftSide) - lipgloss.Width(rightSide)
	if spacerWidth < 1 {
		spacerWidth = 1
	}
	spacer := lipgloss.NewStyle().Width(spacerWidth).Render("")

	return lipgloss.NewStyle().
		Foreground(colors.Text).
		Background(colors.Surface0).
		Width(width).
		Render(lipgloss.JoinHorizontal(lipgloss.Left, leftSide, spacer, rightSide))
}
