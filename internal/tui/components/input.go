package components

import (
	"encoding/hex"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/allbin/go-serial-relay/internal/tui/colors"
	"github.com/allbin/go-serial-relay/internal/tui/styles"
)

const (
	asciiPlaceholder = "Type a message and press Enter to send..."
	hexPlaceholder   = "Enter hex (e.g. 31 or 30 31 32)..."

	historyLimit = 100
)

var ErrEmptyPayload = errors.New("empty payload")

type SendingMode int

const (
	SendingModeASCII SendingMode = iota
	SendingModeHex
)

func (s SendingMode) String() string {
	if s == SendingModeHex {
		return "HEX"
	}
	return "ASCII"
}

// ParseHex decodes hex digits, ignoring whitespace. An odd digit count is
// padded with a leading zero.
func ParseHex(input string) ([]byte, error) {
	clean := strings.Join(strings.Fields(input), "")
	if clean == "" {
		return nil, ErrEmptyPayload
	}
	if len(clean)%2 != 0 {
		clean = "0" + clean
	}
	return hex.DecodeString(clean)
}

type Input struct {
	textInput    textinput.Model
	sendingMode  SendingMode
	history      []string
	historyIndex int
	draft        string
	width        int
}

func NewInput() *Input {
	ti := textinput.New()
	ti.Placeholder = asciiPlaceholder
	ti.CharLimit = 256
	ti.Prompt = ""

	return &Input{
		textInput:    ti,
		sendingMode:  SendingModeASCII,
		historyIndex: -1,
	}
}

func (i *Input) SetWidth(width int) {
	i.width = width
	// border, padding, prompt and space
	usable := width - 6
	if usable < 20 {
		usable = 20
	}
	i.textInput.Width = usable
}

func (i *Input) Focus() { i.textInput.Focus() }
func (i *Input) Blur()  { i.textInput.Blur() }

func (i *Input) Value() string { return i.textInput.Value() }

func (i *Input) SetValue(value string) { i.textInput.SetValue(value) }

func (i *Input) Mode() SendingMode { return i.sendingMode }

func (i *Input) ToggleSendingMode() {
	if i.sendingMode == SendingModeASCII {
		i.sendingMode = SendingModeHex
		i.textInput.Placeholder = hexPlaceholder
		return
	}
	i.sendingMode = SendingModeASCII
	i.textInput.Placeholder = asciiPlaceholder
}

// Payload returns the bytes the current value encodes in the active mode.
func (i *Input) Payload() ([]byte, error) {
	value := i.textInput.Value()
	if i.sendingMode == SendingModeHex {
		return ParseHex(value)
	}
	if value == "" {
		return nil, ErrEmptyPayload
	}
	return []byte(value), nil
}

func (i *Input) Update(msg tea.Msg) (*Input, tea.Cmd) {
	var cmd tea.Cmd
	i.textInput, cmd = i.textInput.Update(msg)
	return i, cmd
}

func (i *Input) View(insert bool) string {
	symbol, promptColor := ">", colors.Green
	if i.sendingMode == SendingModeHex {
		symbol, promptColor = "#", colors.Yellow
	}
	prompt := lipgloss.NewStyle().Foreground(promptColor).Bold(true).Render(symbol)

	content := lipgloss.NewStyle().
		Foreground(colors.Overlay0).
		Render("Press 'i' to type, 0-9 to send an event code")
	if insert {
		content = i.textInput.View()
	}

	width := i.width - 4
	if width < 10 {
		width = 10
	}
	style := styles.InputStyle.Width(width)
	if insert {
		style = style.BorderForeground(colors.Green)
	}
	return style.Render(lipgloss.JoinHorizontal(lipgloss.Left, prompt, " ", content))
}

// AddToHistory records a sent value unless it is blank or repeats the last one
func (i *Input) AddToHistory(value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	if n := len(i.history); n == 0 || i.history[n-1] != value {
		i.history = append(i.history, value)
		if len(i.history) > historyLimit {
			i.history = i.history[1:]
		}
	}
	i.historyIndex = -1
	i.draft = ""
}

func (i *Input) HistoryUp() {
	if len(i.history) == 0 {
		return
	}
	switch {
	case i.historyIndex == -1:
		i.draft = i.textInput.Value()
		i.historyIndex = len(i.history) - 1
	case i.historyIndex > 0:
		i.historyIndex--
	}
	i.textInput.SetValue(i.history[i.historyIndex])
}

func (i *Input) HistoryDown() {
	if i.historyIndex == -1 {
		return
	}
	if i.historyIndex < len(i.history)-1 {
		i.historyIndex++
		i.textInput.SetValue(i.history[i.historyIndex])
		return
	}
	i.historyIndex = -1
	i.textInput.SetValue(i.draft)
	i.draft = ""
}
