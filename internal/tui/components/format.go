package components

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/allbin/go-serial-relay/internal/tui/colors"
)

type EntryKind int

const (
	EntryRX EntryKind = iota
	EntryTX
	EntryEvent
	EntryNotice
)

// Entry is one line of the session log
type Entry struct {
	Time time.Time
	Kind EntryKind
	Data []byte
	Text string
	Err  error
}

type DisplayMode struct {
	Hex   bool
	ASCII bool
}

var (
	timestampStyle = lipgloss.NewStyle().Foreground(colors.Overlay0)
	rxStyle        = lipgloss.NewStyle().Foreground(colors.Green).Bold(true)
	txStyle        = lipgloss.NewStyle().Foreground(colors.Blue).Bold(true)
	eventStyle     = lipgloss.NewStyle().Foreground(colors.Mauve).Bold(true)
	noticeStyle    = lipgloss.NewStyle().Foreground(colors.Peach).Bold(true)
	hexStyle       = lipgloss.NewStyle().Foreground(colors.Teal)
	asciiStyle     = lipgloss.NewStyle().Foreground(colors.Text)
	errStyle       = lipgloss.NewStyle().Foreground(colors.Red)
)

// Format renders e as a single log line
func Format(e Entry, mode DisplayMode) string {
	ts := timestampStyle.Render(e.Time.Format("15:04:05.000"))

	var tag, body string
	switch e.Kind {
	case EntryRX:
		tag = rxStyle.Render("RX")
		body = formatData(e.Data, mode)
	case EntryTX:
		tag = txStyle.Render("TX")
		body = formatData(e.Data, mode)
	case EntryEvent:
		tag = eventStyle.Render("EV")
		body = e.Text
	default:
		tag = noticeStyle.Render("!!")
		body = e.Text
	}
	if e.Err != nil {
		body = strings.TrimSpace(body + " " + errStyle.Render(e.Err.Error()))
	}
	return fmt.Sprintf("%s %s %s", ts, tag, body)
}

func formatData(data []byte, mode DisplayMode) string {
	if !mode.Hex && !mode.ASCII {
		mode.ASCII = true
	}
	parts := make([]string, 0, 2)
	if mode.Hex {
		parts = append(parts, hexStyle.Render(HexString(data)))
	}
	if mode.ASCII {
		parts = append(parts, asciiStyle.Render(Printable(data)))
	}
	return strings.Join(parts, "  ")
}

// HexString formats data as space separated upper case byte pairs
func HexString(data []byte) string {
	parts := make([]string, len(data))
	for i, b := range data {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, " ")
}

// Printable replaces control and non-ASCII bytes with '.'
func Printable(data []byte) string {
	var b strings.Builder
	b.Grow(len(data))
	for _, c := range data {
		if c >= 32 && c <= 126 {
			b.WriteByte(c)
		} else {
			b.WriteByte('.')
		}
	}
	return b.String()
}
