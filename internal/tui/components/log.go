package components

import (
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

const maxEntries = 1000

// Log is a scrolling view over session log entries
type Log struct {
	viewport viewport.Model
	entries  []Entry
	mode     DisplayMode
	ready    bool
}

func NewLog() *Log {
	return &Log{mode: DisplayMode{ASCII: true}}
}

func (l *Log) SetSize(width, height int) {
	if !l.ready {
		l.viewport = viewport.New(width, height)
		l.ready = true
	} else {
		l.viewport.Width = width
		l.viewport.Height = height
	}
	l.refresh()
}

func (l *Log) Add(e Entry) {
	l.entries = append(l.entries, e)
	if len(l.entries) > maxEntries {
		l.entries = l.entries[len(l.entries)-maxEntries:]
	}
	l.refresh()
}

func (l *Log) Entries() []Entry { return l.entries }

func (l *Log) Clear() {
	l.entries = nil
	l.refresh()
}

func (l *Log) Mode() DisplayMode { return l.mode }

func (l *Log) ToggleHex() {
	l.mode.Hex = !l.mode.Hex
	l.refresh()
}

func (l *Log) ToggleASCII() {
	l.mode.ASCII = !l.mode.ASCII
	l.refresh()
}

func (l *Log) refresh() {
	if !l.ready {
		return
	}
	lines := make([]string, len(l.entries))
	for i, e := range l.entries {
		lines[i] = Format(e, l.mode)
	}
	atBottom := l.viewport.AtBottom()
	l.viewport.SetContent(strings.Join(lines, "\n"))
	if atBottom {
		l.viewport.GotoBottom()
	}
}

func (l *Log) Update(msg tea.Msg) (*Log, tea.Cmd) {
	if !l.ready {
		return l, nil
	}
	var cmd tea.Cmd
	l.viewport, cmd = l.viewport.Update(msg)
	return l, cmd
}

func (l *Log) View() string {
	if !l.ready {
		return "Initializing..."
	}
	return l.viewport.View()
}
