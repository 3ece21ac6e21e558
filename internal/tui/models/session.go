package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	serial "github.com/allbin/go-serial-relay"
	"github.com/allbin/go-serial-relay/internal/tui/components"
	"github.com/allbin/go-serial-relay/internal/tui/keys"
	"github.com/allbin/go-serial-relay/internal/tui/styles"
)

// Controller is the part of a serial session the monitor drives
type Controller interface {
	State() serial.State
	Device() (serial.Device, bool)
	Connect(outcome serial.PermissionOutcome)
	Disconnect()
	Send(data []byte) error
	Trigger(code int) error
	Events() <-chan serial.Event
}

var _ Controller = (*serial.Session)(nil)

// Notices carries session notices to the monitor. Notices that arrive while
// the buffer is full are dropped.
type Notices chan string

func (n Notices) Notify(msg string) {
	select {
	case n <- msg:
	default:
	}
}

type (
	EventMsg  serial.Event
	NoticeMsg string
	tickMsg   time.Time
	stateMsg  struct{}
	sentMsg   struct {
		data    []byte
		err     error
		dropped bool
	}
)

// Session is the bubbletea model of the interactive session monitor
type Session struct {
	ctrl    Controller
	notices <-chan string
	now     func() time.Time

	keys      keys.SessionKeys
	help      help.Model
	statusBar *components.StatusBar
	log       *components.Log
	input     *components.Input

	insert    bool
	showHelp  bool
	width     int
	height    int
	timestamp string
}

func NewSession(ctrl Controller, notices <-chan string, cfg serial.Config) *Session {
	return &Session{
		ctrl:      ctrl,
		notices:   notices,
		now:       time.Now,
		keys:      keys.NewSessionKeys(),
		help:      help.New(),
		statusBar: components.NewStatusBar(cfg.Device, cfg),
		log:       components.NewLog(),
		input:     components.NewInput(),
		timestamp: time.Now().Format("15:04:05"),
	}
}

func (m *Session) Init() tea.Cmd {
	return tea.Batch(
		waitForEvent(m.ctrl.Events()),
		waitForNotice(m.notices),
		tick(),
		m.connect(serial.PermissionUnknown),
	)
}

func waitForEvent(events <-chan serial.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return nil
		}
		return EventMsg(ev)
	}
}

func waitForNotice(notices <-chan string) tea.Cmd {
	if notices == nil {
		return nil
	}
	return func() tea.Msg {
		n, ok := <-notices
		if !ok {
			return nil
		}
		return NoticeMsg(n)
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *Session) connect(outcome serial.PermissionOutcome) tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		ctrl.Connect(outcome)
		return stateMsg{}
	}
}

func (m *Session) disconnect() tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		ctrl.Disconnect()
		return stateMsg{}
	}
}

func (m *Session) send(data []byte) tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		return sentMsg{data: data, err: ctrl.Send(data)}
	}
}

func (m *Session) trigger(code int) tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		b, err := serial.EncodeEventCode(code)
		if err != nil {
			return sentMsg{err: err}
		}
		connected := ctrl.State() == serial.StateConnected
		err = ctrl.Trigger(code)
		return sentMsg{data: []byte{b}, err: err, dropped: !connected}
	}
}

func (m *Session) refreshState() {
	name := ""
	if dev, ok := m.ctrl.Device(); ok {
		name = dev.ID
	}
	m.statusBar.SetState(m.ctrl.State(), name)
}

func (m *Session) addEntry(e components.Entry) {
	if e.Time.IsZero() {
		e.Time = m.now()
	}
	m.log.Add(e)
}

func (m *Session) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		return m, nil

	case tickMsg:
		m.timestamp = time.Time(msg).Format("15:04:05")
		return m, tick()

	case stateMsg:
		m.refreshState()
		return m, nil

	case EventMsg:
		return m, tea.Batch(m.handleEvent(serial.Event(msg)), waitForEvent(m.ctrl.Events()))

	case NoticeMsg:
		m.statusBar.SetNotice(string(msg))
		m.addEntry(components.Entry{Kind: components.EntryNotice, Text: string(msg)})
		m.refreshState()
		return m, waitForNotice(m.notices)

	case sentMsg:
		m.handleSent(msg)
		return m, nil

	case tea.KeyMsg:
		if m.insert {
			return m, m.handleInsertKey(msg)
		}
		return m, m.handleNormalKey(msg)
	}

	var cmd tea.Cmd
	m.log, cmd = m.log.Update(msg)
	return m, cmd
}

func (m *Session) handleEvent(ev serial.Event) tea.Cmd {
	m.refreshState()
	switch ev.Type {
	case serial.EventRead:
		m.addEntry(components.Entry{Kind: components.EntryRX, Data: ev.Data})
	case serial.EventPermission:
		m.addEntry(components.Entry{
			Kind: components.EntryEvent,
			Text: fmt.Sprintf("%s %s: %s", ev.Type, ev.Device.ID, ev.Permission),
		})
		return m.connect(ev.Permission)
	default:
		m.addEntry(components.Entry{
			Kind: components.EntryEvent,
			Text: strings.TrimSpace(fmt.Sprintf("%s %s", ev.Type, ev.Device.ID)),
			Err:  ev.Err,
		})
	}
	return nil
}

func (m *Session) handleSent(msg sentMsg) {
	m.refreshState()
	switch {
	case errors.Is(msg.err, serial.ErrNotConnected):
		// reported through the notifier
	case msg.err != nil:
		m.addEntry(components.Entry{Kind: components.EntryTX, Data: msg.data, Err: msg.err})
	case msg.dropped:
		m.addEntry(components.Entry{
			Kind: components.EntryNotice,
			Text: fmt.Sprintf("not connected, dropped %s", components.Printable(msg.data)),
		})
	default:
		m.addEntry(components.Entry{Kind: components.EntryTX, Data: msg.data})
	}
}

func (m *Session) handleInsertKey(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, m.keys.Escape):
		m.insert = false
		m.input.Blur()
		return nil
	case key.Matches(msg, m.keys.Enter):
		data, err := m.input.Payload()
		if err != nil {
			if !errors.Is(err, components.ErrEmptyPayload) {
				m.addEntry(components.Entry{Kind: components.EntryNotice, Text: "invalid input", Err: err})
			}
			return nil
		}
		m.input.AddToHistory(m.input.Value())
		m.input.SetValue("")
		return m.send(data)
	case key.Matches(msg, m.keys.ToggleSendMode):
		m.input.ToggleSendingMode()
		return nil
	case key.Matches(msg, m.keys.Up):
		m.input.HistoryUp()
		return nil
	case key.Matches(msg, m.keys.Down):
		m.input.HistoryDown()
		return nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return cmd
}

func (m *Session) handleNormalKey(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
		m.help.ShowAll = m.showHelp
		m.layout()
	case key.Matches(msg, m.keys.InsertMode):
		m.insert = true
		m.input.Focus()
	case key.Matches(msg, m.keys.Connect):
		return m.connect(serial.PermissionUnknown)
	case key.Matches(msg, m.keys.Disconnect):
		return m.disconnect()
	case key.Matches(msg, m.keys.Trigger):
		return m.trigger(int(msg.String()[0] - '0'))
	case key.Matches(msg, m.keys.Clear):
		m.log.Clear()
	case key.Matches(msg, m.keys.ToggleHex):
		m.log.ToggleHex()
	case key.Matches(msg, m.keys.ToggleASCII):
		m.log.ToggleASCII()
	default:
		var cmd tea.Cmd
		m.log, cmd = m.log.Update(msg)
		return cmd
	}
	return nil
}

func (m *Session) layout() {
	if m.width == 0 {
		return
	}
	m.statusBar.SetWidth(m.width)
	m.input.SetWidth(m.width)
	m.help.Width = m.width

	// header, input box, status bar and help
	reserved := 1 + 3 + 1 + lipgloss.Height(m.help.View(m.keys))
	height := m.height - reserved
	if height < 1 {
		height = 1
	}
	m.log.SetSize(m.width, height)
}

func (m *Session) View() string {
	header := styles.TitleStyle.Render("serial-relay")
	if n := m.statusBar.Notice(); n != "" {
		header = lipgloss.JoinHorizontal(lipgloss.Left, header, " ", styles.NoticeStyle.Render(n))
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		styles.ContentBorderStyle.Render(m.log.View()),
		m.input.View(m.insert),
		m.statusBar.View(m.insert, m.input.Mode(), m.timestamp),
		m.help.View(m.keys),
	)
}
