package keys

import "github.com/charmbracelet/bubbles/key"

// SessionKeys are the bindings of the interactive session monitor
type SessionKeys struct {
	Quit       key.Binding
	Help       key.Binding
	InsertMode key.Binding
	Escape     key.Binding

	Connect    key.Binding
	Disconnect key.Binding
	Trigger    key.Binding

	Clear       key.Binding
	ToggleHex   key.Binding
	ToggleASCII key.Binding

	Enter          key.Binding
	ToggleSendMode key.Binding
	Up             key.Binding
	Down           key.Binding
}

func NewSessionKeys() SessionKeys {
	return SessionKeys{
		Quit: key.NewBinding(
			key.WithKeys("q", "Q", "ctrl+c"),
			key.WithHelp("q/ctrl+c", "quit"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "toggle help"),
		),
		InsertMode: key.NewBinding(
			key.WithKeys("i", "I"),
			key.WithHelp("i", "insert mode"),
		),
		Escape: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "normal mode"),
		),
		Connect: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "connect"),
		),
		Disconnect: key.NewBinding(
			key.WithKeys("d"),
			key.WithHelp("d", "disconnect"),
		),
		Trigger: key.NewBinding(
			key.WithKeys("0", "1", "2", "3", "4", "5", "6", "7", "8", "9"),
			key.WithHelp("0-9", "send event code"),
		),
		Clear: key.NewBinding(
			key.WithKeys("x"),
			key.WithHelp("x", "clear log"),
		),
		ToggleHex: key.NewBinding(
			key.WithKeys("h"),
			key.WithHelp("h", "toggle hex"),
		),
		ToggleASCII: key.NewBinding(
			key.WithKeys("a"),
			key.WithHelp("a", "toggle ascii"),
		),
		Enter: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "send"),
		),
		ToggleSendMode: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "toggle send mode"),
		),
		Up: key.NewBinding(
			key.WithKeys("up"),
			key.WithHelp("↑", "history back"),
		),
		Down: key.NewBinding(
			key.WithKeys("down"),
			key.WithHelp("↓", "history forward"),
		),
	}
}

func (k SessionKeys) ShortHelp() []key.Binding {
	return []key.Binding{k.Help, k.Connect, k.Disconnect, k.Trigger, k.InsertMode, k.Quit}
}

func (k SessionKeys) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Connect, k.Disconnect, k.Trigger},
		{k.InsertMode, k.Escape, k.Enter, k.ToggleSendMode, k.Up, k.Down},
		{k.Clear, k.ToggleHex, k.ToggleASCII},
		{k.Help, k.Quit},
	}
}
