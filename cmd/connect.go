/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	serial "github.com/allbin/go-serial-relay"
	"github.com/allbin/go-serial-relay/internal/tui/models"
)

// connectCmd represents the connect command
var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Monitor a session interactively",
	Long: `Open an interactive monitor on a serial session.

The monitor connects on start and shows session events, notices and
received data as they arrive. Keys:
- c / d connect and disconnect
- 0-9 send an event code
- i type free-form data (Tab switches between ASCII and hex)
- h / a toggle hex and ASCII display

Logs are discarded unless --log-file is set, since the monitor owns the
terminal.

Example usage:
  serial-relay connect
  serial-relay connect --device /dev/ttyUSB0 --baud 19200
  serial-relay connect --transport bugst --log-file relay.log`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runConnectTUI(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(connectCmd)
}

func runConnectTUI() error {
	logger, closeLog, err := newLogger(true)
	if err != nil {
		return err
	}
	defer closeLog()

	notices := make(models.Notices, 16)
	s, err := newSession(logger, serial.WithNotifier(notices))
	if err != nil {
		return err
	}
	defer s.Close()

	m := models.NewSession(s, notices, s.Config())
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	_, err = p.Run()
	return err
}
