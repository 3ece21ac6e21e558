/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	serial "github.com/allbin/go-serial-relay"
	"github.com/allbin/go-serial-relay/internal/tui/colors"
	"github.com/allbin/go-serial-relay/internal/tui/components"
)

var (
	infoStyle    = lipgloss.NewStyle().Foreground(colors.Mauve).Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(colors.Green).Bold(true)
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send <code>... | --raw <data>",
	Short: "Send event codes to the device",
	Long: `Connect a session, send one or more event codes and disconnect.

Each code is written as a single byte, the code offset onto the ASCII
digits: 0 is '0', 1 is '1' and so on.

With --raw the argument is written verbatim instead (hex with --hex).

Examples:
  serial-relay send 1
  serial-relay send 1 2 3 --interval 500ms
  serial-relay send --raw --hex "31 32"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetBool("raw")
		hexMode, _ := cmd.Flags().GetBool("hex")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		interval, _ := cmd.Flags().GetDuration("interval")

		payloads, err := sendPayloads(args, raw, hexMode)
		if err != nil {
			return err
		}

		logger, closeLog, err := newLogger(false)
		if err != nil {
			return err
		}
		defer closeLog()

		s, err := newSession(logger, serial.WithNotifier(serial.NotifierFunc(func(msg string) {
			fmt.Printf("%s %s\n", infoStyle.Render("•"), msg)
		})))
		if err != nil {
			return err
		}
		defer s.Close()

		fmt.Printf("%s Connecting (%s)...\n", infoStyle.Render("⚡"), s.Config())
		if err := waitConnected(s, timeout); err != nil {
			return err
		}
		dev, _ := s.Device()
		fmt.Printf("%s Connected to %s\n", successStyle.Render("✓"), dev)
		defer s.Disconnect()

		for i, p := range payloads {
			if i > 0 && interval > 0 {
				time.Sleep(interval)
			}
			if err := s.Send(p); err != nil {
				return fmt.Errorf("send %s: %w", components.HexString(p), err)
			}
			fmt.Printf("%s Sent %s\n", successStyle.Render("✓"), components.HexString(p))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().Bool("raw", false, "Write the argument verbatim instead of event codes")
	sendCmd.Flags().BoolP("hex", "x", false, "With --raw, interpret data as hexadecimal")
	sendCmd.Flags().DurationP("timeout", "t", 10*time.Second, "How long to wait for the connection")
	sendCmd.Flags().Duration("interval", 0, "Delay between consecutive codes")
}

// sendPayloads converts the arguments into the writes to perform.
func sendPayloads(args []string, raw, hexMode bool) ([][]byte, error) {
	if raw {
		if len(args) != 1 {
			return nil, fmt.Errorf("--raw takes exactly one argument")
		}
		if hexMode {
			data, err := components.ParseHex(args[0])
			if err != nil {
				return nil, fmt.Errorf("invalid hex data: %w", err)
			}
			return [][]byte{data}, nil
		}
		return [][]byte{[]byte(args[0])}, nil
	}

	payloads := make([][]byte, 0, len(args))
	for _, a := range args {
		code, err := strconv.Atoi(a)
		if err != nil {
			return nil, fmt.Errorf("invalid event code %q", a)
		}
		b, err := serial.EncodeEventCode(code)
		if err != nil {
			return nil, err
		}
		payloads = append(payloads, []byte{b})
	}
	return payloads, nil
}
