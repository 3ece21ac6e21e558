/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	serial "github.com/allbin/go-serial-relay"
)

// resetCmd represents the reset command
var resetCmd = &cobra.Command{
	Use:   "reset [device]",
	Short: "Reset a USB serial adapter",
	Long: `Perform a USB-level reset on a serial adapter. This recovers adapters
that are hung without physically unplugging them. A running relay bound to
the adapter sees an I/O fault and reconnects once it re-enumerates.

Without an argument the configured --device is reset. The port path may
change after the reset; device IDs and serial numbers do not.

Requirements:
- usbreset utility must be installed (from usbutils package)
- Root/sudo permissions required for USB operations

Examples:
  sudo serial-relay reset /dev/ttyUSB0
  sudo serial-relay reset NC7ILXW1`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if !serial.IsUSBResetAvailable() {
			fmt.Fprintln(os.Stderr, "Error: usbreset utility not available")
			fmt.Fprintln(os.Stderr, "Install with: sudo apt-get install usbutils")
			os.Exit(1)
		}

		disc, err := discoverer()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		target := ""
		if len(args) == 1 {
			target = args[0]
		} else if cfg, err := sessionConfig(); err == nil {
			target = cfg.Device
		}
		if target == "" {
			fmt.Fprintln(os.Stderr, "Error: requires a device argument or --device")
			os.Exit(1)
		}

		dev, err := serial.FindDevice(disc, target)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Resetting USB device: %s\n", dev)
		if err := serial.ResetDevice(dev); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			if errors.Is(err, serial.ErrUSBInfoNotAvailable) {
				fmt.Fprintln(os.Stderr, "This device does not appear to be a USB device")
			}
			os.Exit(1)
		}

		fmt.Println("USB device reset successfully")
		fmt.Println("\nUse 'serial-relay list --table' to see the updated device list")
	},
}

func init() {
	rootCmd.AddCommand(resetCmd)
}
