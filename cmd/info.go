/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	serial "github.com/allbin/go-serial-relay"
)

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:   "info <device>",
	Short: "Display detailed information about a serial device",
	Long: `Display what the session knows about a device: its ports, USB metadata
and the driver a prober would bind it with.

The device may be named by ID, USB serial number or any of its port paths.

Examples:
  serial-relay info /dev/ttyUSB0
  serial-relay info 0403:6001/A50285BI
  serial-relay info --port-index 1 FT4232H01`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		disc, err := discoverer()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		custom, err := customProber()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		dev, err := serial.FindDevice(disc, args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding device: %v\n", err)
			os.Exit(1)
		}

		cfg, err := sessionConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		drv, ok := serial.ProberChain{serial.DefaultProber{}, custom}.Probe(dev)
		printInfo(os.Stdout, dev, drv, ok, cfg.PortIndex)
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func printInfo(w io.Writer, dev serial.Device, drv *serial.Driver, compatible bool, portIndex int) {
	fmt.Fprintf(w, "Device Information: %s\n\n", dev.ID)
	if dev.Description != "" {
		fmt.Fprintf(w, "  Description: %s\n", dev.Description)
	}
	for i, p := range dev.Ports {
		fmt.Fprintf(w, "  Port %d:      %s\n", i, p)
	}

	if dev.IsUSB() {
		fmt.Fprintln(w, "\nUSB Device Information:")
		fmt.Fprintf(w, "  Vendor ID:    %s\n", dev.VendorID)
		fmt.Fprintf(w, "  Product ID:   %s\n", dev.ProductID)
		if dev.SerialNumber != "" {
			fmt.Fprintf(w, "  Serial:       %s\n", dev.SerialNumber)
		}
		if dev.BusNumber != "" {
			fmt.Fprintf(w, "  Bus:          %s\n", dev.BusNumber)
		}
		if dev.DeviceNumber != "" {
			fmt.Fprintf(w, "  Device:       %s\n", dev.DeviceNumber)
		}
		if dev.Manufacturer != "" {
			fmt.Fprintf(w, "  Manufacturer: %s\n", dev.Manufacturer)
		}
		if dev.Product != "" {
			fmt.Fprintf(w, "  Product:      %s\n", dev.Product)
		}
	}

	fmt.Fprintln(w, "\nSession:")
	if !compatible {
		fmt.Fprintln(w, "  Driver:       none (add --prober vvvv:pppp to accept this device)")
		return
	}
	fmt.Fprintf(w, "  Driver:       %s\n", drv.Name)
	if path, err := drv.Port(portIndex); err != nil {
		fmt.Fprintf(w, "  Port index %d is out of range (%d ports)\n", portIndex, drv.PortCount())
	} else {
		fmt.Fprintf(w, "  Binds:        %s\n", path)
	}
}
