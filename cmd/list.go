/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/evertras/bubble-table/table"
	"github.com/spf13/cobra"

	serial "github.com/allbin/go-serial-relay"
	"github.com/allbin/go-serial-relay/internal/tui/colors"
)

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List attached serial devices",
	Long: `List serial devices attached to the system, grouped by USB adapter.

Each device shows the driver the session would bind it with. Devices no
prober recognises are shown with "-" and are never connected; accept them
with --prober vvvv:pppp[=name].

Filters:
  all         every device (default)
  usb         USB adapters only
  compatible  devices a prober accepts`,
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

		devices, err := disc.Devices()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing devices: %v\n", err)
			os.Exit(1)
		}

		filter, _ := cmd.Flags().GetString("filter")
		tableFormat, _ := cmd.Flags().GetBool("table")

		rows, err := listRows(devices, serial.ProberChain{serial.DefaultProber{}, custom}, filter)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if len(rows) == 0 {
			fmt.Println("No serial devices found")
			return
		}

		if tableFormat {
			renderTable(os.Stdout, rows)
		} else {
			renderSimple(os.Stdout, rows)
		}
	},
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringP("filter", "f", "all", "Filter devices: all, usb, compatible")
	listCmd.Flags().BoolP("table", "t", false, "Display output in a styled table")
}

type deviceRow struct {
	device serial.Device
	driver string
}

func listRows(devices []serial.Device, prober serial.Prober, filter string) ([]deviceRow, error) {
	var rows []deviceRow
	for _, dev := range devices {
		driver := "-"
		if drv, ok := prober.Probe(dev); ok {
			driver = drv.Name
		}

		switch strings.ToLower(filter) {
		case "", "all":
		case "usb":
			if !dev.IsUSB() {
				continue
			}
		case "compatible":
			if driver == "-" {
				continue
			}
		default:
			return nil, fmt.Errorf("unknown filter %q", filter)
		}
		rows = append(rows, deviceRow{device: dev, driver: driver})
	}
	return rows, nil
}

func renderSimple(w io.Writer, rows []deviceRow) {
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.device.ID, r.driver, strings.Join(r.device.Ports, ","))
	}
}

const (
	colID      = "id"
	colDriver  = "driver"
	colPorts   = "ports"
	colSerial  = "serial"
	colProduct = "product"
)

func renderTable(w io.Writer, rows []deviceRow) {
	columns := []table.Column{
		table.NewColumn(colID, "Device", 24),
		table.NewColumn(colDriver, "Driver", 10),
		table.NewColumn(colPorts, "Ports", 28),
		table.NewColumn(colSerial, "Serial", 16),
		table.NewColumn(colProduct, "Product", 28),
	}

	tableRows := make([]table.Row, 0, len(rows))
	for _, r := range rows {
		product := r.device.Product
		if product == "" {
			product = r.device.Description
		}
		tableRows = append(tableRows, table.NewRow(table.RowData{
			colID:      r.device.ID,
			colDriver:  r.driver,
			colPorts:   strings.Join(r.device.Ports, " "),
			colSerial:  r.device.SerialNumber,
			colProduct: product,
		}))
	}

	t := table.New(columns).
		WithRows(tableRows).
		BorderRounded().
		WithBaseStyle(lipgloss.NewStyle().
			Foreground(colors.Text).
			BorderForeground(colors.Surface2).
			Align(lipgloss.Left)).
		HeaderStyle(lipgloss.NewStyle().Foreground(colors.Mauve).Bold(true))

	fmt.Fprintf(w, "Found %d serial device(s):\n\n", len(rows))
	fmt.Fprintln(w, t.View())
}
