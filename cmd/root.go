/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	serial "github.com/allbin/go-serial-relay"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "serial-relay",
	Short: "Relay detection events to a USB-serial device",
	Long: `serial-relay binds one port of a USB-serial adapter and forwards
detection event codes to it, one ASCII byte per event (code 1 is '1').

The connection is managed as a session: the first compatible device is
discovered, access is negotiated and the port is opened and configured.
I/O faults tear the session down and it is reconnected on demand.

Settings can come from flags, from $HOME/.serial-relay.yaml or from
SERIAL_RELAY_* environment variables, e.g. SERIAL_RELAY_BAUD=19200.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.serial-relay.yaml)")

	pf.String("log-level", "info", "Log level: trace, debug, info, warn, error")
	pf.Bool("log-json", false, "Log JSON instead of console output")
	pf.String("log-file", "", "Append logs to this file instead of stderr")

	pf.StringP("device", "D", "", "Device to bind by ID, serial number or port path (default: first compatible)")
	pf.IntP("port-index", "p", 0, "Port of a multi-port device to bind")
	pf.IntP("baud", "b", 9600, "Baud rate")
	pf.Int("data-bits", 8, "Data bits: 5, 6, 7, 8")
	pf.Int("stop-bits", 1, "Stop bits: 1, 2")
	pf.String("parity", "none", "Parity: none, odd, even, mark, space")
	pf.Duration("read-timeout", 200*time.Millisecond, "Read poll interval, 0 blocks")
	pf.Duration("write-timeout", 2*time.Second, "Write timeout")

	pf.StringSlice("prober", nil, "Extra adapters to accept, as vvvv:pppp[=name]")
	pf.String("transport", "native", "Port driver: native (termios) or bugst (go.bug.st/serial)")
	pf.String("discovery", "sysfs", "Device discovery: sysfs or enumerator")

	cobra.CheckErr(viper.BindPFlags(pf))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".serial-relay")
	}

	viper.SetEnvPrefix("SERIAL_RELAY")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// newLogger builds the process logger. Commands that own the terminal pass
// quiet to keep console output away from the screen when no log file is set.
func newLogger(quiet bool) (zerolog.Logger, func(), error) {
	level, err := zerolog.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("invalid log level: %w", err)
	}

	var out io.Writer = os.Stderr
	closer := func() {}
	if path := viper.GetString("log-file"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, err
		}
		out, closer = f, func() { f.Close() }
	} else if quiet {
		return zerolog.Nop(), closer, nil
	}

	if !viper.GetBool("log-json") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly, NoColor: out != os.Stderr}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger(), closer, nil
}

// sessionConfig builds the serial configuration from flags, file and env.
func sessionConfig() (serial.Config, error) {
	parity, err := serial.ParseParity(viper.GetString("parity"))
	if err != nil {
		return serial.Config{}, err
	}
	return serial.NewConfig(
		serial.WithDevice(viper.GetString("device")),
		serial.WithPortIndex(viper.GetInt("port-index")),
		serial.WithBaudRate(viper.GetInt("baud")),
		serial.WithDataBits(viper.GetInt("data-bits")),
		serial.WithStopBits(viper.GetInt("stop-bits")),
		serial.WithParity(parity),
		serial.WithReadTimeout(viper.GetDuration("read-timeout")),
		serial.WithWriteTimeout(viper.GetDuration("write-timeout")),
	)
}

func discoverer() (serial.Discoverer, error) {
	switch d := viper.GetString("discovery"); d {
	case "", "sysfs":
		return serial.SysfsDiscoverer{}, nil
	case "enumerator":
		return serial.EnumeratorDiscoverer{}, nil
	default:
		return nil, fmt.Errorf("unknown discovery %q, want sysfs or enumerator", d)
	}
}

func opener() (serial.Opener, error) {
	switch t := viper.GetString("transport"); t {
	case "", "native":
		return serial.NativeOpener{}, nil
	case "bugst":
		return serial.BugstOpener{}, nil
	default:
		return nil, fmt.Errorf("unknown transport %q, want native or bugst", t)
	}
}

func customProber() (*serial.CustomProber, error) {
	return serial.NewCustomProber(viper.GetStringSlice("prober")...)
}

// newSession wires a session from the persistent flags. extra options are
// applied last.
func newSession(logger zerolog.Logger, extra ...serial.SessionOption) (*serial.Session, error) {
	cfg, err := sessionConfig()
	if err != nil {
		return nil, err
	}
	disc, err := discoverer()
	if err != nil {
		return nil, err
	}
	op, err := opener()
	if err != nil {
		return nil, err
	}
	custom, err := customProber()
	if err != nil {
		return nil, err
	}

	opts := []serial.SessionOption{
		serial.WithDiscoverer(disc),
		serial.WithOpener(op),
		serial.WithProbers(custom),
		serial.WithLogger(logger),
	}
	return serial.NewSession(cfg, append(opts, extra...)...), nil
}

// waitConnected drives s until it is connected, re-invoking Connect when a
// permission decision arrives. Read events seen meanwhile are discarded.
func waitConnected(s *serial.Session, timeout time.Duration) error {
	s.Connect(serial.PermissionUnknown)

	deadline := time.After(timeout)
	for {
		select {
		case ev := <-s.Events():
			switch ev.Type {
			case serial.EventConnected:
				return nil
			case serial.EventConnectError:
				return fmt.Errorf("connect %s: %w", ev.Device.ID, ev.Err)
			case serial.EventPermission:
				s.Connect(ev.Permission)
			}
		case <-deadline:
			if s.State() == serial.StateDisconnected {
				return fmt.Errorf("no compatible device connected within %s", timeout)
			}
			return fmt.Errorf("connection still %s after %s", s.State(), timeout)
		}
	}
}
