package serial

import (
	"fmt"
	"time"
)

// Parity represents the parity mode
type Parity int

const (
	ParityNone Parity = iota
	ParityOdd
	ParityEven
	ParityMark
	ParitySpace
)

func (p Parity) String() string {
	switch p {
	case ParityOdd:
		return "O"
	case ParityEven:
		return "E"
	case ParityMark:
		return "M"
	case ParitySpace:
		return "S"
	default:
		return "N"
	}
}

// ParseParity accepts none/odd/even/mark/space or their one letter forms.
func ParseParity(s string) (Parity, error) {
	switch s {
	case "", "none", "n", "N":
		return ParityNone, nil
	case "odd", "o", "O":
		return ParityOdd, nil
	case "even", "e", "E":
		return ParityEven, nil
	case "mark", "m", "M":
		return ParityMark, nil
	case "space", "s", "S":
		return ParitySpace, nil
	default:
		return ParityNone, fmt.Errorf("%w: unknown parity %q", ErrInvalidConfig, s)
	}
}

// Config holds the immutable configuration of a session: which port of the
// discovered device to bind and how to frame it.
type Config struct {
	PortIndex    int
	BaudRate     int
	DataBits     int
	StopBits     int
	Parity       Parity
	ReadTimeout  time.Duration // granularity 100ms, 0 blocks until data arrives
	WriteTimeout time.Duration
	Device       string // optional match on device ID, serial number or port path
}

// Option is a functional option for configuring a session
type Option func(*Config) error

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		PortIndex:    0,
		BaudRate:     9600,
		DataBits:     8,
		StopBits:     1,
		Parity:       ParityNone,
		ReadTimeout:  200 * time.Millisecond,
		WriteTimeout: 2 * time.Second,
	}
}

// NewConfig applies opts on top of DefaultConfig.
func NewConfig(opts ...Option) (Config, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		if err := opt(&config); err != nil {
			return Config{}, err
		}
	}
	return config, nil
}

// String renders the framing the way terminals usually show it, e.g. "9600 8N1".
func (c Config) String() string {
	return fmt.Sprintf("%d %d%s%d", c.BaudRate, c.DataBits, c.Parity, c.StopBits)
}

// WithPortIndex selects the 0-based port of a multi-port device
func WithPortIndex(index int) Option {
	return func(c *Config) error {
		if index < 0 {
			return ErrInvalidConfig
		}
		c.PortIndex = index
		return nil
	}
}

// WithBaudRate sets the baud rate
func WithBaudRate(rate int) Option {
	return func(c *Config) error {
		if _, err := getBaudRate(rate); err != nil {
			return err
		}
		c.BaudRate = rate
		return nil
	}
}

// WithDataBits sets the number of data bits (5, 6, 7, or 8)
func WithDataBits(bits int) Option {
	return func(c *Config) error {
		if bits < 5 || bits > 8 {
			return ErrInvalidConfig
		}
		c.DataBits = bits
		return nil
	}
}

// WithStopBits sets the number of stop bits (1 or 2)
func WithStopBits(bits int) Option {
	return func(c *Config) error {
		if bits != 1 && bits != 2 {
			return ErrInvalidConfig
		}
		c.StopBits = bits
		return nil
	}
}

// WithParity sets the parity mode
func WithParity(parity Parity) Option {
	return func(c *Config) error {
		if parity < ParityNone || parity > ParitySpace {
			return ErrInvalidConfig
		}
		c.Parity = parity
		return nil
	}
}

// WithReadTimeout sets how long a read waits for data. It must be a multiple
// of 100ms no larger than 25.5s.
func WithReadTimeout(timeout time.Duration) Option {
	return func(c *Config) error {
		if timeout < 0 || timeout > 25500*time.Millisecond || timeout%(100*time.Millisecond) != 0 {
			return ErrInvalidConfig
		}
		c.ReadTimeout = timeout
		return nil
	}
}

// WithWriteTimeout bounds a single write. Zero disables the bound.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(c *Config) error {
		if timeout < 0 {
			return ErrInvalidConfig
		}
		c.WriteTimeout = timeout
		return nil
	}
}

// WithDevice restricts discovery to the device whose ID, serial number or
// port path equals match.
func WithDevice(match string) Option {
	return func(c *Config) error {
		c.Device = match
		return nil
	}
}
