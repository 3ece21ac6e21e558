package serial

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// BugstOpener opens ports through go.bug.st/serial. It works on every
// platform that library supports, at the cost of the native opener's
// wakeable reads.
type BugstOpener struct{}

var _ Opener = BugstOpener{}

func (BugstOpener) Open(dev Device, portIndex int) (Conn, error) {
	path, err := portPath(dev, portIndex)
	if err != nil {
		return nil, err
	}

	// go.bug.st/serial needs a mode to open; Configure replaces it.
	p, err := serial.Open(path, &serial.Mode{BaudRate: 9600, DataBits: 8})
	if err != nil {
		return nil, bugstError(path, err)
	}
	return &bugstConn{port: p, path: path}, nil
}

type bugstConn struct {
	port serial.Port
	path string

	mu           sync.Mutex // guards writeTimeout
	writeTimeout time.Duration
	wmu          sync.Mutex // serializes writes still running after a timeout
}

func (c *bugstConn) Configure(cfg Config) error {
	mode, err := bugstMode(cfg)
	if err != nil {
		return err
	}
	if err := c.port.SetMode(mode); err != nil {
		return bugstError(c.path, err)
	}

	timeout := cfg.ReadTimeout
	if timeout == 0 {
		timeout = serial.NoTimeout
	}
	if err := c.port.SetReadTimeout(timeout); err != nil {
		return bugstError(c.path, err)
	}

	c.mu.Lock()
	c.writeTimeout = cfg.WriteTimeout
	c.mu.Unlock()
	return nil
}

func bugstMode(cfg Config) (*serial.Mode, error) {
	if _, err := getBaudRate(cfg.BaudRate); err != nil {
		return nil, err
	}

	mode := &serial.Mode{BaudRate: cfg.BaudRate, DataBits: cfg.DataBits}
	switch cfg.StopBits {
	case 1:
		mode.StopBits = serial.OneStopBit
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, ErrInvalidConfig
	}

	switch cfg.Parity {
	case ParityNone:
		mode.Parity = serial.NoParity
	case ParityOdd:
		mode.Parity = serial.OddParity
	case ParityEven:
		mode.Parity = serial.EvenParity
	case ParityMark:
		mode.Parity = serial.MarkParity
	case ParitySpace:
		mode.Parity = serial.SpaceParity
	default:
		return nil, ErrInvalidConfig
	}
	return mode, nil
}

// Write runs the blocking library write on its own goroutine so the write
// timeout can be enforced. A timed out write keeps running and holds back
// the next one.
func (c *bugstConn) Write(data []byte) error {
	buf := append([]byte(nil), data...)
	done := make(chan error, 1)
	go func() {
		c.wmu.Lock()
		defer c.wmu.Unlock()
		done <- c.writeAll(buf)
	}()

	c.mu.Lock()
	timeout := c.writeTimeout
	c.mu.Unlock()
	if timeout <= 0 {
		return <-done
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("%s: %w", c.path, ErrWriteTimeout)
	}
}

func (c *bugstConn) writeAll(buf []byte) error {
	for len(buf) > 0 {
		n, err := c.port.Write(buf)
		if err != nil {
			return bugstError(c.path, err)
		}
		buf = buf[n:]
	}
	return nil
}

func (c *bugstConn) Read(buf []byte) (int, error) {
	n, err := c.port.Read(buf)
	if err != nil {
		return n, bugstError(c.path, err)
	}
	return n, nil
}

func (c *bugstConn) Close() error {
	return bugstError(c.path, c.port.Close())
}

// bugstError maps go.bug.st/serial failures onto the package sentinels.
func bugstError(path string, err error) error {
	if err == nil {
		return nil
	}

	code, ok := portErrorCode(err)
	if !ok {
		return openError(path, err)
	}
	switch code {
	case serial.PermissionDenied:
		return fmt.Errorf("%w: %s", ErrPermissionDenied, path)
	case serial.PortNotFound, serial.InvalidSerialPort:
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, path)
	case serial.PortClosed:
		return ErrPortClosed
	case serial.InvalidSpeed:
		return ErrInvalidBaudRate
	case serial.InvalidDataBits, serial.InvalidParity, serial.InvalidStopBits, serial.InvalidTimeoutValue:
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	default:
		return fmt.Errorf("%w: %s: %v", ErrOpenFailed, path, err)
	}
}

func portErrorCode(err error) (serial.PortErrorCode, bool) {
	var pe *serial.PortError
	if errors.As(err, &pe) && pe != nil {
		return pe.Code(), true
	}
	var pv serial.PortError
	if errors.As(err, &pv) {
		return pv.Code(), true
	}
	return 0, false
}

// enumeratePorts is replaced in tests.
var enumeratePorts = enumerator.GetDetailedPortsList

// EnumeratorDiscoverer discovers devices with go.bug.st/serial/enumerator.
// USB ports sharing VID, PID and serial number form one Device.
type EnumeratorDiscoverer struct{}

var _ Discoverer = EnumeratorDiscoverer{}

func (EnumeratorDiscoverer) Devices() ([]Device, error) {
	ports, err := enumeratePorts()
	if err != nil {
		return nil, fmt.Errorf("enumerate ports: %w", err)
	}
	return groupPortDetails(ports), nil
}

func groupPortDetails(ports []*enumerator.PortDetails) []Device {
	byKey := make(map[string]*Device)
	var order []string

	for _, pd := range ports {
		if pd == nil || pd.Name == "" {
			continue
		}

		key := pd.Name
		if pd.IsUSB {
			key = strings.ToLower(pd.VID + ":" + pd.PID + "/" + pd.SerialNumber)
		}
		dev, ok := byKey[key]
		if !ok {
			dev = &Device{ID: pd.Name, Description: pd.Product}
			if pd.IsUSB {
				dev.ID = strings.ToLower(pd.VID + ":" + pd.PID)
				if pd.SerialNumber != "" {
					dev.ID += "/" + pd.SerialNumber
				}
				dev.VendorID = strings.ToLower(pd.VID)
				dev.ProductID = strings.ToLower(pd.PID)
				dev.SerialNumber = pd.SerialNumber
				dev.Product = pd.Product
			}
			byKey[key] = dev
			order = append(order, key)
		}
		dev.Ports = append(dev.Ports, pd.Name)
	}

	devices := make([]Device, 0, len(order))
	for _, key := range order {
		dev := byKey[key]
		sort.Strings(dev.Ports)
		devices = append(devices, *dev)
	}
	return devices
}
