package serial

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Driver is a prober's verdict for a device: the driver that will handle it
// and the ports that driver exposes.
type Driver struct {
	Name   string
	Device Device
}

// PortCount returns the number of ports the driver exposes
func (d *Driver) PortCount() int {
	return len(d.Device.Ports)
}

// Port returns the path of port i
func (d *Driver) Port(i int) (string, error) {
	if i < 0 || i >= d.PortCount() {
		return "", fmt.Errorf("%w: %d of %d", ErrPortIndexRange, i, d.PortCount())
	}
	return d.Device.Ports[i], nil
}

// Prober decides whether it can drive a device
type Prober interface {
	Probe(dev Device) (*Driver, bool)
}

// ProberFunc adapts a function to the Prober interface
type ProberFunc func(dev Device) (*Driver, bool)

func (f ProberFunc) Probe(dev Device) (*Driver, bool) { return f(dev) }

// Well-known USB-serial bridge vendors
var defaultVendors = map[string]string{
	"0403": "ftdi",
	"10c4": "cp21xx",
	"1a86": "ch34x",
	"067b": "pl2303",
}

// DefaultProber recognises common USB-serial bridges by vendor ID and any
// CDC/ACM port.
type DefaultProber struct{}

func (DefaultProber) Probe(dev Device) (*Driver, bool) {
	if len(dev.Ports) == 0 {
		return nil, false
	}
	if name, ok := defaultVendors[strings.ToLower(dev.VendorID)]; ok {
		return &Driver{Name: name, Device: dev}, true
	}
	if strings.HasPrefix(filepath.Base(dev.Ports[0]), "ttyACM") {
		return &Driver{Name: "cdc-acm", Device: dev}, true
	}
	return nil, false
}

// CustomProber matches devices by exact VID:PID, for bridges the default
// prober does not know about.
type CustomProber struct {
	entries map[string]string
}

// NewCustomProber builds a prober from "vvvv:pppp" or "vvvv:pppp=name" entries.
func NewCustomProber(entries ...string) (*CustomProber, error) {
	p := &CustomProber{entries: make(map[string]string)}
	for _, e := range entries {
		if err := p.Add(e); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Add registers one "vvvv:pppp[=name]" entry
func (p *CustomProber) Add(entry string) error {
	ids, name, _ := strings.Cut(strings.TrimSpace(entry), "=")
	vid, pid, ok := strings.Cut(ids, ":")
	if !ok || !isHexID(vid) || !isHexID(pid) {
		return fmt.Errorf("%w: custom prober entry %q, want vvvv:pppp[=name]", ErrInvalidConfig, entry)
	}
	if name == "" {
		name = "custom"
	}
	p.entries[strings.ToLower(vid+":"+pid)] = name
	return nil
}

func (p *CustomProber) Probe(dev Device) (*Driver, bool) {
	if len(dev.Ports) == 0 || !dev.IsUSB() {
		return nil, false
	}
	name, ok := p.entries[strings.ToLower(dev.VendorID+":"+dev.ProductID)]
	if !ok {
		return nil, false
	}
	return &Driver{Name: name, Device: dev}, true
}

func isHexID(s string) bool {
	if len(s) != 4 {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}

// ProberChain tries each prober in order; the first match wins.
type ProberChain []Prober

func (c ProberChain) Probe(dev Device) (*Driver, bool) {
	for _, p := range c {
		if p == nil {
			continue
		}
		if drv, ok := p.Probe(dev); ok {
			return drv, true
		}
	}
	return nil, false
}
