package serial

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Filesystem roots, replaced in tests.
var (
	devDir      = "/dev"
	sysfsRoot   = "/sys"
	checkDevice = isCharacterDevice
)

// Regular expressions for different types of serial devices
var serialPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^ttyUSB\d+$`), // USB serial adapters
	regexp.MustCompile(`^ttyACM\d+$`), // USB CDC/ACM devices
	regexp.MustCompile(`^ttyS\d+$`),   // Standard serial ports
	regexp.MustCompile(`^ttyAMA\d+$`), // ARM/Raspberry Pi serial
	regexp.MustCompile(`^ttymxc\d+$`), // i.MX serial ports
	regexp.MustCompile(`^ttyO\d+$`),   // OMAP serial ports
	regexp.MustCompile(`^ttySAC\d+$`), // Samsung serial ports
	regexp.MustCompile(`^ttyTHS\d+$`), // Tegra serial ports
}

// Exclude patterns for virtual terminals and other non-serial devices
var excludePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^tty\d+$`),
	regexp.MustCompile(`^console$`),
	regexp.MustCompile(`^ptmx$`),
	regexp.MustCompile(`^pty.*$`),
	regexp.MustCompile(`^pts/.*$`),
}

func isSerialName(name string) bool {
	for _, p := range excludePatterns {
		if p.MatchString(name) {
			return false
		}
	}
	for _, p := range serialPatterns {
		if p.MatchString(name) {
			return true
		}
	}
	return false
}

// ListPorts returns a list of available serial ports on the system
// Filters for communication-capable devices and excludes virtual terminals
func ListPorts() ([]string, error) {
	entries, err := os.ReadDir(devDir)
	if err != nil {
		return nil, err
	}

	var ports []string
	for _, entry := range entries {
		name := entry.Name()
		if !isSerialName(name) {
			continue
		}
		fullPath := filepath.Join(devDir, name)
		if checkDevice(fullPath) {
			ports = append(ports, fullPath)
		}
	}

	sort.Strings(ports)
	return ports, nil
}

// isCharacterDevice checks if the given path is a character device
func isCharacterDevice(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// PortInfo describes a single serial port node
type PortInfo struct {
	Name            string
	Path            string
	Description     string
	InterfaceNumber string

	usbDir string // sysfs directory of the parent USB device, empty for non-USB ports
}

// GetPortInfo returns detailed information about a specific port
func GetPortInfo(portPath string) (*PortInfo, error) {
	if !checkDevice(portPath) {
		return nil, ErrDeviceNotFound
	}

	name := filepath.Base(portPath)
	info := &PortInfo{
		Name:        name,
		Path:        portPath,
		Description: getPortDescription(name),
	}
	if strings.HasPrefix(name, "ttyUSB") || strings.HasPrefix(name, "ttyACM") {
		info.usbDir, info.InterfaceNumber = resolveUSBParent(name)
	}
	return info, nil
}

// getPortDescription provides human-readable descriptions for different port types
func getPortDescription(name string) string {
	switch {
	case strings.HasPrefix(name, "ttyUSB"):
		return "USB Serial Port"
	case strings.HasPrefix(name, "ttyACM"):
		return "USB CDC/ACM Device"
	case strings.HasPrefix(name, "ttyAMA"):
		return "ARM Serial Port"
	case strings.HasPrefix(name, "ttymxc"):
		return "i.MX Serial Port"
	case strings.HasPrefix(name, "ttySAC"):
		return "Samsung Serial Port"
	case strings.HasPrefix(name, "ttyTHS"):
		return "Tegra Serial Port"
	case strings.HasPrefix(name, "ttyO"):
		return "OMAP Serial Port"
	case strings.HasPrefix(name, "ttyS"):
		return "Standard Serial Port"
	default:
		return "Serial Port"
	}
}

// resolveUSBParent follows /sys/class/tty/<name>/device upwards until it
// reaches the USB device directory (the one carrying idVendor). The interface
// number is picked up on the way.
func resolveUSBParent(name string) (usbDir, iface string) {
	link := filepath.Join(sysfsRoot, "class", "tty", name, "device")
	dir, err := filepath.EvalSymlinks(link)
	if err != nil {
		return "", ""
	}

	for i := 0; i < 4 && dir != "/" && dir != "."; i++ {
		if iface == "" {
			iface = readSysfsFile(filepath.Join(dir, "bInterfaceNumber"))
		}
		if readSysfsFile(filepath.Join(dir, "idVendor")) != "" {
			return dir, iface
		}
		dir = filepath.Dir(dir)
	}
	return "", iface
}

// readSysfsFile returns the trimmed content of a sysfs attribute, or "" if
// it cannot be read.
func readSysfsFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Device is one physical serial-capable device. A multi-port USB adapter
// exposes several port nodes under a single Device.
type Device struct {
	ID           string // USB sysfs name such as "1-1.2", or the port name for non-USB ports
	Description  string
	VendorID     string
	ProductID    string
	SerialNumber string
	Manufacturer string
	Product      string
	BusNumber    string
	DeviceNumber string
	Ports        []string // port paths ordered by interface number
}

// IsUSB reports whether USB metadata was found for the device
func (d Device) IsUSB() bool {
	return d.VendorID != ""
}

// Matches reports whether s names this device by ID, serial number or port path.
func (d Device) Matches(s string) bool {
	if s == "" {
		return true
	}
	if s == d.ID || (d.SerialNumber != "" && s == d.SerialNumber) {
		return true
	}
	for _, p := range d.Ports {
		if s == p || s == filepath.Base(p) {
			return true
		}
	}
	return false
}

func (d Device) String() string {
	if d.IsUSB() {
		return fmt.Sprintf("%s [%s:%s]", d.ID, d.VendorID, d.ProductID)
	}
	return d.ID
}

// Discoverer enumerates the devices currently attached to the host
type Discoverer interface {
	Devices() ([]Device, error)
}

// SysfsDiscoverer discovers devices from /dev and /sys on Linux
type SysfsDiscoverer struct{}

var _ Discoverer = SysfsDiscoverer{}

// Devices lists serial ports and groups them by their parent USB device.
func (SysfsDiscoverer) Devices() ([]Device, error) {
	ports, err := ListPorts()
	if err != nil {
		return nil, err
	}

	type member struct {
		path  string
		iface string
	}
	groups := make(map[string][]member)
	var order []string
	devices := make(map[string]*Device)

	for _, portPath := range ports {
		info, err := GetPortInfo(portPath)
		if err != nil {
			continue
		}

		key := info.Name
		if info.usbDir != "" {
			key = info.usbDir
		}
		if _, ok := devices[key]; !ok {
			devices[key] = newDevice(info)
			order = append(order, key)
		}
		groups[key] = append(groups[key], member{path: portPath, iface: info.InterfaceNumber})
	}

	result := make([]Device, 0, len(order))
	for _, key := range order {
		members := groups[key]
		sort.SliceStable(members, func(i, j int) bool {
			if members[i].iface != members[j].iface {
				return members[i].iface < members[j].iface
			}
			return members[i].path < members[j].path
		})
		dev := devices[key]
		for _, m := range members {
			dev.Ports = append(dev.Ports, m.path)
		}
		result = append(result, *dev)
	}
	return result, nil
}

func newDevice(info *PortInfo) *Device {
	dev := &Device{
		ID:          info.Name,
		Description: info.Description,
	}
	if info.usbDir == "" {
		return dev
	}

	dev.ID = filepath.Base(info.usbDir)
	dev.VendorID = readSysfsFile(filepath.Join(info.usbDir, "idVendor"))
	dev.ProductID = readSysfsFile(filepath.Join(info.usbDir, "idProduct"))
	dev.SerialNumber = readSysfsFile(filepath.Join(info.usbDir, "serial"))
	dev.Manufacturer = readSysfsFile(filepath.Join(info.usbDir, "manufacturer"))
	dev.Product = readSysfsFile(filepath.Join(info.usbDir, "product"))
	dev.BusNumber = readSysfsFile(filepath.Join(info.usbDir, "busnum"))
	dev.DeviceNumber = readSysfsFile(filepath.Join(info.usbDir, "devnum"))
	return dev
}

// FindDevice returns the first discovered device matching s.
func FindDevice(d Discoverer, s string) (Device, error) {
	devices, err := d.Devices()
	if err != nil {
		return Device{}, err
	}
	for _, dev := range devices {
		if dev.Matches(s) {
			return dev, nil
		}
	}
	return Device{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, s)
}
