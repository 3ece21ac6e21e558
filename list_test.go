package serial

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// fakeSysfs builds a /dev and /sys tree under a temp directory and points
// the package at it for the duration of the test.
type fakeSysfs struct {
	t    *testing.T
	root string
}

func newFakeSysfs(t *testing.T) *fakeSysfs {
	t.Helper()
	root := t.TempDir()
	for _, dir := range []string{"dev", filepath.Join("sys", "class", "tty")} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0755); err != nil {
			t.Fatalf("Failed to create %s: %v", dir, err)
		}
	}

	oldDev, oldSys, oldCheck := devDir, sysfsRoot, checkDevice
	devDir = filepath.Join(root, "dev")
	sysfsRoot = filepath.Join(root, "sys")
	checkDevice = func(path string) bool {
		_, err := os.Stat(path)
		return err == nil
	}
	t.Cleanup(func() {
		devDir, sysfsRoot, checkDevice = oldDev, oldSys, oldCheck
	})

	return &fakeSysfs{t: t, root: root}
}

func (f *fakeSysfs) write(path, content string) {
	f.t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		f.t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content+"\n"), 0644); err != nil {
		f.t.Fatalf("write %s: %v", path, err)
	}
}

// addUSBDevice creates devices/usb<bus>/<id> with the given attributes.
func (f *fakeSysfs) addUSBDevice(id string, attrs map[string]string) string {
	dir := filepath.Join(f.root, "sys", "devices", "usb1", id)
	for name, value := range attrs {
		f.write(filepath.Join(dir, name), value)
	}
	return dir
}

// addTTY creates the /dev node and the class/tty link. usbDev may be empty
// for a non-USB port.
func (f *fakeSysfs) addTTY(name, usbDev, iface string) {
	f.t.Helper()
	f.write(filepath.Join(f.root, "dev", name), "")

	classDir := filepath.Join(f.root, "sys", "class", "tty", name)
	if err := os.MkdirAll(classDir, 0755); err != nil {
		f.t.Fatalf("mkdir: %v", err)
	}

	var target string
	if usbDev == "" {
		target = filepath.Join(f.root, "sys", "devices", "platform", "serial8250", name)
	} else {
		ifaceDir := filepath.Join(usbDev, filepath.Base(usbDev)+":1."+iface)
		f.write(filepath.Join(ifaceDir, "bInterfaceNumber"), "0"+iface)
		target = filepath.Join(ifaceDir, name)
	}
	if err := os.MkdirAll(target, 0755); err != nil {
		f.t.Fatalf("mkdir: %v", err)
	}
	if err := os.Symlink(target, filepath.Join(classDir, "device")); err != nil {
		f.t.Fatalf("symlink: %v", err)
	}
}

func TestIsSerialName(t *testing.T) {
	tests := []struct {
		name        string
		shouldMatch bool
	}{
		{"ttyUSB0", true},
		{"ttyUSB1", true},
		{"ttyACM0", true},
		{"ttyS0", true},
		{"ttyAMA0", true},
		{"ttyTHS2", true},
		{"tty1", false},
		{"console", false},
		{"ptmx", false},
		{"ptyp0", false},
		{"random", false},
	}

	for _, tt := range tests {
		if got := isSerialName(tt.name); got != tt.shouldMatch {
			t.Errorf("isSerialName(%s) = %v, expected %v", tt.name, got, tt.shouldMatch)
		}
	}
}

func TestIsCharacterDevice(t *testing.T) {
	tests := []struct {
		path     string
		expected bool
	}{
		{"/dev/null", true},
		{"/dev/zero", true},
		{"/tmp", false},
		{"/nonexistent", false},
	}

	for _, test := range tests {
		if result := isCharacterDevice(test.path); result != test.expected {
			t.Errorf("isCharacterDevice(%s) = %v, expected %v", test.path, result, test.expected)
		}
	}
}

func TestGetPortDescription(t *testing.T) {
	tests := []struct {
		name     string
		expected string
	}{
		{"ttyUSB0", "USB Serial Port"},
		{"ttyACM0", "USB CDC/ACM Device"},
		{"ttyS0", "Standard Serial Port"},
		{"ttyAMA0", "ARM Serial Port"},
		{"ttymxc0", "i.MX Serial Port"},
		{"ttyO0", "OMAP Serial Port"},
		{"ttySAC0", "Samsung Serial Port"},
		{"ttyTHS0", "Tegra Serial Port"},
		{"unknown", "Serial Port"},
	}

	for _, test := range tests {
		if result := getPortDescription(test.name); result != test.expected {
			t.Errorf("getPortDescription(%s) = %s, expected %s", test.name, result, test.expected)
		}
	}
}

func TestReadSysfsFile(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name     string
		content  *string
		expected string
	}{
		{"normal file", strPtr("1234\n"), "1234"},
		{"file with spaces", strPtr("  test value  \n"), "test value"},
		{"empty file", strPtr(""), ""},
		{"nonexistent file", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name)
			if tt.content != nil {
				if err := os.WriteFile(path, []byte(*tt.content), 0644); err != nil {
					t.Fatalf("Setup failed: %v", err)
				}
			}
			if result := readSysfsFile(path); result != tt.expected {
				t.Errorf("readSysfsFile() = %q, expected %q", result, tt.expected)
			}
		})
	}
}

func strPtr(s string) *string { return &s }

func TestListPortsFiltersAndSorts(t *testing.T) {
	fs := newFakeSysfs(t)
	fs.addTTY("ttyUSB1", "", "")
	fs.addTTY("ttyUSB0", "", "")
	fs.addTTY("tty1", "", "")
	fs.write(filepath.Join(fs.root, "dev", "random"), "")

	ports, err := ListPorts()
	if err != nil {
		t.Fatalf("ListPorts failed: %v", err)
	}
	if len(ports) != 2 {
		t.Fatalf("expected 2 ports, got %v", ports)
	}
	if !strings.HasSuffix(ports[0], "ttyUSB0") || !strings.HasSuffix(ports[1], "ttyUSB1") {
		t.Errorf("ports not sorted: %v", ports)
	}
}

func TestSysfsDiscovererGroupsMultiPortAdapter(t *testing.T) {
	fs := newFakeSysfs(t)
	ftdi := fs.addUSBDevice("5-2.3.1", map[string]string{
		"idVendor":     "0403",
		"idProduct":    "6010",
		"serial":       "FT123456",
		"manufacturer": "FTDI",
		"product":      "FT2232C Dual USB-UART",
		"busnum":       "5",
		"devnum":       "7",
	})
	fs.addTTY("ttyUSB1", ftdi, "1")
	fs.addTTY("ttyUSB0", ftdi, "0")
	fs.addTTY("ttyS0", "", "")

	devices, err := SysfsDiscoverer{}.Devices()
	if err != nil {
		t.Fatalf("Devices failed: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("expected 2 devices, got %d: %+v", len(devices), devices)
	}

	var usb, plain Device
	for _, d := range devices {
		if d.IsUSB() {
			usb = d
		} else {
			plain = d
		}
	}

	checks := []struct {
		name     string
		got      string
		expected string
	}{
		{"ID", usb.ID, "5-2.3.1"},
		{"VendorID", usb.VendorID, "0403"},
		{"ProductID", usb.ProductID, "6010"},
		{"SerialNumber", usb.SerialNumber, "FT123456"},
		{"Manufacturer", usb.Manufacturer, "FTDI"},
		{"Product", usb.Product, "FT2232C Dual USB-UART"},
		{"BusNumber", usb.BusNumber, "5"},
		{"DeviceNumber", usb.DeviceNumber, "7"},
		{"plain ID", plain.ID, "ttyS0"},
	}
	for _, c := range checks {
		if c.got != c.expected {
			t.Errorf("%s = %q, expected %q", c.name, c.got, c.expected)
		}
	}

	if len(usb.Ports) != 2 {
		t.Fatalf("expected 2 ports on USB device, got %v", usb.Ports)
	}
	if filepath.Base(usb.Ports[0]) != "ttyUSB0" || filepath.Base(usb.Ports[1]) != "ttyUSB1" {
		t.Errorf("ports not ordered by interface: %v", usb.Ports)
	}
	if len(plain.Ports) != 1 {
		t.Errorf("expected single port on ttyS0, got %v", plain.Ports)
	}
}

func TestDeviceMatches(t *testing.T) {
	dev := Device{
		ID:           "1-1.2",
		SerialNumber: "ABC",
		Ports:        []string{"/dev/ttyUSB3"},
	}

	for _, s := range []string{"", "1-1.2", "ABC", "/dev/ttyUSB3", "ttyUSB3"} {
		if !dev.Matches(s) {
			t.Errorf("Matches(%q) = false, want true", s)
		}
	}
	if dev.Matches("ttyUSB0") {
		t.Error("Matches(ttyUSB0) = true, want false")
	}
}

func TestFindDevice(t *testing.T) {
	fs := newFakeSysfs(t)
	fs.addTTY("ttyS0", "", "")

	dev, err := FindDevice(SysfsDiscoverer{}, "ttyS0")
	if err != nil {
		t.Fatalf("FindDevice failed: %v", err)
	}
	if dev.ID != "ttyS0" {
		t.Errorf("ID = %q", dev.ID)
	}

	_, err = FindDevice(SysfsDiscoverer{}, "nope")
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("expected ErrDeviceNotFound, got %v", err)
	}
}

func TestGetPortInfoNonExistent(t *testing.T) {
	_, err := GetPortInfo("/dev/nonexistent")
	if err != ErrDeviceNotFound {
		t.Errorf("Expected ErrDeviceNotFound, got %v", err)
	}
}
