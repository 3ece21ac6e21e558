package serial

import (
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// Replaced in tests.
var (
	lookPath      = exec.LookPath
	runUSBReset   = func(path string) ([]byte, error) { return exec.Command("usbreset", path).CombinedOutput() }
	reenumerateIn = 2 * time.Second
)

// ResetDevice performs a USB-level reset of dev, which recovers adapters
// stuck in a hung state. Any session bound to the device sees an I/O fault.
//
// Requires the usbreset utility (usbutils) and usually root.
//
// Returns ErrUSBInfoNotAvailable for non-USB devices and
// ErrUSBResetNotAvailable when usbreset is not installed.
func ResetDevice(dev Device) error {
	usbPath, err := usbBusPath(dev)
	if err != nil {
		return err
	}

	if !IsUSBResetAvailable() {
		return ErrUSBResetNotAvailable
	}

	if output, err := runUSBReset(usbPath); err != nil {
		return fmt.Errorf("usbreset %s failed: %w (output: %s)", usbPath, err, string(output))
	}

	// Wait for the device to re-enumerate
	time.Sleep(reenumerateIn)
	return nil
}

// usbBusPath formats the BBB/DDD argument usbreset expects.
func usbBusPath(dev Device) (string, error) {
	bus, berr := strconv.Atoi(dev.BusNumber)
	num, nerr := strconv.Atoi(dev.DeviceNumber)
	if !dev.IsUSB() || berr != nil || nerr != nil {
		return "", fmt.Errorf("%w: %s", ErrUSBInfoNotAvailable, dev.ID)
	}
	return fmt.Sprintf("%03d/%03d", bus, num), nil
}

// IsUSBResetAvailable checks if usbreset utility is available in PATH
func IsUSBResetAvailable() bool {
	_, err := lookPath("usbreset")
	return err == nil
}
