package serial

import (
	"errors"
	"strings"
	"testing"
)

func stubUSBReset(t *testing.T, available bool, run func(path string) ([]byte, error)) {
	t.Helper()
	oldLook, oldRun, oldWait := lookPath, runUSBReset, reenumerateIn
	t.Cleanup(func() { lookPath, runUSBReset, reenumerateIn = oldLook, oldRun, oldWait })

	lookPath = func(string) (string, error) {
		if available {
			return "/usr/bin/usbreset", nil
		}
		return "", errors.New("not found")
	}
	runUSBReset = run
	reenumerateIn = 0
}

func TestUSBBusPath(t *testing.T) {
	tests := []struct {
		name    string
		dev     Device
		want    string
		wantErr bool
	}{
		{"padded", Device{ID: "5-2", VendorID: "0403", BusNumber: "5", DeviceNumber: "7"}, "005/007", false},
		{"wide", Device{ID: "1-1", VendorID: "0403", BusNumber: "12", DeviceNumber: "115"}, "012/115", false},
		{"not usb", Device{ID: "ttyS0", BusNumber: "1", DeviceNumber: "2"}, "", true},
		{"missing numbers", Device{ID: "1-1", VendorID: "0403"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := usbBusPath(tt.dev)
			if (err != nil) != tt.wantErr {
				t.Fatalf("usbBusPath() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrUSBInfoNotAvailable) {
				t.Errorf("error = %v, want ErrUSBInfoNotAvailable", err)
			}
			if got != tt.want {
				t.Errorf("usbBusPath() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResetDevice(t *testing.T) {
	dev := Device{ID: "5-2.3.1", VendorID: "0403", BusNumber: "5", DeviceNumber: "7"}

	var got string
	stubUSBReset(t, true, func(path string) ([]byte, error) {
		got = path
		return nil, nil
	})

	if err := ResetDevice(dev); err != nil {
		t.Fatalf("ResetDevice failed: %v", err)
	}
	if got != "005/007" {
		t.Errorf("usbreset called with %q, want 005/007", got)
	}
}

func TestResetDeviceUnavailable(t *testing.T) {
	stubUSBReset(t, false, func(string) ([]byte, error) {
		t.Error("usbreset must not run")
		return nil, nil
	})

	err := ResetDevice(Device{ID: "1-1", VendorID: "0403", BusNumber: "1", DeviceNumber: "2"})
	if !errors.Is(err, ErrUSBResetNotAvailable) {
		t.Errorf("ResetDevice() error = %v, want ErrUSBResetNotAvailable", err)
	}
}

func TestResetDeviceFailureIncludesOutput(t *testing.T) {
	stubUSBReset(t, true, func(string) ([]byte, error) {
		return []byte("Error in ioctl: Operation not permitted"), errors.New("exit status 1")
	})

	err := ResetDevice(Device{ID: "1-1", VendorID: "0403", BusNumber: "1", DeviceNumber: "2"})
	if err == nil || !strings.Contains(err.Error(), "Operation not permitted") {
		t.Errorf("ResetDevice() error = %v, want usbreset output", err)
	}
}
