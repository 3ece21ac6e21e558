package serial

import "errors"

// Predefined error types for robust error handling
var (
	ErrDeviceNotFound   = errors.New("serial device not found")
	ErrPermissionDenied = errors.New("permission denied accessing serial device")
	ErrOpenFailed       = errors.New("serial device open failed")
	ErrInvalidBaudRate  = errors.New("invalid baud rate")
	ErrInvalidConfig    = errors.New("invalid serial configuration")
	ErrPortClosed       = errors.New("serial port is closed")
	ErrWriteTimeout     = errors.New("write operation timed out")

	// Session errors
	ErrNotConnected      = errors.New("not connected")
	ErrInvalidEventCode  = errors.New("event code does not map to a single byte")
	ErrPortIndexRange    = errors.New("port index out of range")
	ErrPermissionPending = errors.New("permission request already pending")

	// USB-related errors
	ErrUSBInfoNotAvailable  = errors.New("USB device information not available")
	ErrUSBResetNotAvailable = errors.New("usbreset utility not available")
)
