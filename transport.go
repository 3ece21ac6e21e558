package serial

import "fmt"

// Conn is an opened serial port. Open and Configure are separate steps so a
// session can tell access problems apart from negotiation faults.
type Conn interface {
	// Configure applies baud rate and framing.
	Configure(cfg Config) error
	// Write sends all of data or fails. A write that could not finish within
	// the configured write timeout returns an error wrapping ErrWriteTimeout.
	Write(data []byte) error
	// Read returns (0, nil) when the read timeout elapses without data.
	Read(buf []byte) (int, error)
	Close() error
}

// Opener binds a device port to a Conn
type Opener interface {
	Open(dev Device, portIndex int) (Conn, error)
}

// NativeOpener opens ports with termios ioctls through golang.org/x/sys/unix
type NativeOpener struct{}

var _ Opener = NativeOpener{}

func (NativeOpener) Open(dev Device, portIndex int) (Conn, error) {
	path, err := portPath(dev, portIndex)
	if err != nil {
		return nil, err
	}
	return openPort(path)
}

func portPath(dev Device, portIndex int) (string, error) {
	if portIndex < 0 || portIndex >= len(dev.Ports) {
		return "", fmt.Errorf("%w: %d of %d on %s", ErrPortIndexRange, portIndex, len(dev.Ports), dev.ID)
	}
	return dev.Ports[portIndex], nil
}
