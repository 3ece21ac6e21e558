package serial

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// port is the termios implementation of Conn. The descriptor is non-blocking;
// reads and writes wait in poll(2) together with a self-pipe so Close can
// wake them.
type port struct {
	mu     sync.RWMutex
	fd     int
	path   string
	config Config
	closed bool

	wakeR, wakeW int
	wakeOnce     sync.Once
}

var _ Conn = (*port)(nil)

// getBaudRate converts an integer baud rate to the unix constant
func getBaudRate(rate int) (uint32, error) {
	switch rate {
	case 50:
		return unix.B50, nil
	case 75:
		return unix.B75, nil
	case 110:
		return unix.B110, nil
	case 134:
		return unix.B134, nil
	case 150:
		return unix.B150, nil
	case 200:
		return unix.B200, nil
	case 300:
		return unix.B300, nil
	case 600:
		return unix.B600, nil
	case 1200:
		return unix.B1200, nil
	case 1800:
		return unix.B1800, nil
	case 2400:
		return unix.B2400, nil
	case 4800:
		return unix.B4800, nil
	case 9600:
		return unix.B9600, nil
	case 19200:
		return unix.B19200, nil
	case 38400:
		return unix.B38400, nil
	case 57600:
		return unix.B57600, nil
	case 115200:
		return unix.B115200, nil
	case 230400:
		return unix.B230400, nil
	case 460800:
		return unix.B460800, nil
	case 500000:
		return unix.B500000, nil
	case 576000:
		return unix.B576000, nil
	case 921600:
		return unix.B921600, nil
	case 1000000:
		return unix.B1000000, nil
	case 1152000:
		return unix.B1152000, nil
	case 1500000:
		return unix.B1500000, nil
	case 2000000:
		return unix.B2000000, nil
	case 2500000:
		return unix.B2500000, nil
	case 3000000:
		return unix.B3000000, nil
	case 3500000:
		return unix.B3500000, nil
	case 4000000:
		return unix.B4000000, nil
	default:
		return 0, ErrInvalidBaudRate
	}
}

// openPort opens the device node without touching its line settings
func openPort(path string) (*port, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, openError(path, err)
	}

	var pipe [2]int
	if err := unix.Pipe2(pipe[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: %s: self-pipe: %v", ErrOpenFailed, path, err)
	}

	return &port{
		fd:     fd,
		path:   path,
		config: DefaultConfig(),
		wakeR:  pipe[0],
		wakeW:  pipe[1],
	}, nil
}

// openError classifies open(2) failures
func openError(path string, err error) error {
	switch {
	case errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM):
		return fmt.Errorf("%w: %s", ErrPermissionDenied, path)
	case errors.Is(err, unix.ENOENT), errors.Is(err, unix.ENODEV), errors.Is(err, unix.ENXIO):
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, path)
	default:
		return fmt.Errorf("%w: %s: %v", ErrOpenFailed, path, err)
	}
}

// Configure applies baud rate and framing in raw mode
func (p *port) Configure(config Config) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPortClosed
	}
	if err := configureTermios(p.fd, config); err != nil {
		return err
	}
	p.config = config
	return nil
}

// configureTermios sets raw mode with the requested speed and framing
func configureTermios(fd int, config Config) error {
	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("failed to get termios: %w", err)
	}

	baudRate, err := getBaudRate(config.BaudRate)
	if err != nil {
		return err
	}

	termios.Cflag = unix.CREAD | unix.CLOCAL
	termios.Iflag = 0
	termios.Oflag = 0
	termios.Lflag = 0
	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0

	termios.Cflag = (termios.Cflag &^ unix.CBAUD) | baudRate
	termios.Ispeed = baudRate
	termios.Ospeed = baudRate

	switch config.DataBits {
	case 5:
		termios.Cflag |= unix.CS5
	case 6:
		termios.Cflag |= unix.CS6
	case 7:
		termios.Cflag |= unix.CS7
	case 8:
		termios.Cflag |= unix.CS8
	default:
		return ErrInvalidConfig
	}

	if config.StopBits == 2 {
		termios.Cflag |= unix.CSTOPB
	}

	switch config.Parity {
	case ParityOdd:
		termios.Cflag |= unix.PARENB | unix.PARODD
	case ParityEven:
		termios.Cflag |= unix.PARENB
	case ParityMark:
		termios.Cflag |= unix.PARENB | unix.PARODD | unix.CMSPAR
	case ParitySpace:
		termios.Cflag |= unix.PARENB | unix.CMSPAR
	}

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		return fmt.Errorf("failed to set termios: %w", err)
	}
	return nil
}

// wait polls the port for events together with the wake pipe. A zero or
// negative timeout waits until the port is ready or closed.
func (p *port) wait(events int16, timeout time.Duration) (bool, error) {
	ms := -1
	if timeout > 0 {
		ms = int(timeout / time.Millisecond)
	}

	fds := []unix.PollFd{
		{Fd: int32(p.fd), Events: events},
		{Fd: int32(p.wakeR), Events: unix.POLLIN},
	}
	for {
		n, err := unix.Poll(fds, ms)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return false, err
		}
		if n == 0 {
			return false, nil
		}
		if fds[1].Revents != 0 || fds[0].Revents&unix.POLLNVAL != 0 {
			return false, ErrPortClosed
		}
		if fds[0].Revents&events != 0 {
			return true, nil
		}
		if fds[0].Revents&(unix.POLLHUP|unix.POLLERR) != 0 {
			return false, fmt.Errorf("%s: hangup: %w", p.path, io.EOF)
		}
	}
}

// Read reads data from the serial port
func (p *port) Read(buf []byte) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return 0, ErrPortClosed
	}

	ready, err := p.wait(unix.POLLIN, p.config.ReadTimeout)
	if err != nil || !ready {
		return 0, err
	}

	n, err := unix.Read(p.fd, buf)
	switch {
	case errors.Is(err, unix.EAGAIN):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("%s: read: %w", p.path, err)
	case n == 0:
		return 0, fmt.Errorf("%s: %w", p.path, io.EOF)
	}
	return n, nil
}

// Write writes all of data, waiting for the output queue to drain when the
// kernel buffer is full.
func (p *port) Write(data []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPortClosed
	}

	var deadline time.Time
	if p.config.WriteTimeout > 0 {
		deadline = time.Now().Add(p.config.WriteTimeout)
	}

	for len(data) > 0 {
		n, err := unix.Write(p.fd, data)
		if n > 0 {
			data = data[n:]
		}
		if err == nil || len(data) == 0 {
			continue
		}
		if !errors.Is(err, unix.EAGAIN) {
			return fmt.Errorf("%s: write: %w", p.path, err)
		}

		var remaining time.Duration
		if !deadline.IsZero() {
			remaining = time.Until(deadline)
			if remaining <= 0 {
				return fmt.Errorf("%s: %w", p.path, ErrWriteTimeout)
			}
		}
		ready, werr := p.wait(unix.POLLOUT, remaining)
		if werr != nil {
			return werr
		}
		if !ready {
			return fmt.Errorf("%s: %w", p.path, ErrWriteTimeout)
		}
	}
	return nil
}

// Close closes the serial port. Pending reads and writes are woken first.
func (p *port) Close() error {
	p.wakeOnce.Do(func() {
		unix.Write(p.wakeW, []byte{1})
	})

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPortClosed
	}

	err := unix.Close(p.fd)
	unix.Close(p.wakeR)
	unix.Close(p.wakeW)
	p.closed = true
	return err
}
