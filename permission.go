package serial

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// Permissions is the platform's access control for raw devices. The device
// passed in lists only the ports access is needed for.
//
// Request starts an asynchronous decision and reports it through result on an
// arbitrary goroutine. It must not call result synchronously.
type Permissions interface {
	Has(dev Device) bool
	Request(dev Device, result func(granted bool)) error
}

// checkAccess is replaced in tests; root passes every access(2) check.
var checkAccess = func(path string) error {
	return unix.Access(path, unix.R_OK|unix.W_OK)
}

// AccessPermissions grants a device once the process can read and write all
// of the port nodes it lists. A Session passes the device narrowed to its
// bound port. A request waits for an outside change (udev rule, group
// membership, chmod) by polling until Timeout.
type AccessPermissions struct {
	Interval time.Duration
	Timeout  time.Duration
	Logger   zerolog.Logger

	mu      sync.Mutex
	pending map[string]bool
}

var _ Permissions = (*AccessPermissions)(nil)

// NewAccessPermissions returns an AccessPermissions polling every 500ms for up to 30s.
func NewAccessPermissions(logger zerolog.Logger) *AccessPermissions {
	return &AccessPermissions{
		Interval: 500 * time.Millisecond,
		Timeout:  30 * time.Second,
		Logger:   logger,
	}
}

func (a *AccessPermissions) Has(dev Device) bool {
	if len(dev.Ports) == 0 {
		return false
	}
	for _, p := range dev.Ports {
		if err := checkAccess(p); err != nil {
			return false
		}
	}
	return true
}

func (a *AccessPermissions) Request(dev Device, result func(granted bool)) error {
	a.mu.Lock()
	if a.pending == nil {
		a.pending = make(map[string]bool)
	}
	if a.pending[dev.ID] {
		a.mu.Unlock()
		return ErrPermissionPending
	}
	a.pending[dev.ID] = true
	a.mu.Unlock()

	a.Logger.Info().
		Str("device", dev.ID).
		Strs("ports", dev.Ports).
		Msg("waiting for read/write access (check udev rules or the dialout group)")

	go func() {
		granted := a.wait(dev)
		a.mu.Lock()
		delete(a.pending, dev.ID)
		a.mu.Unlock()
		result(granted)
	}()
	return nil
}

func (a *AccessPermissions) wait(dev Device) bool {
	interval := a.Interval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	deadline := time.Now().Add(a.Timeout)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if a.Has(dev) {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		<-ticker.C
	}
}
