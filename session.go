package serial

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// User-visible notices
const (
	noticeConnected        = "connected"
	noticeNotConnected     = "not connected"
	noticePermissionDenied = "connection failed: permission denied"
	noticeOpenFailed       = "connection failed: open failed"
	noticeWriteTimeout     = "write timeout: %v"
)

const (
	defaultEventBuffer = 64
	readBufferSize     = 1024
)

// Notifier shows short messages to the user. Notices are informational;
// lifecycle changes are reported as events.
type Notifier interface {
	Notify(msg string)
}

// NotifierFunc adapts a function to the Notifier interface
type NotifierFunc func(msg string)

func (f NotifierFunc) Notify(msg string) { f(msg) }

type logNotifier struct {
	log zerolog.Logger
}

func (n logNotifier) Notify(msg string) {
	n.log.Warn().Msg(msg)
}

// Session owns the lifecycle of one connection to a serial device:
// discovery, permission, open, negotiation and teardown.
//
// Connect, Send, Trigger and Disconnect may be called from any goroutine.
// Events are delivered on the channel returned by Events, which must be
// drained; emission blocks when its buffer is full.
type Session struct {
	cfg        Config
	discoverer Discoverer
	prober     Prober
	perms      Permissions
	opener     Opener
	notifier   Notifier
	log        zerolog.Logger
	bufferSize int

	events    chan Event
	quit      chan struct{}
	closeOnce sync.Once

	connectMu sync.Mutex // one connect attempt at a time
	writeMu   sync.Mutex
	readMu    sync.Mutex // orders a connection's read events before its io-error

	mu         sync.Mutex
	state      State
	gen        uint64 // bumped by every teardown
	conn       Conn
	dev        Device
	requested  map[string]bool // devices with an outstanding permission request
	readerDone chan struct{}
}

// SessionOption configures a Session
type SessionOption func(*Session)

// WithDiscoverer sets the device enumeration source
func WithDiscoverer(d Discoverer) SessionOption {
	return func(s *Session) { s.discoverer = d }
}

// WithProbers adds probers consulted after the default prober
func WithProbers(probers ...Prober) SessionOption {
	return func(s *Session) {
		s.prober = append(ProberChain{DefaultProber{}}, probers...)
	}
}

// WithPermissions sets the platform permission collaborator
func WithPermissions(p Permissions) SessionOption {
	return func(s *Session) { s.perms = p }
}

// WithOpener sets the transport used to open ports
func WithOpener(o Opener) SessionOption {
	return func(s *Session) { s.opener = o }
}

// WithNotifier sets where user-visible notices go
func WithNotifier(n Notifier) SessionOption {
	return func(s *Session) { s.notifier = n }
}

// WithLogger sets the session logger
func WithLogger(l zerolog.Logger) SessionOption {
	return func(s *Session) { s.log = l }
}

// WithEventBuffer sets the capacity of the events channel
func WithEventBuffer(n int) SessionOption {
	return func(s *Session) {
		if n >= 0 {
			s.bufferSize = n
		}
	}
}

// NewSession creates a disconnected session. Without options it discovers
// devices through sysfs, recognises common USB-serial bridges and opens
// ports with termios.
func NewSession(cfg Config, opts ...SessionOption) *Session {
	s := &Session{
		cfg:        cfg,
		discoverer: SysfsDiscoverer{},
		prober:     ProberChain{DefaultProber{}},
		opener:     NativeOpener{},
		log:        log.Logger,
		bufferSize: defaultEventBuffer,
		quit:       make(chan struct{}),
		requested:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.log = s.log.With().Str("component", "session").Logger()
	if s.perms == nil {
		s.perms = NewAccessPermissions(s.log)
	}
	if s.notifier == nil {
		s.notifier = logNotifier{log: s.log}
	}
	s.events = make(chan Event, s.bufferSize)
	return s
}

// Events returns the lifecycle event stream. No read event follows the
// io-error of its connection. A read event that was already being delivered
// when Disconnect was called may still arrive after Disconnect returns.
func (s *Session) Events() <-chan Event {
	return s.events
}

// State returns the current connection state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Config returns the session configuration
func (s *Session) Config() Config {
	return s.cfg
}

// Device returns the device of the live connection, if any.
func (s *Session) Device() (Device, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisconnected {
		return Device{}, false
	}
	return s.dev, true
}

// Connect attempts to bind the configured port of the first compatible
// device. outcome carries the result of an earlier permission request;
// pass PermissionUnknown when no decision has been observed.
//
// A missing device, an unknown driver or an out-of-range port index leave
// the session disconnected without a notice or event. Connect does nothing
// while a connection is pending or established.
func (s *Session) Connect(outcome PermissionOutcome) {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	s.mu.Lock()
	state, gen := s.state, s.gen
	s.mu.Unlock()
	if state != StateDisconnected {
		s.log.Debug().Stringer("state", state).Msg("connect ignored")
		return
	}

	drv, ok := s.discover()
	if !ok {
		return
	}
	dev := drv.Device
	logger := s.log.With().Str("device", dev.ID).Str("driver", drv.Name).Logger()

	if s.cfg.PortIndex < 0 || s.cfg.PortIndex >= drv.PortCount() {
		logger.Warn().
			Int("port_index", s.cfg.PortIndex).
			Int("ports", drv.PortCount()).
			Msg("port index out of range")
		return
	}

	if outcome != PermissionUnknown {
		s.mu.Lock()
		delete(s.requested, dev.ID)
		s.mu.Unlock()
	}

	conn, err := s.opener.Open(dev, s.cfg.PortIndex)
	if err != nil {
		access := boundPort(dev, s.cfg.PortIndex)
		has := s.perms.Has(access)
		switch {
		case outcome == PermissionUnknown && !has:
			s.requestPermission(dev, access, gen)
		case !has || errors.Is(err, ErrPermissionDenied):
			logger.Warn().Err(err).Stringer("permission", outcome).Msg("open failed without permission")
			s.notifier.Notify(noticePermissionDenied)
		default:
			logger.Error().Err(err).Msg("open failed")
			s.notifier.Notify(noticeOpenFailed)
		}
		return
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		logger.Debug().Msg("connect superseded before negotiation")
		conn.Close()
		return
	}
	s.state = StatePending
	s.conn = conn
	s.dev = dev
	s.mu.Unlock()

	logger.Debug().Str("config", s.cfg.String()).Msg("negotiating")
	err = conn.Configure(s.cfg)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		logger.Debug().Msg("connect superseded during negotiation")
		conn.Close()
		return
	}
	if err != nil {
		s.resetLocked()
		s.mu.Unlock()
		conn.Close()
		logger.Error().Err(err).Msg("negotiation failed")
		s.emit(Event{Type: EventConnectError, Device: dev, Err: err})
		return
	}
	s.state = StateConnected
	done := make(chan struct{})
	s.readerDone = done
	s.mu.Unlock()

	logger.Info().Str("port", dev.Ports[s.cfg.PortIndex]).Msg("connected")
	s.notifier.Notify(noticeConnected)
	s.emit(Event{Type: EventConnected, Device: dev})
	go s.readLoop(gen, conn, dev, done)
}

// discover returns the first device recognised by the prober chain that
// also matches the configured device filter.
func (s *Session) discover() (*Driver, bool) {
	devices, err := s.discoverer.Devices()
	if err != nil {
		s.log.Warn().Err(err).Msg("device discovery failed")
		return nil, false
	}
	for _, dev := range devices {
		if !dev.Matches(s.cfg.Device) {
			continue
		}
		if drv, ok := s.prober.Probe(dev); ok {
			return drv, true
		}
	}
	s.log.Debug().Int("devices", len(devices)).Msg("no compatible device")
	return nil, false
}

// boundPort narrows dev to the one port a session binds, which is all the
// access a connection needs.
func boundPort(dev Device, portIndex int) Device {
	dev.Ports = dev.Ports[portIndex : portIndex+1 : portIndex+1]
	return dev
}

// requestPermission asks for access to the port in access on behalf of the
// connect attempt of generation gen. Events report the whole dev.
func (s *Session) requestPermission(dev, access Device, gen uint64) {
	s.mu.Lock()
	if s.requested[dev.ID] {
		s.mu.Unlock()
		s.log.Debug().Str("device", dev.ID).Msg("permission request already pending")
		return
	}
	s.requested[dev.ID] = true
	s.mu.Unlock()

	err := s.perms.Request(access, func(granted bool) {
		s.permissionResult(dev, gen, granted)
	})
	switch {
	case err == nil:
		s.log.Info().Str("device", dev.ID).Msg("permission requested")
	case errors.Is(err, ErrPermissionPending):
		s.log.Debug().Str("device", dev.ID).Msg("permission request already pending")
	default:
		s.mu.Lock()
		delete(s.requested, dev.ID)
		s.mu.Unlock()
		s.log.Warn().Err(err).Str("device", dev.ID).Msg("permission request failed")
		s.notifier.Notify(noticePermissionDenied)
	}
}

// permissionResult reports a permission decision. A decision for an attempt
// that a Disconnect has since abandoned is dropped, so it cannot prompt the
// owner into reconnecting.
func (s *Session) permissionResult(dev Device, gen uint64, granted bool) {
	s.mu.Lock()
	delete(s.requested, dev.ID)
	stale := s.gen != gen
	s.mu.Unlock()

	outcome := PermissionDenied
	if granted {
		outcome = PermissionGranted
	}
	if stale {
		s.log.Debug().Str("device", dev.ID).Stringer("permission", outcome).Msg("permission decided for abandoned attempt")
		return
	}
	s.log.Info().Str("device", dev.ID).Stringer("permission", outcome).Msg("permission decided")
	s.emit(Event{Type: EventPermission, Device: dev, Permission: outcome})
}

// Send writes data to the connected port. A write timeout is reported as a
// notice and leaves the session connected; any other write fault tears the
// connection down and emits an io-error event.
func (s *Session) Send(data []byte) error {
	return s.send(data, true)
}

func (s *Session) send(data []byte, noticeIfDown bool) error {
	s.mu.Lock()
	state, conn, gen := s.state, s.conn, s.gen
	s.mu.Unlock()

	if state != StateConnected {
		if noticeIfDown {
			s.notifier.Notify(noticeNotConnected)
		}
		return ErrNotConnected
	}

	s.writeMu.Lock()
	err := conn.Write(data)
	s.writeMu.Unlock()

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrWriteTimeout):
		s.log.Warn().Err(err).Int("bytes", len(data)).Msg("write timed out")
		s.notifier.Notify(fmt.Sprintf(noticeWriteTimeout, err))
		return err
	default:
		s.fault(gen, err)
		return err
	}
}

// Disconnect tears down the connection. It is idempotent and emits no
// event. An attempt in progress is abandoned.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.gen++
		s.mu.Unlock()
		return
	}
	conn, dev := s.conn, s.dev
	s.resetLocked()
	s.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil && !errors.Is(err, ErrPortClosed) {
			s.log.Debug().Err(err).Str("device", dev.ID).Msg("close failed")
		}
	}
	s.log.Info().Str("device", dev.ID).Msg("disconnected")
}

// Close disconnects and waits for the reader goroutine to finish. Pending
// event emissions are abandoned.
func (s *Session) Close() error {
	s.closeOnce.Do(func() { close(s.quit) })

	s.mu.Lock()
	done := s.readerDone
	s.mu.Unlock()

	s.Disconnect()
	if done != nil {
		<-done
	}
	return nil
}

// resetLocked returns the session to Disconnected. Callers hold s.mu.
func (s *Session) resetLocked() {
	s.state = StateDisconnected
	s.conn = nil
	s.dev = Device{}
	s.gen++
}

// fault tears down connection generation gen after an I/O fault. Faults
// of an older generation are ignored so one connection yields at most one
// io-error event.
func (s *Session) fault(gen uint64, err error) {
	s.mu.Lock()
	if s.gen != gen || s.state == StateDisconnected {
		s.mu.Unlock()
		return
	}
	conn, dev := s.conn, s.dev
	s.resetLocked()
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	s.log.Error().Err(err).Str("device", dev.ID).Msg("i/o fault, connection closed")

	s.readMu.Lock()
	defer s.readMu.Unlock()
	s.emit(Event{Type: EventIOError, Device: dev, Err: err})
}

func (s *Session) readLoop(gen uint64, conn Conn, dev Device, done chan struct{}) {
	defer close(done)

	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 && !s.deliver(gen, Event{Type: EventRead, Device: dev, Data: append([]byte(nil), buf[:n]...)}) {
			return
		}
		if err != nil {
			s.fault(gen, err)
			return
		}
	}
}

// deliver emits a read event unless connection gen has been torn down.
func (s *Session) deliver(gen uint64, ev Event) bool {
	s.readMu.Lock()
	defer s.readMu.Unlock()
	if !s.current(gen) {
		return false
	}
	s.emit(ev)
	return true
}

func (s *Session) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen && s.state == StateConnected
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.quit:
	}
}
