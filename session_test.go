package serial

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ftdiDevice = Device{
	ID:        "1-1",
	VendorID:  "0403",
	ProductID: "6001",
	Ports:     []string{"/dev/ttyUSB0"},
}

type fakeDiscoverer struct {
	devices []Device
	err     error
}

func (d *fakeDiscoverer) Devices() ([]Device, error) {
	return d.devices, d.err
}

type fakePermissions struct {
	mu        sync.Mutex
	has       bool
	requests  int
	callbacks []func(bool)
	err       error
}

func (p *fakePermissions) Has(Device) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.has
}

func (p *fakePermissions) Request(_ Device, result func(bool)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests++
	if p.err != nil {
		return p.err
	}
	p.callbacks = append(p.callbacks, result)
	return nil
}

func (p *fakePermissions) decide(granted bool) {
	p.mu.Lock()
	cbs := p.callbacks
	p.callbacks = nil
	p.has = granted
	p.mu.Unlock()
	for _, cb := range cbs {
		go cb(granted)
	}
}

func (p *fakePermissions) requestCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests
}

type fakeOpener struct {
	mu     sync.Mutex
	conn   *fakeConn
	err    error
	opens  int
	opened []Device
}

func (o *fakeOpener) Open(dev Device, portIndex int) (Conn, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opens++
	o.opened = append(o.opened, dev)
	if o.err != nil {
		return nil, o.err
	}
	return o.conn, nil
}

func (o *fakeOpener) openCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens
}

type fakeConn struct {
	configureErr  error
	configureHook func()

	mu       sync.Mutex
	writes   [][]byte
	writeErr error

	reads     chan []byte
	readErrs  chan error
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		reads:    make(chan []byte, 4),
		readErrs: make(chan error, 1),
		closed:   make(chan struct{}),
	}
}

func (c *fakeConn) Configure(Config) error {
	if c.configureHook != nil {
		c.configureHook()
	}
	return c.configureErr
}

func (c *fakeConn) Write(data []byte) error {
	select {
	case <-c.closed:
		return ErrPortClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), data...))
	return c.writeErr
}

func (c *fakeConn) Read(buf []byte) (int, error) {
	select {
	case b := <-c.reads:
		return copy(buf, b), nil
	case err := <-c.readErrs:
		return 0, err
	case <-c.closed:
		return 0, ErrPortClosed
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.writes...)
}

type notices struct {
	mu   sync.Mutex
	msgs []string
}

func (n *notices) Notify(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
}

func (n *notices) list() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.msgs...)
}

type harness struct {
	s       *Session
	disc    *fakeDiscoverer
	perms   *fakePermissions
	opener  *fakeOpener
	conn    *fakeConn
	notices *notices
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	return newHarnessWith(t, nil, opts...)
}

func newHarnessWith(t *testing.T, sessionOpts []SessionOption, opts ...Option) *harness {
	t.Helper()
	cfg, err := NewConfig(opts...)
	require.NoError(t, err)

	h := &harness{
		disc:    &fakeDiscoverer{devices: []Device{ftdiDevice}},
		perms:   &fakePermissions{has: true},
		conn:    newFakeConn(),
		notices: &notices{},
	}
	h.opener = &fakeOpener{conn: h.conn}
	h.s = NewSession(cfg, append([]SessionOption{
		WithDiscoverer(h.disc),
		WithPermissions(h.perms),
		WithOpener(h.opener),
		WithNotifier(h.notices),
		WithLogger(zerolog.Nop()),
	}, sessionOpts...)...)
	t.Cleanup(func() { h.s.Close() })
	return h
}

func (h *harness) connect(t *testing.T) {
	t.Helper()
	h.s.Connect(PermissionUnknown)
	require.Equal(t, StateConnected, h.s.State())
	expectEvent(t, h.s, EventConnected)
}

func expectEvent(t *testing.T, s *Session, typ EventType) Event {
	t.Helper()
	select {
	case ev := <-s.Events():
		require.Equal(t, typ, ev.Type, "unexpected event %v", ev)
		return ev
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for %v event", typ)
		return Event{}
	}
}

func expectNoEvent(t *testing.T, s *Session) {
	t.Helper()
	select {
	case ev := <-s.Events():
		t.Fatalf("unexpected %v event: %+v", ev.Type, ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConnectWithoutCompatibleDevice(t *testing.T) {
	h := newHarness(t)
	h.disc.devices = []Device{{ID: "2-1", VendorID: "dead", ProductID: "beef", Ports: []string{"/dev/ttyUSB0"}}}

	for i := 0; i < 3; i++ {
		h.s.Connect(PermissionUnknown)
		assert.Equal(t, StateDisconnected, h.s.State())
	}
	h.disc.devices = nil
	h.s.Connect(PermissionGranted)

	assert.Equal(t, StateDisconnected, h.s.State())
	assert.Zero(t, h.opener.openCount())
	assert.Empty(t, h.notices.list())
	expectNoEvent(t, h.s)
}

func TestConnectDiscoveryError(t *testing.T) {
	h := newHarness(t)
	h.disc.err = errors.New("sysfs unavailable")

	h.s.Connect(PermissionUnknown)
	assert.Equal(t, StateDisconnected, h.s.State())
	assert.Empty(t, h.notices.list())
	expectNoEvent(t, h.s)
}

func TestConnectPortIndexOutOfRange(t *testing.T) {
	h := newHarness(t, WithPortIndex(1))

	h.s.Connect(PermissionUnknown)
	assert.Equal(t, StateDisconnected, h.s.State())
	assert.Zero(t, h.opener.openCount())
	assert.Empty(t, h.notices.list())
	expectNoEvent(t, h.s)
}

func TestConnectNegativePortIndex(t *testing.T) {
	h := newHarness(t)
	h.s.cfg.PortIndex = -1

	require.NotPanics(t, func() { h.s.Connect(PermissionUnknown) })
	assert.Equal(t, StateDisconnected, h.s.State())
	assert.Zero(t, h.opener.openCount())
	assert.Empty(t, h.notices.list())
	expectNoEvent(t, h.s)
}

func TestConnectSelectsFirstMatchingDevice(t *testing.T) {
	other := Device{ID: "1-2", VendorID: "10c4", ProductID: "ea60", Ports: []string{"/dev/ttyUSB1"}}
	h := newHarness(t, WithDevice("1-2"))
	h.disc.devices = []Device{
		{ID: "3-1", VendorID: "dead", ProductID: "beef", Ports: []string{"/dev/ttyUSB2"}},
		ftdiDevice,
		other,
	}

	h.connect(t)
	require.Len(t, h.opener.opened, 1)
	assert.Equal(t, "1-2", h.opener.opened[0].ID)

	dev, ok := h.s.Device()
	require.True(t, ok)
	assert.Equal(t, other.ID, dev.ID)
}

func TestConnectCustomProber(t *testing.T) {
	custom, err := NewCustomProber("dead:beef=board")
	require.NoError(t, err)

	h := newHarness(t)
	h.disc.devices = []Device{{ID: "3-1", VendorID: "dead", ProductID: "beef", Ports: []string{"/dev/ttyUSB2"}}}
	h.s.prober = append(ProberChain{DefaultProber{}}, custom)

	h.connect(t)
}

func TestConnectRequestsPermissionOnce(t *testing.T) {
	h := newHarness(t)
	h.perms.has = false
	h.opener.err = fmt.Errorf("%w: /dev/ttyUSB0", ErrPermissionDenied)

	h.s.Connect(PermissionUnknown)
	h.s.Connect(PermissionUnknown)
	h.s.Connect(PermissionUnknown)

	assert.Equal(t, StateDisconnected, h.s.State())
	assert.Equal(t, 1, h.perms.requestCount())
	assert.Empty(t, h.notices.list())

	h.perms.decide(true)
	ev := expectEvent(t, h.s, EventPermission)
	assert.Equal(t, PermissionGranted, ev.Permission)
	assert.Equal(t, ftdiDevice.ID, ev.Device.ID)

	h.opener.mu.Lock()
	h.opener.err = nil
	h.opener.mu.Unlock()

	h.s.Connect(ev.Permission)
	assert.Equal(t, StateConnected, h.s.State())
	expectEvent(t, h.s, EventConnected)
}

func TestConnectRequestsAgainAfterDecision(t *testing.T) {
	h := newHarness(t)
	h.perms.has = false
	h.opener.err = ErrPermissionDenied

	h.s.Connect(PermissionUnknown)
	h.perms.decide(false)
	ev := expectEvent(t, h.s, EventPermission)
	assert.Equal(t, PermissionDenied, ev.Permission)

	h.s.Connect(PermissionUnknown)
	assert.Equal(t, 2, h.perms.requestCount())
}

func TestConnectPermissionDenied(t *testing.T) {
	h := newHarness(t)
	h.perms.has = false
	h.opener.err = fmt.Errorf("%w: /dev/ttyUSB0", ErrPermissionDenied)

	h.s.Connect(PermissionDenied)

	assert.Equal(t, StateDisconnected, h.s.State())
	assert.Equal(t, []string{"connection failed: permission denied"}, h.notices.list())
	assert.Zero(t, h.perms.requestCount())
	expectNoEvent(t, h.s)
}

func TestConnectPermissionRequestFails(t *testing.T) {
	h := newHarness(t)
	h.perms.has = false
	h.perms.err = errors.New("no permission service")
	h.opener.err = ErrPermissionDenied

	h.s.Connect(PermissionUnknown)
	assert.Equal(t, []string{"connection failed: permission denied"}, h.notices.list())
}

func TestConnectChecksAccessOfBoundPortOnly(t *testing.T) {
	withAccess(t, func(path string) error {
		if path == "/dev/ttyUSB0" {
			return errors.New("EACCES")
		}
		return nil
	})
	h := newHarness(t, WithPortIndex(1))
	h.disc.devices = []Device{{
		ID:        "1-1",
		VendorID:  "0403",
		ProductID: "6010",
		Ports:     []string{"/dev/ttyUSB0", "/dev/ttyUSB1"},
	}}
	h.s.perms = NewAccessPermissions(zerolog.Nop())
	h.opener.err = fmt.Errorf("%w: device busy", ErrOpenFailed)

	h.s.Connect(PermissionUnknown)

	assert.Equal(t, StateDisconnected, h.s.State())
	assert.Equal(t, []string{"connection failed: open failed"}, h.notices.list())
	expectNoEvent(t, h.s)
}

func TestConnectOpenFailed(t *testing.T) {
	h := newHarness(t)
	h.opener.err = fmt.Errorf("%w: device busy", ErrOpenFailed)

	h.s.Connect(PermissionUnknown)

	assert.Equal(t, StateDisconnected, h.s.State())
	assert.Equal(t, []string{"connection failed: open failed"}, h.notices.list())
	expectNoEvent(t, h.s)
}

func TestConnectSuccess(t *testing.T) {
	h := newHarness(t)

	h.connect(t)
	assert.Equal(t, []string{"connected"}, h.notices.list())

	// Connecting again while connected does nothing.
	h.s.Connect(PermissionUnknown)
	assert.Equal(t, 1, h.opener.openCount())
	assert.Equal(t, StateConnected, h.s.State())
	expectNoEvent(t, h.s)
}

func TestConnectNegotiationFault(t *testing.T) {
	h := newHarness(t)
	fault := errors.New("tcsetattr: invalid argument")
	h.conn.configureErr = fault

	h.s.Connect(PermissionUnknown)

	assert.Equal(t, StateDisconnected, h.s.State())
	ev := expectEvent(t, h.s, EventConnectError)
	assert.ErrorIs(t, ev.Err, fault)
	assert.True(t, h.conn.isClosed())
	expectNoEvent(t, h.s)
}

func TestConnectPendingDuringNegotiation(t *testing.T) {
	h := newHarness(t)
	var seen State
	h.conn.configureHook = func() { seen = h.s.State() }

	h.connect(t)
	assert.Equal(t, StatePending, seen)
}

func TestDisconnectDuringNegotiationWins(t *testing.T) {
	h := newHarness(t)
	h.conn.configureHook = func() { h.s.Disconnect() }

	h.s.Connect(PermissionUnknown)

	assert.Equal(t, StateDisconnected, h.s.State())
	assert.True(t, h.conn.isClosed())
	assert.Empty(t, h.notices.list())
	expectNoEvent(t, h.s)
}

func TestDisconnectDropsPendingPermission(t *testing.T) {
	h := newHarness(t)
	h.perms.has = false
	h.opener.err = ErrPermissionDenied

	h.s.Connect(PermissionUnknown)
	require.Equal(t, 1, h.perms.requestCount())
	h.s.Disconnect()

	h.perms.decide(true)
	require.Eventually(t, func() bool {
		h.s.mu.Lock()
		defer h.s.mu.Unlock()
		return len(h.s.requested) == 0
	}, time.Second, time.Millisecond)
	expectNoEvent(t, h.s)
	assert.Equal(t, StateDisconnected, h.s.State())

	// the abandoned request no longer suppresses a new one
	h.perms.mu.Lock()
	h.perms.has = false
	h.perms.mu.Unlock()
	h.s.Connect(PermissionUnknown)
	assert.Equal(t, 2, h.perms.requestCount())
}

func TestSendWriteTimeoutKeepsConnection(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.conn.writeErr = fmt.Errorf("/dev/ttyUSB0: %w", ErrWriteTimeout)

	err := h.s.Send([]byte("1"))

	assert.ErrorIs(t, err, ErrWriteTimeout)
	assert.Equal(t, StateConnected, h.s.State())
	msgs := h.notices.list()
	require.Len(t, msgs, 2)
	assert.True(t, strings.HasPrefix(msgs[1], "write timeout: "), msgs[1])
	expectNoEvent(t, h.s)
}

func TestSendIOFaultTearsDown(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.conn.writeErr = io.ErrUnexpectedEOF

	err := h.s.Send([]byte("1"))

	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, StateDisconnected, h.s.State())
	ev := expectEvent(t, h.s, EventIOError)
	assert.ErrorIs(t, ev.Err, io.ErrUnexpectedEOF)
	assert.True(t, h.conn.isClosed())
	expectNoEvent(t, h.s)
}

func TestSendNotConnected(t *testing.T) {
	h := newHarness(t)

	err := h.s.Send([]byte("1"))

	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, []string{"not connected"}, h.notices.list())
	assert.Equal(t, StateDisconnected, h.s.State())
	assert.Zero(t, h.opener.openCount())
	assert.Empty(t, h.conn.written())
	expectNoEvent(t, h.s)
}

func TestReadDeliversData(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	h.conn.reads <- []byte("ok")
	ev := expectEvent(t, h.s, EventRead)
	assert.Equal(t, []byte("ok"), ev.Data)
	assert.Equal(t, ftdiDevice.ID, ev.Device.ID)
}

func TestReadFaultTearsDown(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	h.conn.readErrs <- io.EOF
	ev := expectEvent(t, h.s, EventIOError)
	assert.ErrorIs(t, ev.Err, io.EOF)
	assert.Equal(t, StateDisconnected, h.s.State())
	assert.True(t, h.conn.isClosed())
	expectNoEvent(t, h.s)
}

func TestConcurrentFaultsEmitOneIOError(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.conn.writeErr = io.ErrClosedPipe

	h.conn.readErrs <- io.EOF
	h.s.Send([]byte("1"))

	expectEvent(t, h.s, EventIOError)
	expectNoEvent(t, h.s)
	assert.Equal(t, StateDisconnected, h.s.State())
}

func TestNoReadEventAfterIOError(t *testing.T) {
	h := newHarnessWith(t, []SessionOption{WithEventBuffer(1)})
	h.s.Connect(PermissionUnknown)
	require.Equal(t, StateConnected, h.s.State())

	// the connected event fills the buffer, so the read stalls in delivery
	h.conn.reads <- []byte("x")
	require.Eventually(t, func() bool { return len(h.conn.reads) == 0 }, time.Second, time.Millisecond)

	h.conn.writeErr = io.ErrClosedPipe
	sent := make(chan error, 1)
	go func() { sent <- h.s.Send([]byte("1")) }()

	expectEvent(t, h.s, EventConnected)
	ev := <-h.s.Events()
	if ev.Type == EventRead {
		assert.Equal(t, []byte("x"), ev.Data)
		ev = <-h.s.Events()
	}
	assert.Equal(t, EventIOError, ev.Type)
	expectNoEvent(t, h.s)
	assert.ErrorIs(t, <-sent, io.ErrClosedPipe)
}

func TestDisconnectIdempotent(t *testing.T) {
	h := newHarness(t)

	h.s.Disconnect()
	assert.Equal(t, StateDisconnected, h.s.State())

	h.connect(t)
	h.s.Disconnect()
	h.s.Disconnect()

	assert.Equal(t, StateDisconnected, h.s.State())
	assert.True(t, h.conn.isClosed())
	_, ok := h.s.Device()
	assert.False(t, ok)
	expectNoEvent(t, h.s)
}

func TestReconnectAfterDisconnect(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.s.Disconnect()

	h.conn = newFakeConn()
	h.opener.mu.Lock()
	h.opener.conn = h.conn
	h.opener.mu.Unlock()

	h.connect(t)
	require.NoError(t, h.s.Send([]byte("x")))
	assert.Equal(t, [][]byte{[]byte("x")}, h.conn.written())
}

func TestTriggerWritesEventCode(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	require.NoError(t, h.s.Trigger(3))
	require.NoError(t, h.s.Trigger(0))
	assert.Equal(t, [][]byte{{'3'}, {'0'}}, h.conn.written())

	assert.ErrorIs(t, h.s.Trigger(500), ErrInvalidEventCode)
}

func TestTriggerDroppedWhenDisconnected(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.s.Trigger(3))
	assert.Empty(t, h.conn.written())
	assert.Empty(t, h.notices.list())

	h.connect(t)
	h.s.Disconnect()
	require.NoError(t, h.s.Trigger(4))
	assert.Empty(t, h.conn.written())
}

func TestCloseStopsReader(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	require.NoError(t, h.s.Close())
	assert.True(t, h.conn.isClosed())
	assert.Equal(t, StateDisconnected, h.s.State())
}

func TestDefaultNotifierLogs(t *testing.T) {
	var buf strings.Builder
	s := NewSession(DefaultConfig(),
		WithDiscoverer(&fakeDiscoverer{}),
		WithLogger(zerolog.New(&buf)),
	)
	defer s.Close()

	require.ErrorIs(t, s.Send([]byte("1")), ErrNotConnected)
	assert.Contains(t, buf.String(), `"message":"not connected"`)
	assert.Contains(t, buf.String(), `"level":"warn"`)
}
