package serial

// State is the connection state of a Session
type State int

const (
	StateDisconnected State = iota
	StatePending            // device opened, negotiation in progress
	StateConnected
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "Pending"
	case StateConnected:
		return "Connected"
	default:
		return "Disconnected"
	}
}

// PermissionOutcome is the caller's knowledge of the platform permission
// decision when invoking Connect.
type PermissionOutcome int

const (
	PermissionUnknown PermissionOutcome = iota // not asked yet, or still pending
	PermissionGranted
	PermissionDenied
)

func (p PermissionOutcome) String() string {
	switch p {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// EventType classifies session events.
type EventType int

const (
	EventConnected    EventType = iota // negotiation succeeded
	EventConnectError                  // negotiation failed, Err carries the fault
	EventRead                          // Data carries received bytes
	EventIOError                       // send or receive fault, session torn down
	EventPermission                    // asynchronous permission decision arrived
)

func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "connected"
	case EventConnectError:
		return "connect-error"
	case EventRead:
		return "read"
	case EventIOError:
		return "io-error"
	case EventPermission:
		return "permission"
	default:
		return "unknown"
	}
}

// Event is emitted on the session's event channel. Only the fields relevant
// to Type are set.
type Event struct {
	Type       EventType
	Device     Device
	Data       []byte
	Err        error
	Permission PermissionOutcome
}
