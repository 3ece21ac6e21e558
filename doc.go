// Package serial manages the lifecycle of a connection to a USB-serial
// device and relays detection event codes over it.
//
// A Session discovers a compatible device, obtains access permission, opens
// and configures one of its ports and tears the connection down when the
// link faults. Lifecycle changes are delivered as events on a channel.
//
// # Basic Usage
//
//	cfg, err := serial.NewConfig(serial.WithBaudRate(9600))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	s := serial.NewSession(cfg)
//	defer s.Close()
//
//	s.Connect(serial.PermissionUnknown)
//	for ev := range s.Events() {
//	    switch ev.Type {
//	    case serial.EventPermission:
//	        s.Connect(ev.Permission)
//	    case serial.EventConnected:
//	        s.Trigger(1) // writes '1'
//	    case serial.EventIOError, serial.EventConnectError:
//	        log.Println("link down:", ev.Err)
//	    }
//	}
//
// # States
//
// A session is Disconnected, Pending (port open, negotiation running) or
// Connected. Connect is a no-op unless the session is Disconnected, and
// Disconnect is idempotent. A Disconnect always wins over a connect attempt
// still in flight.
//
// A missing device, an unrecognised driver or a port index beyond the
// device's port count are not errors: Connect simply leaves the session
// Disconnected. Permission and open failures are reported through the
// Notifier. A write timeout is reported the same way and keeps the session
// Connected; every other I/O fault disconnects and emits EventIOError.
//
// # Devices and Drivers
//
// Devices come from a Discoverer (SysfsDiscoverer on Linux,
// EnumeratorDiscoverer elsewhere) and are accepted by a Prober. The default
// prober knows FTDI, CP210x, CH34x, PL2303 and CDC-ACM; other adapters are
// added with a CustomProber:
//
//	custom, _ := serial.NewCustomProber("1209:0001=relay-board")
//	s := serial.NewSession(cfg, serial.WithProbers(custom))
//
// # Transports
//
// NativeOpener drives termios directly through golang.org/x/sys/unix.
// BugstOpener uses go.bug.st/serial.
//
// # USB Device Management (Linux)
//
// ResetDevice resets a hung USB adapter with the usbreset utility from
// usbutils. It usually needs root.
package serial
