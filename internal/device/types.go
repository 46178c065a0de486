// Package device implements the device session and device manager actors:
// one mailbox goroutine per attached sonar, and one mailbox goroutine
// owning the registry of all of them.
package device

import (
	"github.com/google/uuid"

	"pingfleet/server/internal/pingproto"
	"pingfleet/server/internal/transport"
)

// ID is the opaque 128-bit handle callers use to address a device.
type ID = uuid.UUID

// NewID allocates a fresh device identifier.
func NewID() ID { return uuid.New() }

// Kind distinguishes the two specialized sonar families from a device that
// has answered GetDeviceInformation but isn't (yet) recognized as either.
type Kind int

const (
	KindCommon Kind = iota
	KindPing1D
	KindPing360
)

func (k Kind) String() string {
	switch k {
	case KindPing1D:
		return "ping1d"
	case KindPing360:
		return "ping360"
	default:
		return "common"
	}
}

// KindFromDeviceType maps the wire DeviceType byte from a DeviceInformation
// reply onto a Kind.
func KindFromDeviceType(t byte) Kind {
	switch t {
	case 1:
		return KindPing1D
	case 2:
		return KindPing360
	default:
		return KindCommon
	}
}

// State is the device session's lifecycle. A session does not reconnect:
// once Closed it stays closed.
type State int

const (
	StateProbing State = iota
	StateIdentified
	StateStreaming
	StateIdle
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateProbing:
		return "probing"
	case StateIdentified:
		return "identified"
	case StateStreaming:
		return "streaming"
	case StateIdle:
		return "idle"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Info is a point-in-time snapshot of one device's identity and state,
// returned by Session.GetInfo and Manager.Info/List.
type Info struct {
	ID          ID
	Kind        Kind
	State       State
	Transport   string
	DeviceType  byte
	FirmwareTag string
	// Label is operator-assigned metadata set via Manager.ModifyDevice; the
	// session actor itself never reads or writes it.
	Label string
}

// Handler is what Manager hands back to a caller that wants to talk to one
// device session directly, without going back through the manager mailbox
// for every op.
type Handler struct {
	ID      ID
	Session *Session
}

// Frame is one raw protocol frame tagged with the device it came from, as
// published on a session's frame channel (see Session.GetSubscriber).
type Frame struct {
	DeviceID ID
	Frame    pingproto.Frame
}

// TransportFactory opens (or reopens) the byte link for one device. Nothing
// in this package calls one: NewSession takes an already-open transport.
type TransportFactory func() (transport.Transport, error)
