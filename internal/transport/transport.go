// Package transport is the byte-level link between the acquisition core and
// a physical sonar device: serial, UDP, or TCP. Every concrete transport
// exposes the same Transport interface so the device session actor never
// branches on link kind after connection time.
package transport

import (
	"context"
	"time"

	"pingfleet/server/internal/errs"
	"pingfleet/server/internal/pingproto"
)

// Transport is a single open link to one device. It is not safe for
// concurrent use from more than one reader and one writer goroutine — the
// session actor owns it exclusively.
type Transport interface {
	// Write sends a single encoded frame.
	Write(frame []byte) error
	// ReadFrame blocks until one complete frame has been received, the
	// context is canceled, or the link fails. Frames with a bad checksum are
	// skipped silently rather than returned as an error.
	ReadFrame(ctx context.Context) (pingproto.Frame, error)
	// Close releases the underlying link. Safe to call more than once.
	Close() error
	// Description identifies the link for logging (e.g. "serial:/dev/ttyUSB0@115200").
	Description() string
	// CrcErrors is the running count of frames dropped for a checksum
	// mismatch, the observable counterpart to the "dropped silently"
	// boundary behavior of a bad-checksum frame.
	CrcErrors() uint64
}

// Spec names one device link to open, before the link actually exists.
// Exactly one variant field is meaningful per Kind.
type Spec struct {
	Kind SpecKind

	SerialPath string
	SerialBaud int

	UDPAddr string
	UDPPort int

	TCPAddr string
	TCPPort int
}

type SpecKind int

const (
	KindSerial SpecKind = iota
	KindUDP
	KindTCP
)

// DiscoveryBauds are the rates probed, in order, when a serial spec doesn't
// pin one down. BlueRobotics devices ship at 115200; 9600 and 921600 cover
// field units reconfigured for long cable runs or high-rate streaming.
var DiscoveryBauds = []int{115200, 9600, 921600}

// Open establishes the link named by spec.
func Open(ctx context.Context, spec Spec) (Transport, error) {
	switch spec.Kind {
	case KindSerial:
		return OpenSerial(spec.SerialPath, spec.SerialBaud)
	case KindUDP:
		return OpenUDP(ctx, spec.UDPAddr, spec.UDPPort)
	case KindTCP:
		return OpenTCP(ctx, spec.TCPAddr, spec.TCPPort)
	default:
		return nil, errs.Newf(errs.ProtocolMismatch, "unknown transport kind %d", spec.Kind)
	}
}

// readDeadline bounds a single blocking read so ReadFrame can observe ctx
// cancellation without a dedicated reader goroutine per transport.
const readDeadline = 200 * time.Millisecond
