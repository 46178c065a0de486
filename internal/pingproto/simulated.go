package pingproto

import (
	"io"
	"sync"
)

// SimulatedDevice is an in-memory io.ReadWriteCloser standing in for a real
// Ping1D/Ping360 on the other end of a transport. Tests write request frames
// to it and read back whatever canned reply its Responder produced, the same way
// the acquisition core would talk to a serial port or UDP socket.
//
// It has no goroutine of its own: each Write is answered synchronously by
// the installed Responder, and the reply bytes queue up for the next Read.
// Read blocks until there is something to return or the device is closed,
// so callers looping on Read (a streamReader's read loop) don't spin.
type SimulatedDevice struct {
	mu        sync.Mutex
	cond      *sync.Cond
	responder Responder
	pending   []byte
	closed    bool
}

// Responder computes the reply frame(s) for one received request frame. A
// nil return means "no reply" (e.g. an ack-only message the simulator
// chooses to ignore).
type Responder func(req Frame) []byte

// NewSimulatedDevice creates a device that answers every request via fn.
func NewSimulatedDevice(fn Responder) *SimulatedDevice {
	s := &SimulatedDevice{responder: fn}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *SimulatedDevice) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.ErrClosedPipe
	}

	f, n, ok, err := FindFrame(p)
	if err != nil || !ok || n != len(p) {
		// Malformed or partial write: the simulator has no resync buffer of
		// its own, so it just drops it, matching a device that never
		// replies to noise.
		return len(p), nil
	}

	if s.responder != nil {
		if reply := s.responder(f); reply != nil {
			s.pending = append(s.pending, reply...)
			s.cond.Broadcast()
		}
	}
	return len(p), nil
}

func (s *SimulatedDevice) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.pending) == 0 && !s.closed {
		s.cond.Wait()
	}
	if len(s.pending) == 0 {
		return 0, io.EOF
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

// Push queues a reply frame as if the device sent it unsolicited — used to
// simulate continuous-mode streaming that isn't triggered by a Write.
func (s *SimulatedDevice) Push(f Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.pending = append(s.pending, Encode(f)...)
	s.cond.Broadcast()
}

func (s *SimulatedDevice) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cond.Broadcast()
	return nil
}

// EchoDeviceInformation builds a Responder that answers every
// GetDeviceInformation request with info, and ignores everything else. It's
// the minimal fixture for discovery/probe tests.
func EchoDeviceInformation(info DeviceInformation) Responder {
	return func(req Frame) []byte {
		if req.ID != MsgGetDeviceInformation {
			return nil
		}
		return Encode(Frame{ID: MsgDeviceInformation, Payload: info.Encode()})
	}
}
