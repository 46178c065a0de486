package transport

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"pingfleet/server/internal/errs"
	"pingfleet/server/internal/pingproto"
)

// streamReader accumulates bytes from an io.Reader that doesn't preserve
// message boundaries (serial, TCP) and hands back complete frames one at a
// time, resynchronizing past noise and bad checksums the way a real link
// would after a dropped byte or power glitch.
type streamReader struct {
	r   io.Reader
	buf []byte

	mu      sync.Mutex
	readErr error

	// crcErrors counts frames dropped for a bad checksum — the only
	// observable trace of the "invalid checksum dropped silently" boundary
	// behavior, mirroring Session.dropped/DroppedFrames for the separate
	// slow-subscriber case.
	crcErrors atomic.Uint64
}

func newStreamReader(r io.Reader) *streamReader {
	return &streamReader{r: r, buf: make([]byte, 0, 4096)}
}

// next returns the next complete frame, reading and resynchronizing as
// needed. It blocks on the underlying reader; callers bound the wait via the
// reader's own deadline (set per read-deadline capable transports) and
// re-check ctx between reads.
func (s *streamReader) next(ctx context.Context) (pingproto.Frame, error) {
	chunk := make([]byte, 4096)
	for {
		for len(s.buf) > 0 {
			f, n, ok, err := pingproto.FindFrame(s.buf)
			if ok {
				s.buf = s.buf[n:]
				return f, nil
			}
			if err == pingproto.ErrBadChecksum {
				s.buf = s.buf[n:]
				s.crcErrors.Add(1)
				continue
			}
			if err == pingproto.ErrNoSOF {
				s.buf = s.buf[1:]
				continue
			}
			// need more bytes
			break
		}

		select {
		case <-ctx.Done():
			return pingproto.Frame{}, ctx.Err()
		default:
		}

		n, err := s.r.Read(chunk)
		if n > 0 {
			s.buf = append(s.buf, chunk[:n]...)
		}
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return pingproto.Frame{}, errs.Wrap(errs.Io, err)
		}
	}
}

// CrcErrors is the running count of frames dropped for a checksum mismatch.
func (s *streamReader) CrcErrors() uint64 {
	return s.crcErrors.Load()
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	t, ok := err.(timeouter)
	return ok && t.Timeout()
}
