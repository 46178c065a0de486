package transport

import (
	"context"
	"io"
	"testing"
	"time"

	"pingfleet/server/internal/pingproto"
)

// fakeConn is a minimal io.Reader that replays a fixed byte sequence once,
// then returns (0, nil) on every further call, like a socket read with
// nothing pending, so streamReader's read loop has to come back around on
// context cancellation rather than observing a natural EOF.
type fakeConn struct {
	data []byte
	pos  int
}

func (f *fakeConn) Read(p []byte) (int, error) {
	if f.pos >= len(f.data) {
		return 0, nil
	}
	n := copy(p, f.data[f.pos:])
	f.pos += n
	return n, nil
}

func TestStreamReaderResyncsPastNoise(t *testing.T) {
	good := pingproto.Encode(pingproto.Frame{ID: pingproto.MsgAck, Payload: []byte{1}})
	noisy := append([]byte{0x00, 0x01, 0x02}, good...)

	sr := newStreamReader(&fakeConn{data: noisy})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	f, err := sr.next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if f.ID != pingproto.MsgAck {
		t.Fatalf("got ID %v, want MsgAck", f.ID)
	}
}

func TestStreamReaderSkipsBadChecksumFrame(t *testing.T) {
	bad := pingproto.Encode(pingproto.Frame{ID: pingproto.MsgAck, Payload: []byte{1}})
	bad[len(bad)-1] ^= 0xFF
	good := pingproto.Encode(pingproto.Frame{ID: pingproto.MsgNack, Payload: []byte{2}})

	sr := newStreamReader(&fakeConn{data: append(bad, good...)})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	f, err := sr.next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if f.ID != pingproto.MsgNack {
		t.Fatalf("got ID %v, want MsgNack (bad-checksum frame should be skipped)", f.ID)
	}
}

func TestStreamReaderHonorsContextCancellation(t *testing.T) {
	sr := newStreamReader(&fakeConn{data: nil})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := sr.next(ctx)
	if err != context.DeadlineExceeded {
		t.Fatalf("got err=%v, want context.DeadlineExceeded", err)
	}
}

var _ io.Reader = (*fakeConn)(nil)
