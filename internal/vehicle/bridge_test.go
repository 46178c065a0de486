package vehicle

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 100}))
}

// fakeBus hands back pre-wired channels per key expression, so the bridge's
// fusion logic can be exercised without a real socket — the same fake-small-
// interface style the teacher uses for DatagramSender in room_test.go.
type fakeBus struct {
	channels   map[string]chan []byte
	subscribes atomic.Int32
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		channels: map[string]chan []byte{
			attitudeKey: make(chan []byte, 4),
			positionKey: make(chan []byte, 4),
		},
	}
}

func (f *fakeBus) Subscribe(ctx context.Context, key string) (<-chan []byte, func() error, error) {
	f.subscribes.Add(1)
	ch := f.channels[key]
	return ch, func() error { return nil }, nil
}

func TestBridgeFusesAttitudeAndPosition(t *testing.T) {
	bus := newFakeBus()
	snap := NewSnapshot()
	b := NewBridge(bus, snap, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)
	defer cancel()

	bus.channels[attitudeKey] <- []byte(`{"message": {roll: 0.1, pitch: 0.2, yaw: 0.3,}}`)
	bus.channels[positionKey] <- []byte(`{"message": {"lat": 474608000, "lon": 85037000, "alt": 125000}}`)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := snap.Load(); ok {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	got, ok := snap.Load()
	if !ok {
		t.Fatalf("expected a fused snapshot after both samples arrived")
	}
	want := Data{Roll: 0.1, Pitch: 0.2, Yaw: 0.3, Alt: 125.0, Lat: 47.4608, Lon: 8.5037}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestBridgeNoSnapshotBeforeBothSamples(t *testing.T) {
	bus := newFakeBus()
	snap := NewSnapshot()
	b := NewBridge(bus, snap, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)
	defer cancel()

	bus.channels[attitudeKey] <- []byte(`{"message": {"roll": 1, "pitch": 2, "yaw": 3}}`)
	time.Sleep(50 * time.Millisecond)

	if _, ok := snap.Load(); ok {
		t.Fatalf("expected no snapshot with only an attitude sample seen")
	}
}

func TestBridgeReconnectsAfterSubscriptionClose(t *testing.T) {
	bus := newFakeBus()
	snap := NewSnapshot()
	b := NewBridge(bus, snap, discardLogger())
	b.reconnectDelay = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	close(bus.channels[attitudeKey])
	time.Sleep(50 * time.Millisecond)
	// one session subscribes to both keys; more than two calls means the
	// bridge rebuilt its subscriptions at least once after the close.
	if n := bus.subscribes.Load(); n <= 2 {
		t.Fatalf("got %d Subscribe calls, want more than 2 (at least one reconnect)", n)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not return after ctx cancellation")
	}
}
