package device

import (
	"context"
	"testing"
	"time"

	"pingfleet/server/internal/transport"
)

// Manager.Create opens real transports via transport.Open, which this test
// suite can't exercise without a live serial port or socket. These tests
// instead cover the registry bookkeeping directly reachable without a real
// link: not-found errors, rejection of an unknown transport kind, an empty
// listing, and callers unblocking once the manager's context is canceled —
// the parts of Manager that don't depend on what's on the other end of the
// wire.

func newTestManager(t *testing.T) (*Manager, context.Context) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewManager(ctx, discardLogger()), ctx
}

func TestManagerInfoNotFound(t *testing.T) {
	m, ctx := newTestManager(t)
	_, err := m.Info(ctx, NewID())
	if err == nil {
		t.Fatalf("expected not-found error for unregistered device")
	}
}

func TestManagerDeleteUnknownDevice(t *testing.T) {
	m, ctx := newTestManager(t)
	if err := m.Delete(ctx, NewID()); err == nil {
		t.Fatalf("expected error deleting an unregistered device")
	}
}

func TestManagerCreateRejectsBadSpec(t *testing.T) {
	m, ctx := newTestManager(t)
	_, err := m.Create(ctx, transport.Spec{Kind: transport.SpecKind(99)})
	if err == nil {
		t.Fatalf("expected error for an unknown transport kind")
	}
}

func TestManagerListEmpty(t *testing.T) {
	m, ctx := newTestManager(t)
	infos, err := m.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 0 {
		t.Fatalf("got %d devices, want 0", len(infos))
	}
}

func TestManagerContextCancellationUnblocksCallers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := NewManager(ctx, discardLogger())
	cancel() // stop the mailbox goroutine before any call reaches it

	callCtx, callCancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer callCancel()

	_, err := m.List(callCtx)
	if err == nil {
		t.Fatalf("expected List to fail once the manager's context is canceled")
	}
}
