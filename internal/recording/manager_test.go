package recording

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pingfleet/server/internal/device"
	"pingfleet/server/internal/errs"
	"pingfleet/server/internal/pingproto"
	"pingfleet/server/internal/transport"
	"pingfleet/server/internal/vehicle"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 100}))
}

// fakeDevices is a hand-written fake satisfying DeviceDirectory, standing in
// for a real device.Manager the way the teacher fakes small interfaces in
// its own tests instead of reaching for a mocking library.
type fakeDevices struct {
	handlers map[device.ID]device.Handler
	infos    map[device.ID]device.Info
}

func newFakeDevices() *fakeDevices {
	return &fakeDevices{
		handlers: make(map[device.ID]device.Handler),
		infos:    make(map[device.ID]device.Info),
	}
}

func (f *fakeDevices) Info(ctx context.Context, id device.ID) (device.Info, error) {
	info, ok := f.infos[id]
	if !ok {
		return device.Info{}, errs.Newf(errs.NotFound, "device %s not registered", id)
	}
	return info, nil
}

func (f *fakeDevices) GetDeviceHandler(ctx context.Context, id device.ID) (device.Handler, error) {
	h, ok := f.handlers[id]
	if !ok {
		return device.Handler{}, errs.Newf(errs.NotFound, "device %s not registered", id)
	}
	return h, nil
}

// registerDevice wires up a live device.Session over a simulated transport
// and registers it under a fresh id, returning the id for use in tests.
func registerDevice(t *testing.T, f *fakeDevices, ctx context.Context, kind device.Kind) device.ID {
	t.Helper()
	devType := byte(0)
	if kind == device.KindPing1D {
		devType = 1
	} else if kind == device.KindPing360 {
		devType = 2
	}
	dev := pingproto.NewSimulatedDevice(pingproto.EchoDeviceInformation(
		pingproto.DeviceInformation{DeviceType: devType},
	))
	t.Cleanup(func() { dev.Close() })
	tr := transport.NewPipeTransport(dev, "test")
	id := device.NewID()
	sess := device.NewSession(ctx, id, tr, discardLogger())

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && sess.GetInfo().State == device.StateProbing {
		time.Sleep(5 * time.Millisecond)
	}

	f.handlers[id] = device.Handler{ID: id, Session: sess}
	f.infos[id] = sess.GetInfo()
	return id
}

func newTestManager(t *testing.T) (*Manager, *fakeDevices, context.Context, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	devices := newFakeDevices()
	baseDir := t.TempDir()
	m := NewManager(ctx, discardLogger(), devices, vehicle.NewSnapshot(), baseDir, nil)
	return m, devices, ctx, baseDir
}

func TestStartStopIdempotence(t *testing.T) {
	m, devices, ctx, baseDir := newTestManager(t)
	id := registerDevice(t, devices, ctx, device.KindPing1D)

	session, err := m.StartRecording(ctx, id)
	if err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if !session.Active {
		t.Fatalf("expected a freshly started session to be active")
	}
	wantPrefix := filepath.Join(baseDir, "device_"+id.String()+"_")
	if len(session.FilePath) < len(wantPrefix) || session.FilePath[:len(wantPrefix)] != wantPrefix {
		t.Fatalf("got file path %q, want prefix %q", session.FilePath, wantPrefix)
	}

	if _, err := m.StartRecording(ctx, id); errs.KindOf(err) != errs.Busy {
		t.Fatalf("expected Busy starting an already-active recording, got %v", err)
	}

	stopped, err := m.StopRecording(ctx, id)
	if err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	if stopped.Active {
		t.Fatalf("expected stopped session to be inactive")
	}

	if _, err := m.StopRecording(ctx, id); errs.KindOf(err) != errs.NotFound {
		t.Fatalf("expected NotFound stopping an already-stopped recording, got %v", err)
	}

	info, err := os.Stat(session.FilePath)
	if err != nil {
		t.Fatalf("Stat recording file: %v", err)
	}
	if info.Size() < 5 {
		t.Fatalf("got file size %d, want at least the container header size", info.Size())
	}
}

func TestStopUnknownDeviceIsNotFound(t *testing.T) {
	m, _, ctx, _ := newTestManager(t)
	if _, err := m.StopRecording(ctx, device.NewID()); errs.KindOf(err) != errs.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestGetRecordingStatusUnknownDevice(t *testing.T) {
	m, _, ctx, _ := newTestManager(t)
	_, found, err := m.GetRecordingStatus(ctx, device.NewID())
	if err != nil {
		t.Fatalf("GetRecordingStatus: %v", err)
	}
	if found {
		t.Fatalf("expected found=false for an unregistered device")
	}
}

func TestGetAllRecordingStatusReflectsStart(t *testing.T) {
	m, devices, ctx, _ := newTestManager(t)
	id := registerDevice(t, devices, ctx, device.KindPing360)

	if _, err := m.StartRecording(ctx, id); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}

	sessions, err := m.GetAllRecordingStatus(ctx)
	if err != nil {
		t.Fatalf("GetAllRecordingStatus: %v", err)
	}
	if len(sessions) != 1 || sessions[0].DeviceID != id {
		t.Fatalf("got %+v, want one session for %s", sessions, id)
	}
}

func TestStatusBroadcastEmitsOnStartAndStop(t *testing.T) {
	m, devices, ctx, _ := newTestManager(t)
	id := registerDevice(t, devices, ctx, device.KindPing1D)
	sub := m.Subscribe()

	if _, err := m.StartRecording(ctx, id); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	select {
	case s := <-sub:
		if !s.Active {
			t.Fatalf("expected the start event to carry Active=true")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for start status event")
	}

	if _, err := m.StopRecording(ctx, id); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	select {
	case s := <-sub:
		if s.Active {
			t.Fatalf("expected the stop event to carry Active=false")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for stop status event")
	}
}

func TestRecordingWithNoVehicleSnapshotOnlyLogsSonar(t *testing.T) {
	m, devices, ctx, _ := newTestManager(t)
	id := registerDevice(t, devices, ctx, device.KindPing1D)

	session, err := m.StartRecording(ctx, id)
	if err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if _, err := m.StopRecording(ctx, id); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}

	data, err := os.ReadFile(session.FilePath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	// Only the three channel-declaration records are present: no sonar
	// frames were pushed and no vehicle snapshot was ever populated.
	// header(5) + three channel records (15 + len(name) each).
	prefix := "/device_" + id.String()
	want := 5 + 3*15 + len(prefix+"/Ping1D") + len(prefix+"/Ping360") + len(prefix+"/VehicleData")
	if len(data) != want {
		t.Fatalf("got container size %d, want %d (header plus three channel records only)", len(data), want)
	}
}
