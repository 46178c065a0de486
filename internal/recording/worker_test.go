package recording

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"pingfleet/server/internal/device"
	"pingfleet/server/internal/logcontainer"
	"pingfleet/server/internal/pingproto"
	"pingfleet/server/internal/vehicle"
)

// fakeWriter records every Append call in memory, standing in for a real
// logcontainer.Writer so worker logic can be tested without touching disk.
type fakeWriter struct {
	appends []appendCall
}

type appendCall struct {
	channel logcontainer.ChannelID
	payload []byte
}

func (f *fakeWriter) Append(id logcontainer.ChannelID, t time.Time, payload []byte) error {
	f.appends = append(f.appends, appendCall{channel: id, payload: append([]byte(nil), payload...)})
	return nil
}

func newTestWorker(writer *fakeWriter, snapshot *vehicle.Snapshot) *worker {
	return &worker{
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		deviceID: device.NewID(),
		writer:   writer,
		snapshot: snapshot,
		guard:    &sessionGuard{stopCh: make(chan struct{})},
		exited:   make(chan device.ID, 1),
	}
}

func TestWorkerLogsAutoDeviceDataAndSamplesSnapshot(t *testing.T) {
	snapshot := vehicle.NewSnapshot()
	snapshot.Store(vehicle.Data{Roll: 0.1, Pitch: 0.2, Yaw: 0.3, Alt: 10, Lat: 1, Lon: 2})
	writer := &fakeWriter{}
	w := newTestWorker(writer, snapshot)

	w.handleFrame(pingproto.Frame{ID: pingproto.MsgAutoDeviceData, Payload: []byte{1, 2, 3}})

	if len(writer.appends) != 2 {
		t.Fatalf("got %d appends, want 2 (sonar + vehicle)", len(writer.appends))
	}
	if writer.appends[0].channel != channelPing360 {
		t.Fatalf("got channel %d, want channelPing360", writer.appends[0].channel)
	}
	if writer.appends[1].channel != channelVehicleData {
		t.Fatalf("got channel %d, want channelVehicleData", writer.appends[1].channel)
	}
}

func TestWorkerIgnoresUnrelatedFrameTypes(t *testing.T) {
	snapshot := vehicle.NewSnapshot()
	snapshot.Store(vehicle.Data{Roll: 1})
	writer := &fakeWriter{}
	w := newTestWorker(writer, snapshot)

	w.handleFrame(pingproto.Frame{ID: pingproto.MsgAck, Payload: []byte{9}})

	if len(writer.appends) != 0 {
		t.Fatalf("got %d appends for an unrecorded frame type, want 0", len(writer.appends))
	}
}

func TestWorkerSkipsVehicleSampleWithoutSnapshot(t *testing.T) {
	writer := &fakeWriter{}
	w := newTestWorker(writer, vehicle.NewSnapshot())

	w.handleFrame(pingproto.Frame{ID: pingproto.MsgProfile, Payload: []byte{4, 5, 6}})

	if len(writer.appends) != 1 {
		t.Fatalf("got %d appends, want 1 (sonar only, no snapshot yet)", len(writer.appends))
	}
	if writer.appends[0].channel != channelPing1D {
		t.Fatalf("got channel %d, want channelPing1D", writer.appends[0].channel)
	}
}

func TestWorkerStopsOnStopChannel(t *testing.T) {
	writer := &fakeWriter{}
	w := newTestWorker(writer, vehicle.NewSnapshot())
	frames := make(chan device.Frame)
	w.frames = frames

	done := make(chan struct{})
	go func() {
		w.run()
		close(done)
	}()

	close(w.guard.stopCh)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("worker did not return after stopCh was closed")
	}

	select {
	case id := <-w.exited:
		if id != w.deviceID {
			t.Fatalf("got exited id %s, want %s", id, w.deviceID)
		}
	default:
		t.Fatalf("expected worker to report its exit")
	}
}
