package recording

import (
	"encoding/json"
	"log/slog"
	"time"

	"pingfleet/server/internal/device"
	"pingfleet/server/internal/logcontainer"
	"pingfleet/server/internal/pingproto"
	"pingfleet/server/internal/vehicle"
)

// Channel ids multiplexed into every recording's log-container file.
const (
	channelPing1D      logcontainer.ChannelID = 1
	channelPing360     logcontainer.ChannelID = 2
	channelVehicleData logcontainer.ChannelID = 3
)

// recordWriter is the narrow slice of logcontainer.Writer the worker needs
// — small enough that tests can substitute an in-memory fake instead of
// standing up a real file.
type recordWriter interface {
	Append(id logcontainer.ChannelID, t time.Time, payload []byte) error
}

// worker is the per-device recording actor: it drains one device's frame
// broadcast, logs the frame types the recording contract cares about, and
// samples the shared vehicle snapshot alongside every logged sonar frame.
// It owns the log-writer for its own writes, but StopRecording may close it
// out from under the worker at any time — logcontainer.Writer's own mutex
// makes that safe, and a subsequent Append here simply fails and is logged.
type worker struct {
	log      *slog.Logger
	deviceID device.ID
	writer   recordWriter
	frames   <-chan device.Frame
	snapshot *vehicle.Snapshot
	guard    *sessionGuard
	exited   chan<- device.ID
}

func (w *worker) run() {
	defer func() {
		select {
		case w.exited <- w.deviceID:
		default:
		}
	}()

	for {
		select {
		case <-w.guard.stopCh:
			return

		case frame, ok := <-w.frames:
			if !ok {
				return
			}
			w.handleFrame(frame.Frame)
		}
	}
}

// handleFrame logs frame if it's one of the recorded sonar message types
// and, when it is, samples the vehicle snapshot alongside it at the same
// timestamp. Other frame types are ignored entirely — no sonar log entry,
// no vehicle sample.
func (w *worker) handleFrame(frame pingproto.Frame) {
	now := time.Now().UTC()
	logged := true

	switch frame.ID {
	case pingproto.MsgAutoDeviceData:
		if err := w.writer.Append(channelPing360, now, frame.Payload); err != nil {
			w.log.Warn("log AutoDeviceData failed", slog.Any("err", err))
		}

	case pingproto.MsgDeviceData:
		dd, err := pingproto.DecodeDeviceData(frame.Payload)
		if err != nil {
			w.log.Warn("decode DeviceData failed", slog.Any("err", err))
			return
		}
		auto := pingproto.FromDeviceData(dd)
		if err := w.writer.Append(channelPing360, now, auto.Encode()); err != nil {
			w.log.Warn("log synthesized AutoDeviceData failed", slog.Any("err", err))
		}

	case pingproto.MsgProfile:
		if err := w.writer.Append(channelPing1D, now, frame.Payload); err != nil {
			w.log.Warn("log Profile failed", slog.Any("err", err))
		}

	default:
		logged = false
	}

	if !logged {
		return
	}

	if sample, ok := w.snapshot.Load(); ok {
		payload, err := json.Marshal(sample)
		if err != nil {
			w.log.Warn("marshal vehicle sample failed", slog.Any("err", err))
			return
		}
		if err := w.writer.Append(channelVehicleData, now, payload); err != nil {
			w.log.Warn("log vehicle sample failed", slog.Any("err", err))
		}
	}
}
