// Package recording implements the recording manager actor: it starts and
// stops at-most-one log-writer per device, binds each session to a file
// artifact under a base directory, and spawns a per-device worker that
// interleaves sonar frames with the latest vehicle-telemetry snapshot into
// a timestamped log-container file.
package recording

import (
	"time"

	"pingfleet/server/internal/device"
	"pingfleet/server/internal/logcontainer"
)

// Session is a point-in-time snapshot of one device's recording state,
// returned by every Manager op and emitted on the status-broadcast channel.
type Session struct {
	DeviceID   device.ID
	FilePath   string
	StartedAt  time.Time
	DeviceKind device.Kind
	Active     bool
}

// sessionGuard pairs a Session with the open log-writer handle backing it.
// StopRecording closes writer synchronously, so a file is flushed and
// readable the instant Stop returns, while the worker goroutine may still be
// appending; its writes past that point fail cleanly rather than racing,
// since logcontainer.Writer serializes Close and Append under its own mutex.
type sessionGuard struct {
	session Session
	writer  *logcontainer.Writer

	// stopCh is closed exactly once, by StopRecording's handler, to wake the
	// worker even when no frames are currently flowing — the cooperative
	// cancellation signal called for by the concurrency model instead of a
	// forced goroutine abort.
	stopCh chan struct{}
}
