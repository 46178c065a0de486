package recording

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"pingfleet/server/internal/device"
	"pingfleet/server/internal/errs"
	"pingfleet/server/internal/history"
	"pingfleet/server/internal/logcontainer"
	"pingfleet/server/internal/vehicle"
)

// DefaultMailboxCapacity and statusBroadcastCapacity match the concurrency
// model's bounded-mailbox and status-broadcast budgets.
const (
	DefaultMailboxCapacity  = 10
	statusBroadcastCapacity = 100
)

// DefaultBaseDir is where recordings are written when the caller doesn't
// override it.
const DefaultBaseDir = "recordings"

// DeviceDirectory is the narrow slice of device.Manager the recording
// manager actually needs: device info and a direct session handle.
// *device.Manager satisfies this; tests substitute a hand-written fake
// instead of standing up a real device registry.
type DeviceDirectory interface {
	Info(ctx context.Context, id device.ID) (device.Info, error)
	GetDeviceHandler(ctx context.Context, id device.ID) (device.Handler, error)
}

// Manager is the mailbox actor owning the registry of active recordings,
// one at most per device. All registry mutation happens inside its single
// run loop; device I/O and file I/O for each recording are delegated to a
// dedicated worker goroutine per session.
type Manager struct {
	log     *slog.Logger
	mailbox chan managerCmd

	devices  DeviceDirectory
	snapshot *vehicle.Snapshot
	history  *history.Store
	baseDir  string

	sessions map[device.ID]*sessionGuard
	status   chan Session

	// workerExited carries the device id of a worker that has closed its
	// writer and stopped reading frames, so run can evict its registry
	// entry — the recording-actor analogue of device.Manager's evictions
	// channel.
	workerExited chan device.ID
}

type managerCmd struct {
	start     *startCmd
	stop      *stopCmd
	status    *statusCmd
	allStatus *allStatusCmd
}

type startCmd struct {
	id    device.ID
	reply chan startResult
}

type startResult struct {
	session Session
	err     error
}

type stopCmd struct {
	id    device.ID
	reply chan startResult
}

type statusCmd struct {
	id    device.ID
	reply chan statusResult
}

type statusResult struct {
	session Session
	found   bool
}

type allStatusCmd struct {
	reply chan []Session
}

// NewManager starts the recording manager's mailbox goroutine with the
// default mailbox capacity. devices is used to look up device info and
// acquire a frame subscriber; snapshot is the shared vehicle-telemetry cell
// sampled by every worker; hist may be nil, in which case start/stop events
// are simply not ledgered.
func NewManager(ctx context.Context, log *slog.Logger, devices DeviceDirectory, snapshot *vehicle.Snapshot, baseDir string, hist *history.Store) *Manager {
	return NewManagerWithCapacity(ctx, log, devices, snapshot, baseDir, hist, DefaultMailboxCapacity)
}

// NewManagerWithCapacity is NewManager with an operator-tunable mailbox
// capacity, wired from cmd/pingfleetd's -mailbox-capacity flag.
func NewManagerWithCapacity(ctx context.Context, log *slog.Logger, devices DeviceDirectory, snapshot *vehicle.Snapshot, baseDir string, hist *history.Store, capacity int) *Manager {
	if baseDir == "" {
		baseDir = DefaultBaseDir
	}
	if capacity <= 0 {
		capacity = DefaultMailboxCapacity
	}
	m := &Manager{
		log:          log,
		mailbox:      make(chan managerCmd, capacity),
		devices:      devices,
		snapshot:     snapshot,
		history:      hist,
		baseDir:      baseDir,
		sessions:     make(map[device.ID]*sessionGuard),
		status:       make(chan Session, statusBroadcastCapacity),
		workerExited: make(chan device.ID, capacity),
	}
	go m.run(ctx)
	return m
}

// Subscribe returns the status-broadcast channel: one Session is emitted on
// every start and stop.
func (m *Manager) Subscribe() <-chan Session {
	return m.status
}

// StartRecording opens a new log-container file for id and spawns its
// worker. Fails with Busy if a recording is already active for id.
func (m *Manager) StartRecording(ctx context.Context, id device.ID) (Session, error) {
	reply := make(chan startResult, 1)
	select {
	case m.mailbox <- managerCmd{start: &startCmd{id: id, reply: reply}}:
	case <-ctx.Done():
		return Session{}, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.session, r.err
	case <-ctx.Done():
		return Session{}, ctx.Err()
	}
}

// StopRecording marks id's recording inactive and closes its writer. A
// second call (or a call for a device never started) fails with NotFound.
func (m *Manager) StopRecording(ctx context.Context, id device.ID) (Session, error) {
	reply := make(chan startResult, 1)
	select {
	case m.mailbox <- managerCmd{stop: &stopCmd{id: id, reply: reply}}:
	case <-ctx.Done():
		return Session{}, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.session, r.err
	case <-ctx.Done():
		return Session{}, ctx.Err()
	}
}

// GetRecordingStatus returns id's current Session, or found=false if it has
// no recording (active or just-stopped-but-not-yet-evicted) registered.
func (m *Manager) GetRecordingStatus(ctx context.Context, id device.ID) (Session, bool, error) {
	reply := make(chan statusResult, 1)
	select {
	case m.mailbox <- managerCmd{status: &statusCmd{id: id, reply: reply}}:
	case <-ctx.Done():
		return Session{}, false, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.session, r.found, nil
	case <-ctx.Done():
		return Session{}, false, ctx.Err()
	}
}

// GetAllRecordingStatus returns every registered recording's Session.
func (m *Manager) GetAllRecordingStatus(ctx context.Context) ([]Session, error) {
	reply := make(chan []Session, 1)
	select {
	case m.mailbox <- managerCmd{allStatus: &allStatusCmd{reply: reply}}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case sessions := <-reply:
		return sessions, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case id := <-m.workerExited:
			delete(m.sessions, id)

		case cmd := <-m.mailbox:
			switch {
			case cmd.start != nil:
				m.handleStart(ctx, cmd.start)
			case cmd.stop != nil:
				m.handleStop(cmd.stop)
			case cmd.status != nil:
				m.handleStatus(cmd.status)
			case cmd.allStatus != nil:
				m.handleAllStatus(cmd.allStatus)
			}
		}
	}
}

func (m *Manager) handleStart(ctx context.Context, cmd *startCmd) {
	if guard, ok := m.sessions[cmd.id]; ok && guard.session.Active {
		cmd.reply <- startResult{err: errs.Newf(errs.Busy, "recording already active for device %s", cmd.id)}
		return
	}

	info, err := m.devices.Info(ctx, cmd.id)
	if err != nil {
		cmd.reply <- startResult{err: err}
		return
	}

	if err := os.MkdirAll(m.baseDir, 0o755); err != nil {
		cmd.reply <- startResult{err: errs.Wrap(errs.Io, fmt.Errorf("ensure recordings dir: %w", err))}
		return
	}

	startedAt := time.Now().UTC()
	fileName := fmt.Sprintf("device_%s_%s.mcap", cmd.id.String(), startedAt.Format("20060102_150405"))
	path := filepath.Join(m.baseDir, fileName)

	writer, err := logcontainer.Create(path)
	if err != nil {
		cmd.reply <- startResult{err: errs.Wrap(errs.Io, err)}
		return
	}
	if err := declareChannels(writer, cmd.id); err != nil {
		writer.Close()
		os.Remove(path)
		cmd.reply <- startResult{err: errs.Wrap(errs.Io, err)}
		return
	}

	handler, err := m.devices.GetDeviceHandler(ctx, cmd.id)
	if err != nil {
		writer.Close()
		os.Remove(path)
		cmd.reply <- startResult{err: err}
		return
	}

	session := Session{
		DeviceID:   cmd.id,
		FilePath:   path,
		StartedAt:  startedAt,
		DeviceKind: info.Kind,
		Active:     true,
	}
	guard := &sessionGuard{session: session, writer: writer, stopCh: make(chan struct{})}
	m.sessions[cmd.id] = guard

	w := &worker{
		log:      m.log.With(slog.String("device_id", cmd.id.String())),
		deviceID: cmd.id,
		writer:   writer,
		frames:   handler.Session.GetSubscriber(),
		snapshot: m.snapshot,
		guard:    guard,
		exited:   m.workerExited,
	}
	go w.run()

	if m.history != nil {
		if err := m.history.RecordStart(cmd.id.String(), path, startedAt); err != nil {
			m.log.Warn("recording history insert failed", slog.Any("err", err))
		}
	}

	m.emit(session)
	cmd.reply <- startResult{session: session}
}

func (m *Manager) handleStop(cmd *stopCmd) {
	guard, ok := m.sessions[cmd.id]
	if !ok || !guard.session.Active {
		cmd.reply <- startResult{err: errs.Newf(errs.NotFound, "no active recording for device %s", cmd.id)}
		return
	}

	guard.session.Active = false
	close(guard.stopCh)
	if err := guard.writer.Close(); err != nil {
		m.log.Warn("recording writer close failed", slog.String("device_id", cmd.id.String()), slog.Any("err", err))
	}

	if m.history != nil {
		if err := m.history.RecordStop(cmd.id.String(), guard.session.FilePath, time.Now().UTC()); err != nil {
			m.log.Warn("recording history insert failed", slog.Any("err", err))
		}
	}

	m.emit(guard.session)
	cmd.reply <- startResult{session: guard.session}
}

func (m *Manager) handleStatus(cmd *statusCmd) {
	guard, ok := m.sessions[cmd.id]
	if !ok {
		cmd.reply <- statusResult{}
		return
	}
	cmd.reply <- statusResult{session: guard.session, found: true}
}

func (m *Manager) handleAllStatus(cmd *allStatusCmd) {
	sessions := make([]Session, 0, len(m.sessions))
	for _, guard := range m.sessions {
		sessions = append(sessions, guard.session)
	}
	cmd.reply <- sessions
}

func (m *Manager) emit(s Session) {
	select {
	case m.status <- s:
	default:
	}
}

func declareChannels(w *logcontainer.Writer, id device.ID) error {
	if err := w.DeclareChannel(channelPing1D, fmt.Sprintf("/device_%s/Ping1D", id)); err != nil {
		return err
	}
	if err := w.DeclareChannel(channelPing360, fmt.Sprintf("/device_%s/Ping360", id)); err != nil {
		return err
	}
	return w.DeclareChannel(channelVehicleData, fmt.Sprintf("/device_%s/VehicleData", id))
}
