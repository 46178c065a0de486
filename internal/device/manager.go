package device

import (
	"context"
	"log/slog"

	"pingfleet/server/internal/errs"
	"pingfleet/server/internal/pingproto"
	"pingfleet/server/internal/transport"
)

// DefaultMailboxCapacity matches the concurrency model's bounded-mailbox
// budget for the manager actor.
const DefaultMailboxCapacity = 10

// Manager is the mailbox actor owning the registry of every attached
// device. One goroutine serializes all registry mutations; individual
// device I/O is delegated to each device's own Session actor.
type Manager struct {
	log     *slog.Logger
	mailbox chan managerCmd

	sessions map[ID]*Session
	// byTransport suppresses duplicate Create calls for the same physical
	// link — the reverse index from a transport's Description() to the
	// device already bound to it.
	byTransport map[string]ID
	// labels holds operator-assigned metadata set via ModifyDevice; kept
	// separately from Session since the session actor owns only protocol
	// state, not operator annotations.
	labels map[ID]string

	evictions chan Info
}

type managerCmd struct {
	create     *createCmd
	deleteDev  *deleteCmd
	list       *listCmd
	info       *infoCmd
	getHandler *getHandlerCmd
	modify     *modifyCmd
}

type createCmd struct {
	spec  transport.Spec
	reply chan createResult
}

type createResult struct {
	id  ID
	err error
}

type deleteCmd struct {
	id    ID
	reply chan error
}

type listCmd struct {
	reply chan []Info
}

type infoCmd struct {
	id    ID
	reply chan infoResult
}

type infoResult struct {
	info Info
	err  error
}

type getHandlerCmd struct {
	id    ID
	reply chan getHandlerResult
}

type getHandlerResult struct {
	handler Handler
	err     error
}

type modifyCmd struct {
	id     ID
	mutate func(*Info)
	reply  chan error
}

// NewManager starts the manager's mailbox goroutine with the default
// mailbox capacity.
func NewManager(ctx context.Context, log *slog.Logger) *Manager {
	return NewManagerWithCapacity(ctx, log, DefaultMailboxCapacity)
}

// NewManagerWithCapacity is NewManager with an operator-tunable mailbox
// capacity, wired from cmd/pingfleetd's -mailbox-capacity flag.
func NewManagerWithCapacity(ctx context.Context, log *slog.Logger, capacity int) *Manager {
	if capacity <= 0 {
		capacity = DefaultMailboxCapacity
	}
	m := &Manager{
		log:         log,
		mailbox:     make(chan managerCmd, capacity),
		sessions:    make(map[ID]*Session),
		byTransport: make(map[string]ID),
		labels:      make(map[ID]string),
		evictions:   make(chan Info, broadcastCapacity),
	}
	go m.run(ctx)
	return m
}

// Subscribe returns a read-only channel of Info snapshots for devices
// removed from the registry by Delete. A session that closes on its own
// (for example after a transport failure) stays registered and is not
// reported here.
func (m *Manager) Subscribe() <-chan Info {
	return m.evictions
}

// Create opens spec and registers a new session for it, rejecting the call
// if an existing session already owns the same transport.
func (m *Manager) Create(ctx context.Context, spec transport.Spec) (ID, error) {
	reply := make(chan createResult, 1)
	select {
	case m.mailbox <- managerCmd{create: &createCmd{spec: spec, reply: reply}}:
	case <-ctx.Done():
		return ID{}, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.id, r.err
	case <-ctx.Done():
		return ID{}, ctx.Err()
	}
}

// Delete closes and removes a device's session.
func (m *Manager) Delete(ctx context.Context, id ID) error {
	reply := make(chan error, 1)
	select {
	case m.mailbox <- managerCmd{deleteDev: &deleteCmd{id: id, reply: reply}}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// List returns a snapshot of every registered device's Info.
func (m *Manager) List(ctx context.Context) ([]Info, error) {
	reply := make(chan []Info, 1)
	select {
	case m.mailbox <- managerCmd{list: &listCmd{reply: reply}}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case infos := <-reply:
		return infos, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Info returns one device's current snapshot.
func (m *Manager) Info(ctx context.Context, id ID) (Info, error) {
	reply := make(chan infoResult, 1)
	select {
	case m.mailbox <- managerCmd{info: &infoCmd{id: id, reply: reply}}:
	case <-ctx.Done():
		return Info{}, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.info, r.err
	case <-ctx.Done():
		return Info{}, ctx.Err()
	}
}

// GetDeviceHandler returns a direct handle to one device's Session so a
// caller (e.g. the recording manager) can talk to it without going back
// through the manager mailbox for every subsequent op.
func (m *Manager) GetDeviceHandler(ctx context.Context, id ID) (Handler, error) {
	reply := make(chan getHandlerResult, 1)
	select {
	case m.mailbox <- managerCmd{getHandler: &getHandlerCmd{id: id, reply: reply}}:
	case <-ctx.Done():
		return Handler{}, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.handler, r.err
	case <-ctx.Done():
		return Handler{}, ctx.Err()
	}
}

// ModifyDevice applies mutate to a device's Info snapshot under the
// manager's serialized mailbox, useful for operator-assigned metadata that
// doesn't belong to the session actor itself.
func (m *Manager) ModifyDevice(ctx context.Context, id ID, mutate func(*Info)) error {
	reply := make(chan error, 1)
	select {
	case m.mailbox <- managerCmd{modify: &modifyCmd{id: id, mutate: mutate, reply: reply}}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ping looks up id's session and forwards a request/reply round trip to it.
func (m *Manager) Ping(ctx context.Context, id ID, payload []byte, expectID pingproto.MessageID) (pingproto.Frame, error) {
	h, err := m.GetDeviceHandler(ctx, id)
	if err != nil {
		return pingproto.Frame{}, err
	}
	return h.Session.Ping(ctx, payload, expectID)
}

// EnableContinuousMode looks up id's session and starts its continuous-mode
// driver. numSteps configures Ping360's per-step mechanical angle advance
// (ignored for Ping1D); 0 means the single-step default.
func (m *Manager) EnableContinuousMode(ctx context.Context, id ID, streamID pingproto.MessageID, numSteps uint16) error {
	h, err := m.GetDeviceHandler(ctx, id)
	if err != nil {
		return err
	}
	return h.Session.EnableContinuousMode(ctx, streamID, numSteps)
}

// DisableContinuousMode looks up id's session and stops its continuous-mode
// driver.
func (m *Manager) DisableContinuousMode(ctx context.Context, id ID) error {
	h, err := m.GetDeviceHandler(ctx, id)
	if err != nil {
		return err
	}
	return h.Session.DisableContinuousMode(ctx)
}

// AutoCreate discovers devices and registers every newly-found one, as
// opposed to Create which opens one spec the caller already knows about.
func (m *Manager) AutoCreate(ctx context.Context) ([]ID, error) {
	specs, err := Discover(ctx, m.log)
	if err != nil {
		return nil, err
	}
	var created []ID
	for _, spec := range specs {
		id, err := m.Create(ctx, spec)
		if err != nil {
			m.log.Warn("auto-create failed", slog.Any("err", err))
			continue
		}
		created = append(created, id)
	}
	return created, nil
}

func (m *Manager) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case cmd := <-m.mailbox:
			switch {
			case cmd.create != nil:
				m.handleCreate(ctx, cmd.create)
			case cmd.deleteDev != nil:
				m.handleDelete(cmd.deleteDev)
			case cmd.list != nil:
				cmd.list.reply <- m.snapshotAll()
			case cmd.info != nil:
				cmd.info.reply <- m.snapshotOne(cmd.info.id)
			case cmd.getHandler != nil:
				m.handleGetHandler(cmd.getHandler)
			case cmd.modify != nil:
				m.handleModify(cmd.modify)
			}
		}
	}
}

func (m *Manager) handleCreate(ctx context.Context, cmd *createCmd) {
	t, err := transport.Open(ctx, cmd.spec)
	if err != nil {
		cmd.reply <- createResult{err: err}
		return
	}
	desc := t.Description()
	if existing, ok := m.byTransport[desc]; ok {
		t.Close()
		cmd.reply <- createResult{id: existing, err: errs.Newf(errs.Duplicate, "transport %s already bound to device %s", desc, existing)}
		return
	}

	id := NewID()
	sess := NewSession(ctx, id, t, m.log)
	m.sessions[id] = sess
	m.byTransport[desc] = id
	cmd.reply <- createResult{id: id}
}

func (m *Manager) handleDelete(cmd *deleteCmd) {
	sess, ok := m.sessions[cmd.id]
	if !ok {
		cmd.reply <- errs.Newf(errs.NotFound, "device %s not registered", cmd.id)
		return
	}
	info := m.applyLabel(sess.GetInfo())
	// Closing the transport makes the session's read loop fail, which ends
	// its run goroutine.
	sess.transport.Close()
	delete(m.sessions, cmd.id)
	delete(m.labels, cmd.id)
	for desc, id := range m.byTransport {
		if id == cmd.id {
			delete(m.byTransport, desc)
			break
		}
	}
	select {
	case m.evictions <- info:
	default:
	}
	cmd.reply <- nil
}

// applyLabel overlays the operator-assigned label (if any) onto an
// otherwise session-owned Info snapshot.
func (m *Manager) applyLabel(info Info) Info {
	if label, ok := m.labels[info.ID]; ok {
		info.Label = label
	}
	return info
}

func (m *Manager) handleGetHandler(cmd *getHandlerCmd) {
	sess, ok := m.sessions[cmd.id]
	if !ok {
		cmd.reply <- getHandlerResult{err: errs.Newf(errs.NotFound, "device %s not registered", cmd.id)}
		return
	}
	cmd.reply <- getHandlerResult{handler: Handler{ID: cmd.id, Session: sess}}
}

// handleModify lets the caller mutate a merged Info snapshot (session state
// plus the current label); only the Label field is persisted back, since
// every other field is owned by the session actor and would be discarded on
// the next GetInfo anyway.
func (m *Manager) handleModify(cmd *modifyCmd) {
	sess, ok := m.sessions[cmd.id]
	if !ok {
		cmd.reply <- errs.Newf(errs.NotFound, "device %s not registered", cmd.id)
		return
	}
	info := m.applyLabel(sess.GetInfo())
	cmd.mutate(&info)
	m.labels[cmd.id] = info.Label
	cmd.reply <- nil
}

func (m *Manager) snapshotAll() []Info {
	infos := make([]Info, 0, len(m.sessions))
	for _, sess := range m.sessions {
		infos = append(infos, m.applyLabel(sess.GetInfo()))
	}
	return infos
}

func (m *Manager) snapshotOne(id ID) infoResult {
	sess, ok := m.sessions[id]
	if !ok {
		return infoResult{err: errs.Newf(errs.NotFound, "device %s not registered", id)}
	}
	return infoResult{info: m.applyLabel(sess.GetInfo())}
}
