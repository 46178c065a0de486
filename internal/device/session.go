package device

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"pingfleet/server/internal/errs"
	"pingfleet/server/internal/pingproto"
	"pingfleet/server/internal/transport"
)

// broadcastCapacity bounds every session's frame fan-out. A full channel
// drops its oldest entry rather than blocking the reader goroutine.
const broadcastCapacity = 100

// requestTimeout bounds how long Ping and the continuous-mode driver wait
// for a matching reply before giving up.
const requestTimeout = 2 * time.Second

// ping360RetryLimit is how many sends of one angle (the first one included)
// may go unanswered before the driver moves on to the next angle.
const ping360RetryLimit = 3

// Session is the mailbox actor owning one device's transport. All mutation
// of its internal state happens on the run goroutine started by NewSession; the
// exported methods only send a command and wait for its reply. A second,
// dedicated goroutine does nothing but read frames off the transport and
// feed them to the mailbox loop — the transport itself is never touched by
// more than one goroutine at a time for either direction.
type Session struct {
	id  ID
	log *slog.Logger

	mailbox chan sessionCmd
	done    chan struct{}

	state atomic.Int32
	kind  atomic.Int32
	info  atomic.Pointer[Info]

	broadcast chan Frame
	dropped   atomic.Uint64

	transport transport.Transport
}

// sessionCmd is the envelope every mailbox op is wrapped in; run's select
// loop type-switches on it.
type sessionCmd struct {
	ping              *pingCmd
	enableContinuous  *enableContinuousCmd
	disableContinuous *disableContinuousCmd
	getSubscriber     *getSubscriberCmd
	getInfo           *getInfoCmd
}

type pingCmd struct {
	payload  []byte
	expectID pingproto.MessageID
	reply    chan pingReply
}

type pingReply struct {
	frame pingproto.Frame
	err   error
}

type enableContinuousCmd struct {
	streamID pingproto.MessageID
	numSteps uint16
	reply    chan error
}

type disableContinuousCmd struct {
	reply chan error
}

type getSubscriberCmd struct {
	reply chan (<-chan Frame)
}

type getInfoCmd struct {
	reply chan Info
}

// frameOrErr is one item off the transport's dedicated reader goroutine.
type frameOrErr struct {
	frame pingproto.Frame
	err   error
}

// NewSession starts the actor goroutines for one device over an
// already-open transport and returns control to the caller immediately.
func NewSession(ctx context.Context, id ID, t transport.Transport, log *slog.Logger) *Session {
	s := &Session{
		id:        id,
		log:       log.With(slog.String("device_id", id.String())),
		mailbox:   make(chan sessionCmd, 10),
		done:      make(chan struct{}),
		broadcast: make(chan Frame, broadcastCapacity),
		transport: t,
	}
	s.state.Store(int32(StateProbing))
	s.info.Store(&Info{ID: id, State: StateProbing, Transport: t.Description()})

	frames := make(chan frameOrErr, 1)
	go readLoop(ctx, t, frames)
	go s.run(ctx, t, frames)
	return s
}

// readLoop is the only goroutine that ever calls t.ReadFrame. It feeds
// every frame (and the terminal error) to frames, which run's select loop
// drains.
func readLoop(ctx context.Context, t transport.Transport, frames chan<- frameOrErr) {
	for {
		f, err := t.ReadFrame(ctx)
		if err != nil {
			select {
			case frames <- frameOrErr{err: err}:
			case <-ctx.Done():
			}
			return
		}
		select {
		case frames <- frameOrErr{frame: f}:
		case <-ctx.Done():
			return
		}
	}
}

// Ping sends payload as one request frame and waits for the next frame
// whose message id matches expectID, forwarding anything else that arrives
// in the meantime to the broadcast channel — the "one in-flight request,
// matched by message id" protocol driver contract.
func (s *Session) Ping(ctx context.Context, payload []byte, expectID pingproto.MessageID) (pingproto.Frame, error) {
	reply := make(chan pingReply, 1)
	cmd := &pingCmd{payload: payload, expectID: expectID, reply: reply}
	select {
	case s.mailbox <- sessionCmd{ping: cmd}:
	case <-s.done:
		return pingproto.Frame{}, errs.New(errs.Io, "session closed")
	case <-ctx.Done():
		return pingproto.Frame{}, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.frame, r.err
	case <-s.done:
		return pingproto.Frame{}, errs.New(errs.Io, "session closed")
	case <-ctx.Done():
		return pingproto.Frame{}, ctx.Err()
	}
}

// EnableContinuousMode starts the continuous-mode driver streaming streamID
// (Ping1D: continuous_start; Ping360: the master-paced scan loop, stepping
// the mechanical angle by numSteps each time a reply arrives or a step is
// skipped). numSteps is ignored by Ping1D; a Ping360 caller passing 0 gets
// the single-step default.
func (s *Session) EnableContinuousMode(ctx context.Context, streamID pingproto.MessageID, numSteps uint16) error {
	reply := make(chan error, 1)
	select {
	case s.mailbox <- sessionCmd{enableContinuous: &enableContinuousCmd{streamID: streamID, numSteps: numSteps, reply: reply}}:
	case <-s.done:
		return errs.New(errs.Io, "session closed")
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return errs.New(errs.Io, "session closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DisableContinuousMode stops any running continuous-mode driver and
// returns the device to Idle.
func (s *Session) DisableContinuousMode(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case s.mailbox <- sessionCmd{disableContinuous: &disableContinuousCmd{reply: reply}}:
	case <-s.done:
		return errs.New(errs.Io, "session closed")
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return errs.New(errs.Io, "session closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetSubscriber returns a read-only handle to the session's frame channel.
// Every call returns the same channel, so each frame is received by only one
// reader: concurrent subscribers split the stream between them rather than
// each seeing every frame. When the channel is full the oldest buffered
// frame is dropped; the device is never blocked.
func (s *Session) GetSubscriber() <-chan Frame {
	return s.broadcast
}

// DroppedFrames is the running count of broadcast frames evicted because a
// subscriber's channel was full when they were published.
func (s *Session) DroppedFrames() uint64 {
	return s.dropped.Load()
}

// CrcErrors is the running count of frames the underlying transport dropped
// for a checksum mismatch.
func (s *Session) CrcErrors() uint64 {
	return s.transport.CrcErrors()
}

// GetInfo returns the most recent identity/state snapshot without crossing
// the mailbox, since Info is updated atomically by the run loop.
func (s *Session) GetInfo() Info {
	if p := s.info.Load(); p != nil {
		return *p
	}
	return Info{ID: s.id, State: State(s.state.Load())}
}

// publish fans frame out to subscribers, dropping the oldest buffered frame
// if the channel is full rather than blocking the read loop.
func (s *Session) publish(f Frame) {
	for {
		select {
		case s.broadcast <- f:
			return
		default:
		}
		select {
		case <-s.broadcast:
			s.dropped.Add(1)
		default:
			return
		}
	}
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	cur := s.GetInfo()
	cur.State = st
	s.info.Store(&cur)
}

func (s *Session) setKind(k Kind, devType byte) {
	s.kind.Store(int32(k))
	cur := s.GetInfo()
	cur.Kind = k
	cur.DeviceType = devType
	s.info.Store(&cur)
}

// run is the single goroutine that mutates session state. It alternates
// between servicing mailbox commands and frames handed to it by readLoop
// until the context is canceled or the transport fails.
func (s *Session) run(ctx context.Context, t transport.Transport, frames <-chan frameOrErr) {
	defer close(s.done)
	defer t.Close()

	s.probe(ctx, t, frames)

	var continuous *continuousDriver
	var pending *pingCmd
	var pendingTimeout *time.Timer

	clearPending := func() {
		pending = nil
		if pendingTimeout != nil {
			pendingTimeout.Stop()
			pendingTimeout = nil
		}
	}
	pendingTimeoutC := func() <-chan time.Time {
		if pendingTimeout == nil {
			return nil
		}
		return pendingTimeout.C
	}

	for {
		select {
		case <-ctx.Done():
			s.setState(StateClosed)
			if continuous != nil {
				continuous.stop()
			}
			return

		case cmd := <-s.mailbox:
			switch {
			case cmd.ping != nil:
				if pending != nil {
					// one in-flight request at a time: reject the new one
					// rather than silently overwriting the old waiter.
					cmd.ping.reply <- pingReply{err: errs.New(errs.Busy, "request already in flight")}
					continue
				}
				if err := t.Write(cmd.ping.payload); err != nil {
					cmd.ping.reply <- pingReply{err: errs.Wrap(errs.Io, err)}
					continue
				}
				pending = cmd.ping
				pendingTimeout = time.NewTimer(requestTimeout)

			case cmd.enableContinuous != nil:
				if continuous != nil {
					continuous.stop()
				}
				continuous = newContinuousDriver(Kind(s.kind.Load()), cmd.enableContinuous.streamID, cmd.enableContinuous.numSteps)
				if err := continuous.writeStart(t); err != nil {
					continuous.stop()
					continuous = nil
					cmd.enableContinuous.reply <- errs.Wrap(errs.Io, err)
					continue
				}
				s.setState(StateStreaming)
				cmd.enableContinuous.reply <- nil

			case cmd.disableContinuous != nil:
				if continuous != nil {
					continuous.stop()
					continuous = nil
				}
				s.setState(StateIdle)
				cmd.disableContinuous.reply <- nil

			case cmd.getSubscriber != nil:
				cmd.getSubscriber.reply <- s.broadcast

			case cmd.getInfo != nil:
				cmd.getInfo.reply <- s.GetInfo()
			}

		case item := <-frames:
			if item.err != nil {
				s.log.Warn("transport read failed, closing session", slog.Any("err", item.err))
				s.setState(StateClosed)
				if pending != nil {
					pending.reply <- pingReply{err: errs.Wrap(errs.Io, item.err)}
					clearPending()
				}
				return
			}
			switch {
			case pending != nil && item.frame.ID == pending.expectID:
				pending.reply <- pingReply{frame: item.frame}
				clearPending()
			default:
				s.publish(Frame{DeviceID: s.id, Frame: item.frame})
				if continuous != nil && continuous.kind == KindPing360 && item.frame.ID == pingproto.MsgDeviceData {
					continuous.onReply()
				}
			}

		case <-pendingTimeoutC():
			pending.reply <- pingReply{err: errs.New(errs.Timeout, "no matching reply")}
			clearPending()

		case <-continuous.tickC():
			if err := continuous.step(t); err != nil {
				s.log.Warn("continuous-mode write failed", slog.Any("err", err))
			}
		}
	}
}

// probe sends GetDeviceInformation and, on a valid reply, transitions the
// session from Probing to Identified.
func (s *Session) probe(ctx context.Context, t transport.Transport, frames <-chan frameOrErr) {
	req := pingproto.Encode(pingproto.Frame{ID: pingproto.MsgGetDeviceInformation})
	if err := t.Write(req); err != nil {
		s.log.Warn("probe write failed", slog.Any("err", err))
		return
	}

	timeout := time.NewTimer(requestTimeout)
	defer timeout.Stop()

	select {
	case item := <-frames:
		if item.err != nil {
			s.log.Warn("probe read failed", slog.Any("err", item.err))
			return
		}
		if item.frame.ID != pingproto.MsgDeviceInformation {
			s.log.Warn("probe got unexpected message", slog.Int("id", int(item.frame.ID)))
			return
		}
		info, err := pingproto.DecodeDeviceInformation(item.frame.Payload)
		if err != nil {
			s.log.Warn("probe decode failed", slog.Any("err", err))
			return
		}
		kind := KindFromDeviceType(info.DeviceType)
		s.setKind(kind, info.DeviceType)
		s.setState(StateIdentified)
		s.log.Info("device identified", slog.String("kind", kind.String()))

	case <-timeout.C:
		s.log.Warn("probe timed out")

	case <-ctx.Done():
	}
}

// ping360StepInterval is how often run's select loop fires a new scan step
// while a Ping360 continuous driver is active. The actual send is still
// gated by limiter, which is what gives this its "paced" behavior — the
// ticker just gives the select loop a regular moment to ask.
const ping360StepInterval = 20 * time.Millisecond

// continuousDriver paces automatic streaming once EnableContinuousMode is
// called. It holds no goroutine and touches the transport only from calls
// made by run's select loop, so writes from continuous mode and writes from
// in-flight Ping requests never race on the same transport.
//
// Ping1D just issues continuous_start once; the device then streams on its
// own and every reply arrives as an unsolicited frame that run broadcasts.
// Ping360 is master-paced: run's ticker case calls step on every tick, which
// sends (or holds off resending while a reply may still be in flight) the
// current angle's request. A reply that never arrives within requestTimeout
// counts as a missed attempt; after ping360RetryLimit missed attempts the
// driver gives up on that angle and advances anyway.
type continuousDriver struct {
	kind     Kind
	streamID pingproto.MessageID
	limiter  *rate.Limiter
	ticker   *time.Ticker

	numSteps uint16
	angle    uint16
	attempts int
	deadline time.Time
}

func newContinuousDriver(kind Kind, streamID pingproto.MessageID, numSteps uint16) *continuousDriver {
	if numSteps == 0 {
		numSteps = 1
	}
	d := &continuousDriver{kind: kind, streamID: streamID, numSteps: numSteps}
	if kind == KindPing360 {
		d.limiter = rate.NewLimiter(rate.Limit(50), 1)
		d.ticker = time.NewTicker(ping360StepInterval)
	}
	return d
}

// tickC returns the driver's pacing channel, or nil (which blocks forever in
// a select) when there is nothing to pace.
func (d *continuousDriver) tickC() <-chan time.Time {
	if d == nil || d.ticker == nil {
		return nil
	}
	return d.ticker.C
}

// writeStart issues the one-time continuous_start request for Ping1D; for
// Ping360 it's a no-op since the scan loop is entirely tick-driven.
func (d *continuousDriver) writeStart(t transport.Transport) error {
	if d.kind == KindPing360 {
		return nil
	}
	payload := pingproto.ContinuousStartRequest{StreamID: d.streamID}.Encode()
	frame := pingproto.Encode(pingproto.Frame{ID: pingproto.MsgContinuousStart, Payload: payload})
	return t.Write(frame)
}

// step sends (or retries) one Ping360 transducer request. Called from run's
// select loop on every tick while continuous mode is active. A request is
// considered outstanding until either a matching reply arrives (onReply) or
// its deadline passes; while outstanding and not yet expired, step holds off
// resending so a slow-but-arriving reply isn't raced by a duplicate request.
func (d *continuousDriver) step(t transport.Transport) error {
	if d.kind != KindPing360 {
		return nil
	}

	now := time.Now()
	if !d.deadline.IsZero() {
		if now.Before(d.deadline) {
			return nil
		}
		// the previous request's deadline passed with no reply.
		d.attempts++
		if d.attempts >= ping360RetryLimit {
			d.advance()
		}
		d.deadline = time.Time{}
	}

	if !d.limiter.Allow() {
		return nil
	}
	req := pingproto.TransducerRequest{AngleRequested: d.angle, NumberOfSamples: 200}
	frame := pingproto.Encode(pingproto.Frame{ID: pingproto.MsgTransducer, Payload: req.Encode()})
	if err := t.Write(frame); err != nil {
		return err
	}
	d.deadline = now.Add(requestTimeout)
	return nil
}

// onReply is called when run's select loop sees a DeviceData frame arrive
// while this driver is active: the step succeeded, so move to the next
// angle and reset the retry/deadline state.
func (d *continuousDriver) onReply() {
	d.advance()
}

func (d *continuousDriver) advance() {
	d.angle = (d.angle + d.numSteps) % 400
	d.attempts = 0
	d.deadline = time.Time{}
}

func (d *continuousDriver) stop() {
	if d.ticker != nil {
		d.ticker.Stop()
	}
}
