package vehicle

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

const (
	// DefaultBusAddr is the bus locator this repo dials by default, with the
	// `tcp/` locator scheme trimmed since TCPBus always dials TCP.
	DefaultBusAddr = "127.0.0.1:7447"

	attitudeKey = "mavlink/**/1/ATTITUDE"
	positionKey = "mavlink/**/1/GLOBAL_POSITION_INT"

	// ReconnectDelay is how long the bridge waits after any session or
	// subscriber error before rebuilding the bus session.
	ReconnectDelay = 5 * time.Second
)

// Bridge subscribes to vehicle attitude and position telemetry and fuses
// both into Snapshot, reconnecting forever on any failure. There is no
// terminal failure state; Run only returns when ctx is canceled.
type Bridge struct {
	bus      Bus
	snapshot *Snapshot
	log      *slog.Logger

	reconnectDelay time.Duration
}

// NewBridge builds a bridge publishing fused samples into snapshot.
func NewBridge(bus Bus, snapshot *Snapshot, log *slog.Logger) *Bridge {
	return &Bridge{bus: bus, snapshot: snapshot, log: log, reconnectDelay: ReconnectDelay}
}

// SetReconnectDelay overrides the default delay between reconnect attempts,
// wired from cmd/pingfleetd's -vehicle-reconnect-delay flag.
func (b *Bridge) SetReconnectDelay(d time.Duration) {
	if d > 0 {
		b.reconnectDelay = d
	}
}

// Run subscribes to both telemetry key expressions and fuses incoming
// samples into the shared snapshot until ctx is canceled. On any session or
// subscriber error it waits reconnectDelay and rebuilds both subscriptions.
func (b *Bridge) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := b.runOnce(ctx); err != nil {
			b.log.Warn("vehicle bus session failed, reconnecting", slog.Any("err", err), slog.Duration("delay", b.reconnectDelay))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(b.reconnectDelay):
		}
	}
}

// runOnce opens both subscriptions and fuses samples until one of them
// closes (error) or ctx is canceled, returning the terminal error if any.
func (b *Bridge) runOnce(ctx context.Context) error {
	attitudeCh, closeAttitude, err := b.bus.Subscribe(ctx, attitudeKey)
	if err != nil {
		return err
	}
	defer closeAttitude()

	positionCh, closePosition, err := b.bus.Subscribe(ctx, positionKey)
	if err != nil {
		return err
	}
	defer closePosition()

	var latestAttitude *attitudeSample
	var latestPosition *positionSample

	for {
		select {
		case <-ctx.Done():
			return nil

		case raw, ok := <-attitudeCh:
			if !ok {
				return errClosed("attitude")
			}
			sample, err := decodeEnvelope[attitudeSample](raw)
			if err != nil {
				b.log.Warn("vehicle attitude decode failed", slog.Any("err", err))
				continue
			}
			latestAttitude = &sample
			b.fuse(latestAttitude, latestPosition)

		case raw, ok := <-positionCh:
			if !ok {
				return errClosed("position")
			}
			sample, err := decodeEnvelope[positionSample](raw)
			if err != nil {
				b.log.Warn("vehicle position decode failed", slog.Any("err", err))
				continue
			}
			latestPosition = &sample
			b.fuse(latestAttitude, latestPosition)
		}
	}
}

// fuse writes a fused Data sample into the snapshot once both an attitude
// and a position sample have been seen at least once.
func (b *Bridge) fuse(attitude *attitudeSample, position *positionSample) {
	if attitude == nil || position == nil {
		return
	}
	b.snapshot.Store(Data{
		Roll:  attitude.Roll,
		Pitch: attitude.Pitch,
		Yaw:   attitude.Yaw,
		Alt:   float64(position.Alt) / 1000,
		Lat:   float64(position.Lat) / 1e7,
		Lon:   float64(position.Lon) / 1e7,
	})
}

// decodeEnvelope unwraps the JSON5 {"message": ...} envelope and decodes
// its payload into T.
func decodeEnvelope[T any](raw []byte) (T, error) {
	var zero T
	var env envelope
	if err := json.Unmarshal(normalizeJSON5(raw), &env); err != nil {
		return zero, err
	}
	var v T
	if err := json.Unmarshal(env.Message, &v); err != nil {
		return zero, err
	}
	return v, nil
}

type busError string

func (e busError) Error() string { return string(e) }

func errClosed(which string) error {
	return busError(which + " subscription closed")
}
