package vehicle

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// Bus is the narrow interface the bridge consumes from the external pub/sub
// telemetry bus. The real wire protocol (Zenoh) is treated as opaque; this
// repo realizes the contract with a minimal length-prefixed TCP framing
// compatible with the documented `tcp/host:port` locator and
// key-expression subscribe model, since no Zenoh client exists anywhere in
// this corpus.
type Bus interface {
	// Subscribe opens a session against the bus and subscribes to key. It
	// returns a channel of raw envelope payloads and a close function; the
	// channel is closed when the session ends for any reason (including a
	// read error), which the caller must observe to trigger reconnect.
	Subscribe(ctx context.Context, key string) (<-chan []byte, func() error, error)
}

// TCPBus implements Bus over a single TCP connection to a bus locator of
// the form "host:port" (the scheme prefix "tcp/" is trimmed by the caller
// when composing the address, matching the `tcp/host:port` locator form).
type TCPBus struct {
	addr string
}

// NewTCPBus returns a Bus dialing addr ("host:port") for every Subscribe
// call — one connection per key expression, mirroring a real Zenoh session
// opening independent subscribers.
func NewTCPBus(addr string) *TCPBus {
	return &TCPBus{addr: addr}
}

// Subscribe sends the minimal handshake frame this repo's stand-in bus
// protocol uses to open a subscription: a length-prefixed UTF-8 key
// expression. A real broker implementing the same locator contract would
// reply with a stream of length-prefixed payload frames.
func (b *TCPBus) Subscribe(ctx context.Context, key string) (<-chan []byte, func() error, error) {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", b.addr)
	if err != nil {
		return nil, nil, fmt.Errorf("vehicle bus dial %s: %w", b.addr, err)
	}

	req := make([]byte, 0, 4+len(key))
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(key)))
	req = append(req, lenBuf...)
	req = append(req, key...)
	if _, err := conn.Write(req); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("vehicle bus subscribe %s: %w", key, err)
	}

	out := make(chan []byte, 16)
	go readFrames(conn, out)

	closeFn := func() error { return conn.Close() }
	return out, closeFn, nil
}

// readFrames decodes a stream of [4-byte big-endian length][payload] frames
// off conn until it errors or is closed, pushing each payload to out.
func readFrames(conn net.Conn, out chan<- []byte) {
	defer close(out)
	r := bufio.NewReader(conn)
	lenBuf := make([]byte, 4)
	for {
		if _, err := io.ReadFull(r, lenBuf); err != nil {
			return
		}
		n := binary.BigEndian.Uint32(lenBuf)
		payload := make([]byte, n)
		if _, err := io.ReadFull(r, payload); err != nil {
			return
		}
		out <- payload
	}
}
