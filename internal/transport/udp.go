package transport

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"pingfleet/server/internal/errs"
	"pingfleet/server/internal/pingproto"
)

// UDPTransport talks to a device over UDP. Each datagram is exactly one
// frame, so unlike the stream transports there is no resync buffer — a
// malformed or truncated datagram is simply dropped and the next Read waits
// for the next one.
type UDPTransport struct {
	conn *net.UDPConn
	addr string
	port int

	crcErrors atomic.Uint64
}

// OpenUDP connects a UDP socket to addr:port.
func OpenUDP(ctx context.Context, addr string, port int) (*UDPTransport, error) {
	raddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", addr, port))
	if err != nil {
		return nil, errs.Wrap(errs.Io, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, errs.Wrap(errs.Io, err)
	}
	return &UDPTransport{conn: conn, addr: addr, port: port}, nil
}

func (t *UDPTransport) Write(frame []byte) error {
	if _, err := t.conn.Write(frame); err != nil {
		return errs.Wrap(errs.Io, err)
	}
	return nil
}

func (t *UDPTransport) ReadFrame(ctx context.Context) (pingproto.Frame, error) {
	buf := make([]byte, 65535)
	for {
		select {
		case <-ctx.Done():
			return pingproto.Frame{}, ctx.Err()
		default:
		}

		_ = t.conn.SetReadDeadline(time.Now().Add(readDeadline))
		n, err := t.conn.Read(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return pingproto.Frame{}, errs.Wrap(errs.Io, err)
		}

		f, err := pingproto.Decode(buf[:n])
		if err != nil {
			if err == pingproto.ErrBadChecksum {
				t.crcErrors.Add(1)
			}
			// malformed datagram: drop and wait for the next one
			continue
		}
		return f, nil
	}
}

func (t *UDPTransport) Close() error {
	return t.conn.Close()
}

func (t *UDPTransport) Description() string {
	return fmt.Sprintf("udp:%s:%d", t.addr, t.port)
}

func (t *UDPTransport) CrcErrors() uint64 {
	return t.crcErrors.Load()
}

// DiscoveryBroadcastAddr is the subnet-wide UDP broadcast used to find
// devices that haven't been given a specific address.
const DiscoveryBroadcastAddr = "255.255.255.255:9092"

// DiscoveryWindow is how long a broadcast probe waits for replies.
const DiscoveryWindow = 500 * time.Millisecond
