package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"pingfleet/server/internal/errs"
	"pingfleet/server/internal/pingproto"
)

// TCPTransport talks to a device over a TCP byte stream.
type TCPTransport struct {
	conn   net.Conn
	addr   string
	port   int
	stream *streamReader
}

// OpenTCP dials addr:port and returns a connected transport.
func OpenTCP(ctx context.Context, addr string, port int) (*TCPTransport, error) {
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", addr, port))
	if err != nil {
		return nil, errs.Wrap(errs.Io, err)
	}
	t := &TCPTransport{conn: conn, addr: addr, port: port}
	t.stream = newStreamReader(&deadlineReader{conn: conn})
	return t, nil
}

func (t *TCPTransport) Write(frame []byte) error {
	if _, err := t.conn.Write(frame); err != nil {
		return errs.Wrap(errs.Io, err)
	}
	return nil
}

func (t *TCPTransport) ReadFrame(ctx context.Context) (pingproto.Frame, error) {
	return t.stream.next(ctx)
}

func (t *TCPTransport) Close() error {
	return t.conn.Close()
}

func (t *TCPTransport) Description() string {
	return fmt.Sprintf("tcp:%s:%d", t.addr, t.port)
}

func (t *TCPTransport) CrcErrors() uint64 {
	return t.stream.CrcErrors()
}

// deadlineReader sets a short read deadline before every Read so a blocked
// TCP connection still lets streamReader check for context cancellation.
type deadlineReader struct {
	conn net.Conn
}

func (d *deadlineReader) Read(p []byte) (int, error) {
	_ = d.conn.SetReadDeadline(time.Now().Add(readDeadline))
	return d.conn.Read(p)
}
