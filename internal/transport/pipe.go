package transport

import (
	"context"
	"io"

	"pingfleet/server/internal/pingproto"
)

// PipeTransport adapts any io.ReadWriteCloser — typically a
// pingproto.SimulatedDevice in tests — to the Transport interface, the same
// resync/checksum handling as the serial and TCP transports.
type PipeTransport struct {
	rwc    io.ReadWriteCloser
	stream *streamReader
	desc   string
}

// NewPipeTransport wraps rwc, labeling it desc for logging.
func NewPipeTransport(rwc io.ReadWriteCloser, desc string) *PipeTransport {
	return &PipeTransport{rwc: rwc, stream: newStreamReader(rwc), desc: desc}
}

func (p *PipeTransport) Write(frame []byte) error {
	_, err := p.rwc.Write(frame)
	return err
}

func (p *PipeTransport) ReadFrame(ctx context.Context) (pingproto.Frame, error) {
	return p.stream.next(ctx)
}

func (p *PipeTransport) Close() error {
	return p.rwc.Close()
}

func (p *PipeTransport) Description() string {
	return p.desc
}

func (p *PipeTransport) CrcErrors() uint64 {
	return p.stream.CrcErrors()
}
