package transport

import (
	"context"
	"fmt"

	"github.com/tarm/serial"

	"pingfleet/server/internal/errs"
	"pingfleet/server/internal/pingproto"
)

// SerialTransport talks to a device over a local serial port.
type SerialTransport struct {
	port   *serial.Port
	path   string
	baud   int
	stream *streamReader
}

// OpenSerial opens path at baud with a short read deadline so ReadFrame can
// observe context cancellation between reads.
func OpenSerial(path string, baud int) (*SerialTransport, error) {
	cfg := &serial.Config{
		Name:        path,
		Baud:        baud,
		ReadTimeout: readDeadline,
	}
	port, err := serial.OpenPort(cfg)
	if err != nil {
		return nil, errs.Wrap(errs.Io, err)
	}
	return &SerialTransport{
		port:   port,
		path:   path,
		baud:   baud,
		stream: newStreamReader(port),
	}, nil
}

func (t *SerialTransport) Write(frame []byte) error {
	if _, err := t.port.Write(frame); err != nil {
		return errs.Wrap(errs.Io, err)
	}
	return nil
}

func (t *SerialTransport) ReadFrame(ctx context.Context) (pingproto.Frame, error) {
	return t.stream.next(ctx)
}

func (t *SerialTransport) Close() error {
	return t.port.Close()
}

func (t *SerialTransport) Description() string {
	return fmt.Sprintf("serial:%s@%d", t.path, t.baud)
}

func (t *SerialTransport) CrcErrors() uint64 {
	return t.stream.CrcErrors()
}
