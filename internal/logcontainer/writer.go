// Package logcontainer is the concrete realization of the acquisition
// core's log-writer contract. The real MCAP byte layout is treated as
// opaque by the spec; this package implements a minimal stand-in with the
// same shape — self-describing, multi-channel, truncation-tolerant — rather
// than byte-compatible MCAP, adapting the teacher's OGG/Opus page writer
// (recording.go) and blob store (internal/blob) to a generic typed-record
// container instead of one fixed audio codec.
package logcontainer

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"time"
)

// magic identifies a container file; readers that don't recognize it should
// refuse to parse rather than guess.
var magic = [4]byte{'P', 'L', 'O', 'G'}

const formatVersion = 1

// ChannelID identifies one logical stream multiplexed into a single
// container file (e.g. one per device, one for vehicle telemetry).
type ChannelID uint16

// Writer appends timestamped, typed records to one container file. Every
// record is self-contained (channel id, timestamp, length, payload), so a
// reader can recover every complete record even if the file was truncated
// mid-write by a crash — matching the "no transactional durability" spec
// contract: this is a best-effort append log, not a WAL.
type Writer struct {
	mu       sync.Mutex
	f        *os.File
	channels map[ChannelID]string
	closed   bool
	records  uint64
}

// Create opens path and writes the container header. The file is created
// exclusively; an existing recording is never silently overwritten.
func Create(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create log container: %w", err)
	}
	w := &Writer{f: f, channels: make(map[ChannelID]string)}
	if err := w.writeHeader(); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	return w, nil
}

func (w *Writer) writeHeader() error {
	buf := make([]byte, 5)
	copy(buf[0:4], magic[:])
	buf[4] = formatVersion
	_, err := w.f.Write(buf)
	return err
}

// DeclareChannel registers name for id, emitting a channel-metadata record.
// Declaring the same id twice with a different name is a caller error
// (channels are a stable contract for the lifetime of the file).
func (w *Writer) DeclareChannel(id ChannelID, name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("logcontainer: write after close")
	}
	w.channels[id] = name
	return w.writeRecord(recordTypeChannel, id, 0, []byte(name))
}

// Append writes one record on channel id, stamped with t (the acquisition
// core always supplies a monotonic wall-clock timestamp so playback can
// interleave channels correctly).
func (w *Writer) Append(id ChannelID, t time.Time, payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("logcontainer: write after close")
	}
	return w.writeRecord(recordTypeData, id, t.UnixNano(), payload)
}

type recordType byte

const (
	recordTypeChannel recordType = 1
	recordTypeData    recordType = 2
)

// writeRecord lays out one record as:
// [type:1][channel:2][timestamp:8][length:4][payload]
// with no trailing checksum — unlike pingproto frames, a log container
// favors salvaging as many leading records as possible over rejecting a
// partially-written tail.
func (w *Writer) writeRecord(rt recordType, id ChannelID, ts int64, payload []byte) error {
	header := make([]byte, 1+2+8+4)
	header[0] = byte(rt)
	binary.LittleEndian.PutUint16(header[1:3], uint16(id))
	binary.LittleEndian.PutUint64(header[3:11], uint64(ts))
	binary.LittleEndian.PutUint32(header[11:15], uint32(len(payload)))

	if _, err := w.f.Write(header); err != nil {
		return fmt.Errorf("logcontainer: write record header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.f.Write(payload); err != nil {
			return fmt.Errorf("logcontainer: write record payload: %w", err)
		}
	}
	w.records++
	return nil
}

// RecordCount returns the number of data+channel records written so far.
func (w *Writer) RecordCount() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.records
}

// Close flushes and closes the file. Safe to call more than once.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		return fmt.Errorf("logcontainer: sync: %w", err)
	}
	return w.f.Close()
}
