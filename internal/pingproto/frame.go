// Package pingproto is the concrete realization of the acquisition core's
// frame codec contract. The spec treats the real BlueRobotics ping-protocol
// byte layout as an opaque external collaborator; this package implements a
// self-consistent stand-in with the same shape (start-of-frame marker,
// length-prefixed payload, trailing checksum, typed message variants) so the
// rest of the core has something concrete to parse, serialize, and validate
// against.
package pingproto

import "encoding/binary"

// startOfFrame marks the beginning of every frame on the wire.
var startOfFrame = [2]byte{'B', 'R'}

// headerLen is the number of bytes before the payload: start-of-frame (2),
// payload length (2), message id (2), src device id (1), dst device id (1).
const headerLen = 8

// checksumLen is the trailing checksum size.
const checksumLen = 2

// MessageID identifies the shape of a frame's payload.
type MessageID uint16

const (
	MsgAck                  MessageID = 1
	MsgNack                 MessageID = 2
	MsgGetDeviceInformation MessageID = 4
	MsgDeviceInformation    MessageID = 5
	MsgContinuousStart      MessageID = 6
	MsgContinuousStop       MessageID = 7
	MsgSetMode              MessageID = 8

	// Ping1D (single-beam)
	MsgDistanceSimpleRequest MessageID = 1100
	MsgDistanceSimple        MessageID = 1101
	MsgProfileRequest        MessageID = 1200
	MsgProfile               MessageID = 1201

	// Ping360 (mechanically scanned)
	MsgTransducer      MessageID = 2100 // request: commanded scan step
	MsgDeviceData      MessageID = 2101 // response: single-angle reply
	MsgAutoTransmit    MessageID = 2102 // request: start/stop auto-scan
	MsgAutoDeviceData  MessageID = 2103 // response: one step of an auto-scan
)

// Frame is one parsed (or to-be-serialized) protocol frame.
type Frame struct {
	ID          MessageID
	SrcDeviceID byte
	DstDeviceID byte
	Payload     []byte
}

// Encode serializes f into its wire representation, including the trailing
// checksum.
func Encode(f Frame) []byte {
	buf := make([]byte, headerLen+len(f.Payload)+checksumLen)
	buf[0], buf[1] = startOfFrame[0], startOfFrame[1]
	binary.LittleEndian.PutUint16(buf[2:4], uint16(len(f.Payload)))
	binary.LittleEndian.PutUint16(buf[4:6], uint16(f.ID))
	buf[6] = f.SrcDeviceID
	buf[7] = f.DstDeviceID
	copy(buf[headerLen:], f.Payload)

	sum := checksum(buf[:headerLen+len(f.Payload)])
	binary.LittleEndian.PutUint16(buf[headerLen+len(f.Payload):], sum)
	return buf
}

// checksum is an additive 16-bit checksum over the header and payload,
// matching the style (not the byte layout) of the real ping-protocol's
// trailing checksum.
func checksum(b []byte) uint16 {
	var sum uint16
	for _, c := range b {
		sum += uint16(c)
	}
	return sum
}

// Decode parses exactly one complete frame out of data (used for UDP, where
// a datagram is already a whole frame). It validates the checksum.
func Decode(data []byte) (Frame, error) {
	f, n, ok, err := FindFrame(data)
	if err != nil {
		return Frame{}, err
	}
	if !ok || n != len(data) {
		return Frame{}, ErrIncomplete
	}
	return f, nil
}

// FindFrame scans buf for one complete frame starting at offset 0.
//
//   - ok == false, err == nil: not enough bytes yet for a full frame; the
//     caller should read more and retry from the same offset.
//   - ok == false, err == ErrBadChecksum: a frame boundary was found but the
//     checksum did not match; the caller should skip n bytes (the bad frame)
//     and resume scanning — this is the "invalid checksum dropped silently"
//     boundary behavior.
//   - ok == false, err == ErrNoSOF, n == 0: buf does not start with the
//     start-of-frame marker.
//   - ok == true: a valid frame was decoded, consuming n bytes of buf.
//
// Bytes before a recognized start-of-frame marker are skipped one at a time
// by the caller re-invoking FindFrame on buf[1:] after each ErrNoSOF,
// mirroring how a real streaming transport resynchronizes after noise on the
// wire.
func FindFrame(buf []byte) (f Frame, n int, ok bool, err error) {
	if len(buf) < 2 {
		return Frame{}, 0, false, nil
	}
	if buf[0] != startOfFrame[0] || buf[1] != startOfFrame[1] {
		return Frame{}, 0, false, ErrNoSOF
	}
	if len(buf) < headerLen {
		return Frame{}, 0, false, nil
	}

	payloadLen := int(binary.LittleEndian.Uint16(buf[2:4]))
	total := headerLen + payloadLen + checksumLen
	if len(buf) < total {
		return Frame{}, 0, false, nil
	}

	got := binary.LittleEndian.Uint16(buf[headerLen+payloadLen : total])
	want := checksum(buf[:headerLen+payloadLen])
	if got != want {
		return Frame{}, total, false, ErrBadChecksum
	}

	payload := make([]byte, payloadLen)
	copy(payload, buf[headerLen:headerLen+payloadLen])

	f = Frame{
		ID:          MessageID(binary.LittleEndian.Uint16(buf[4:6])),
		SrcDeviceID: buf[6],
		DstDeviceID: buf[7],
		Payload:     payload,
	}
	return f, total, true, nil
}
