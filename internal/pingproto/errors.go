package pingproto

import "errors"

var (
	// ErrIncomplete is returned by Decode when data does not contain exactly
	// one complete, validly-framed message.
	ErrIncomplete = errors.New("pingproto: incomplete frame")
	// ErrNoSOF is returned when the expected start-of-frame marker is absent.
	ErrNoSOF = errors.New("pingproto: no start-of-frame marker")
	// ErrBadChecksum is returned when a frame's trailing checksum does not
	// match the computed value; the caller drops the frame silently.
	ErrBadChecksum = errors.New("pingproto: checksum mismatch")
	// ErrUnexpectedMessage reports a frame whose MessageID doesn't match the
	// expected shape. The typed decoders in this package take a bare payload,
	// do not check message ids, and never return it.
	ErrUnexpectedMessage = errors.New("pingproto: unexpected message id")
	// ErrShortPayload is returned when a payload is too small for its
	// expected fixed fields.
	ErrShortPayload = errors.New("pingproto: payload too short")
)
