package models

import "errors"

var (
	// ErrBufferSize is returned when a frame buffer does not hold exactly W*H*4 bytes.
	ErrBufferSize = errors.New("frame buffer size mismatch")

	// ErrInvalidSelector is returned for stream selectors other than "1" or "2".
	// No connection is attempted when it is returned.
	ErrInvalidSelector = errors.New("invalid stream selector")

	// ErrNotOpen is returned when sending on a connection that is not Open.
	ErrNotOpen = errors.New("connection not open")

	// ErrSendBufferFull is returned when a connection's send buffer is full and the payload was dropped.
	ErrSendBufferFull = errors.New("send buffer full")

	// ErrClosed is returned by operations on a shut down manager or transport.
	ErrClosed = errors.New("closed")

	// ErrMalformedPayload is returned for messages that are not a well-formed envelope
	// or whose video/audio payload fails to decode.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrPayloadTooLarge is returned for messages larger than the configured bound.
	ErrPayloadTooLarge = errors.New("payload too large")
)
