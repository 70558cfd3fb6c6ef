package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full")
)

// Registry-related errors
var (
	ErrNilConnection       = errors.New("connection cannot be nil")
	ErrDuplicateConnection = errors.New("connection already registered")
)

// Handler-related errors
var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrBinaryFrame    = errors.New("binary frames are not supported")
)
