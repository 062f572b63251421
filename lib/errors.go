package lib

import "errors"

var (
	ErrInvalidDescriptor  = errors.New("invalid descriptor")
	ErrTooManyConnections = errors.New("connection table is full")
	ErrAddressInUse       = errors.New("address already in use")
	ErrNotBound           = errors.New("connection has no local address")
	ErrNotConnected       = errors.New("connection is not established")
	ErrConnectionClosed   = errors.New("connection is closed")
	ErrHandshakeTimeout   = errors.New("handshake timeout")
	ErrReceiveTimeout     = errors.New("receive timeout")
	ErrTransportInit      = errors.New("transport initialization failed")
	ErrStackClosed        = errors.New("stack is shut down")
	ErrPayloadTooLarge    = errors.New("payload exceeds maximum segment payload")
	ErrChecksumMismatch   = errors.New("checksum mismatch")
)
