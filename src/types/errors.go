package types

import "errors"

var (
	ErrNotConnected    = errors.New("not connected")
	ErrInvalidEnvelope = errors.New("invalid envelope")
	ErrClientClosed    = errors.New("client closed")
	ErrSuperseded      = errors.New("connection superseded by a newer connect")

	// ErrHeartbeatTimeout is reported when no inbound frame arrived within
	// the configured heartbeat timeout.
	ErrHeartbeatTimeout = errors.New("heartbeat timeout")
)
