package bridge

import (
	"context"

	"github.com/orchestra-mcp/socketclient/src/types"
)

// Bridge relays envelopes between the socket connection and other processes.
type Bridge interface {
	// Publish hands an inbound envelope to the other side of the bridge.
	Publish(env types.Envelope) error

	// Start begins listening for envelopes to send upstream.
	Start(ctx context.Context) error

	// Stop shuts down the bridge connection.
	Stop() error

	// Available reports whether the bridge is connected and operational.
	Available() bool
}

// Sender is implemented by the socket client to push relayed envelopes
// upstream.
type Sender interface {
	Send(msgType string, data any) bool
}
