package providers

import (
	"github.com/orchestra-mcp/socketclient/src/bridge"
	"github.com/orchestra-mcp/socketclient/src/service"
	"github.com/orchestra-mcp/socketclient/src/transport"
	"github.com/orchestra-mcp/socketclient/src/types"
)

// Compile-time interface assertions.
var (
	_ bridge.Sender = (*service.Service)(nil)
	_ bridge.Bridge = (*bridge.RedisBridge)(nil)
	_ types.Dialer  = (*transport.Dialer)(nil)
	_ types.Conn    = (*transport.Conn)(nil)
)
