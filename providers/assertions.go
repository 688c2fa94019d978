package providers

import (
	"github.com/orchestra-mcp/relay/src/bridge"
	"github.com/orchestra-mcp/relay/src/history"
	"github.com/orchestra-mcp/relay/src/hub"
	"github.com/orchestra-mcp/relay/src/types"
)

// Compile-time interface assertions.
var (
	_ bridge.Bridge     = (*bridge.RedisBridge)(nil)
	_ bridge.Bridge     = (*bridge.NATSBridge)(nil)
	_ bridge.Bridge     = (*bridge.MemoryBridge)(nil)
	_ hub.MessageBridge = bridge.Bridge(nil)
	_ bridge.Target     = (*hub.Hub)(nil)
	_ history.Store     = (*history.RedisStore)(nil)
	_ history.Store     = (*history.MemoryStore)(nil)
	_ types.Conn        = (*fasthttpConn)(nil)
)
