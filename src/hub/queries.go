package hub

import (
	"github.com/orchestra-mcp/relay/src/types"
)

// ConnectedClients returns the ids of connected clients in registration order.
func (h *Hub) ConnectedClients() []string {
	clients := h.registry.SnapshotAll()
	ids := make([]string, 0, len(clients))
	for _, c := range clients {
		ids = append(ids, c.ID)
	}
	return ids
}

// ClientInfo returns info for a connected client, or nil.
func (h *Hub) ClientInfo(clientID string) *types.ClientInfo {
	client, ok := h.registry.Get(clientID)
	if !ok {
		return nil
	}
	info := client.Info()
	return &info
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	return h.registry.Len()
}

// BoundUsers returns the number of user identities with a live binding.
func (h *Hub) BoundUsers() int {
	return h.registry.BoundUsers()
}

// BridgeAvailable reports whether the attached bridge is connected.
func (h *Hub) BridgeAvailable() bool {
	b := h.getBridge()
	return b != nil && b.Available()
}
