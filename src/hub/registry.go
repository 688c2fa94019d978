package hub

import (
	"sync"

	"github.com/rs/zerolog"
)

// Registry tracks live clients and which user identity each one is bound to.
// All methods are safe for concurrent use; the Hub is the only writer.
type Registry struct {
	mu     sync.RWMutex
	order  []*Client          // registration order, for broadcast
	byID   map[string]*Client // connection id -> client
	byUser map[string]*Client // user identity -> client, last bind wins
	logger zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		byID:   make(map[string]*Client),
		byUser: make(map[string]*Client),
		logger: logger,
	}
}

// Register adds a client. Connection ids come from the remote endpoint, so a
// duplicate id means the earlier connection is gone but not yet unregistered;
// it is evicted and returned so the caller can close it.
func (r *Registry) Register(c *Client) (evicted *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, taken := r.byID[c.ID]; taken && old != c {
		r.removeLocked(old)
		evicted = old
	}
	r.byID[c.ID] = c
	r.order = append(r.order, c)
	return evicted
}

// Unregister removes a client and releases its identity if it still owns it.
// Removing a client that is not registered is a no-op.
func (r *Registry) Unregister(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.byID[c.ID] != c {
		r.logger.Debug().Str("client_id", c.ID).Msg("disconnected client not in registry")
		return false
	}
	r.removeLocked(c)
	return true
}

func (r *Registry) removeLocked(c *Client) {
	delete(r.byID, c.ID)
	for i, oc := range r.order {
		if oc == c {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if uid := c.UserID(); uid != "" && r.byUser[uid] == c {
		delete(r.byUser, uid)
	}
}

// Bind associates uid with the client, replacing whoever held it before.
// If the client was bound to another identity it releases that one.
func (r *Registry) Bind(c *Client, uid string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.byID[c.ID] != c {
		r.logger.Debug().Str("client_id", c.ID).Str("uid", uid).Msg("bind for unregistered client")
		return false
	}
	if prev := c.UserID(); prev != "" && prev != uid && r.byUser[prev] == c {
		delete(r.byUser, prev)
	}
	if old, taken := r.byUser[uid]; taken && old != c {
		r.logger.Debug().Str("uid", uid).Str("previous", old.ID).Str("client_id", c.ID).Msg("identity rebound")
	}
	c.setUserID(uid)
	r.byUser[uid] = c
	return true
}

// LookupByIdentity returns the client currently bound to uid.
func (r *Registry) LookupByIdentity(uid string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byUser[uid]
	return c, ok
}

// Get returns the client registered under a connection id.
func (r *Registry) Get(id string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	return c, ok
}

// SnapshotAll returns the registered clients in registration order. The
// slice is a copy and is unaffected by later changes to the registry.
func (r *Registry) SnapshotAll() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered clients.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// BoundUsers returns the number of bound identities.
func (r *Registry) BoundUsers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
