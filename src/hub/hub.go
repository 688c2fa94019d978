package hub

import (
	"context"
	"sync"
	"time"

	"github.com/orchestra-mcp/relay/config"
	"github.com/orchestra-mcp/relay/src/history"
	"github.com/orchestra-mcp/relay/src/types"
	"github.com/rs/zerolog"
)

// MessageBridge publishes envelopes to every relay instance, this one included.
// Defined here to avoid circular imports with the bridge package.
type MessageBridge interface {
	Publish(ctx context.Context, payload []byte) error
	Available() bool
}

// Options tunes the hub and the clients it creates.
type Options struct {
	SendBuffer       int
	PingInterval     time.Duration
	InboundRate      int
	InboundBurst     int
	MaxMessageSize   int // larger frames are dropped, 0 disables
	AnnouncePresence bool
	OpTimeout        time.Duration // bounds each history call
}

// OptionsFrom derives hub options from the relay config.
func OptionsFrom(cfg *config.RelayConfig) Options {
	return Options{
		SendBuffer:       cfg.Socket.SendBuffer,
		PingInterval:     time.Duration(cfg.Socket.PingInterval) * time.Second,
		InboundRate:      cfg.Socket.InboundRate,
		InboundBurst:     cfg.Socket.InboundBurst,
		MaxMessageSize:   cfg.Socket.MaxMessageSize,
		AnnouncePresence: cfg.Socket.AnnouncePresence,
		OpTimeout:        cfg.Bridge.OpTimeout,
	}
}

// DefaultOptions returns the options for the default config.
func DefaultOptions() Options {
	return OptionsFrom(config.Default())
}

type inbound struct {
	client *Client
	frame  types.Frame
}

// Hub is the message router. A single goroutine (Run) owns every registry
// mutation and every routing decision; network calls happen elsewhere.
type Hub struct {
	registry *Registry
	history  history.Store
	opts     Options

	register   chan *Client
	unregister chan *Client
	incoming   chan inbound
	relayed    chan []byte
	outbound   chan types.Envelope

	bridge MessageBridge
	mu     sync.RWMutex
	logger zerolog.Logger

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a hub. store may be nil, in which case nothing is recorded or replayed.
func New(logger zerolog.Logger, store history.Store, opts Options) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 2 * time.Second
	}
	logger = logger.With().Str("component", "hub").Logger()
	return &Hub{
		registry:   NewRegistry(logger),
		history:    store,
		opts:       opts,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		incoming:   make(chan inbound, 256),
		relayed:    make(chan []byte, 256),
		outbound:   make(chan types.Envelope, 256),
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// SetBridge attaches the cross-instance bridge. Without one, outbound
// envelopes are dropped: local delivery only ever follows a round trip.
func (h *Hub) SetBridge(b MessageBridge) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bridge = b
}

func (h *Hub) getBridge() MessageBridge {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.bridge
}

// Registry exposes the connection registry for read-only queries.
func (h *Hub) Registry() *Registry { return h.registry }

// Run starts the hub event loop and blocks until Stop. Call in a goroutine.
func (h *Hub) Run() {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.dispatchLoop()
	}()
	defer wg.Wait()

	for {
		select {
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case in := <-h.incoming:
			h.handleFrame(in)
		case payload := <-h.relayed:
			h.route(payload)
		case <-h.done:
			for _, c := range h.registry.SnapshotAll() {
				c.Close()
			}
			return
		}
	}
}

// Stop halts the hub event loop and closes every client.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Register queues a client for registration.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

// Unregister queues a client for removal.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
		c.Close()
	}
}

// Relay hands a payload received from the bridge to the event loop.
func (h *Hub) Relay(payload []byte) {
	select {
	case h.relayed <- payload:
	case <-h.done:
	}
}

func (h *Hub) submit(in inbound) bool {
	select {
	case h.incoming <- in:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) addClient(c *Client) {
	if old := h.registry.Register(c); old != nil {
		h.logger.Warn().Str("client_id", c.ID).Msg("connection id reused, evicting stale client")
		old.Close()
	}
	h.logger.Info().Str("client_id", c.ID).Int("total", h.registry.Len()).Msg("client registered")
	h.announce(c.ID + " joined")
}

func (h *Hub) removeClient(c *Client) {
	removed := h.registry.Unregister(c)
	c.Close()
	if !removed {
		return
	}
	h.logger.Info().Str("client_id", c.ID).Int("total", h.registry.Len()).Msg("client unregistered")
	h.announce(c.ID + " left")
}
