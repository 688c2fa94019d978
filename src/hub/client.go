package hub

import (
	"context"
	"sync"
	"time"

	"github.com/orchestra-mcp/relay/src/types"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Client wraps a realtime connection and manages message flow.
//
// While a history replay is outstanding, live deliveries are held back and
// released after the replayed entries so the client always sees history first.
type Client struct {
	ID          string
	conn        types.Conn
	hub         *Hub
	send        chan []byte
	connectedAt time.Time
	limiter     *rate.Limiter
	logger      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	uid       string
	closed    bool
	replayGen uint64
	holding   bool
	held      [][]byte
}

// NewClient creates a client for conn. Its id is the connection's remote endpoint.
func NewClient(conn types.Conn, h *Hub) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	id := conn.RemoteAddr()
	c := &Client{
		ID:          id,
		conn:        conn,
		hub:         h,
		send:        make(chan []byte, h.opts.SendBuffer),
		connectedAt: time.Now(),
		logger:      h.logger.With().Str("client_id", id).Logger(),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	if h.opts.InboundRate > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(h.opts.InboundRate), h.opts.InboundBurst)
	}
	return c
}

// Context is cancelled when the client closes.
func (c *Client) Context() context.Context { return c.ctx }

// UserID returns the identity the client is currently bound to, if any.
func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uid
}

func (c *Client) setUserID(uid string) {
	c.mu.Lock()
	c.uid = uid
	c.mu.Unlock()
}

// Info returns metadata about this client.
func (c *Client) Info() types.ClientInfo {
	return types.ClientInfo{
		ID:          c.ID,
		UID:         c.UserID(),
		ConnectedAt: c.connectedAt,
	}
}

// Closed reports whether the client has been closed.
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Deliver queues a serialized envelope for the client. It never blocks and
// reports false when the frame was discarded.
func (c *Client) Deliver(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	if c.holding {
		if len(c.held) >= cap(c.send) {
			c.logger.Warn().Msg("held buffer full during replay, dropping")
			return false
		}
		c.held = append(c.held, frame)
		return true
	}
	return c.enqueueLocked(frame)
}

func (c *Client) enqueueLocked(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		c.logger.Warn().Msg("send buffer full, dropping")
		return false
	}
}

// beginReplay starts holding live deliveries and returns the replay generation.
func (c *Client) beginReplay() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replayGen++
	c.holding = true
	return c.replayGen
}

// finishReplay writes history then everything held back during the replay.
// A replay superseded by a later bind is discarded; the later one releases.
func (c *Client) finishReplay(gen uint64, history [][]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || gen != c.replayGen {
		return
	}
	for _, frame := range history {
		c.enqueueLocked(frame)
	}
	for _, frame := range c.held {
		c.enqueueLocked(frame)
	}
	c.held = nil
	c.holding = false
}

// ReadPump reads frames from the connection and routes them to the hub.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	for {
		data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if limit := c.hub.opts.MaxMessageSize; limit > 0 && len(data) > limit {
			c.logger.Warn().Int("bytes", len(data)).Int("max", limit).Msg("frame too large, dropping")
			continue
		}
		if c.limiter != nil && !c.limiter.Allow() {
			c.logger.Warn().Msg("inbound rate exceeded, dropping frame")
			continue
		}
		frame, err := types.ParseFrame(data)
		if err != nil {
			c.logger.Warn().Err(err).Str("frame", truncate(data, 128)).Msg("bad message from client")
			continue
		}
		if !c.hub.submit(inbound{client: c, frame: frame}) {
			return
		}
	}
}

// WritePump writes queued frames to the connection and keeps it alive with pings.
func (c *Client) WritePump() {
	var tick <-chan time.Time
	if c.hub.opts.PingInterval > 0 {
		ticker := time.NewTicker(c.hub.opts.PingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer c.conn.Close()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok || c.Closed() {
				return
			}
			if err := c.conn.WriteMessage(frame); err != nil {
				c.logger.Debug().Err(err).Msg("write failed")
				return
			}
		case <-tick:
			if err := c.conn.Ping(); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// Close signals the client to stop its pumps and cancels pending replays.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.held = nil
		c.cancel()
		close(c.done)
		close(c.send)
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
