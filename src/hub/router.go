package hub

import (
	"context"

	"github.com/orchestra-mcp/relay/src/types"
)

func (h *Hub) handleFrame(in inbound) {
	c := in.client
	if cur, ok := h.registry.Get(c.ID); !ok || cur != c {
		h.logger.Debug().Str("client_id", c.ID).Msg("frame from unregistered client")
		return
	}

	switch in.frame.Type {
	case types.FrameBind:
		h.bind(c, in.frame.Msg)
	case types.FrameChat:
		h.logger.Debug().Str("client_id", c.ID).Str("to", in.frame.UID).Msg("chat")
		// The sender is whoever the connection is bound to, never what the client claims.
		h.enqueue(types.NewEnvelope(types.KindChat, c.UserID(), in.frame.UID, in.frame.Msg))
	}
}

// bind adopts uid for the client and replays its history ahead of live traffic.
func (h *Hub) bind(c *Client, uid string) {
	if uid == "" {
		h.logger.Warn().Str("client_id", c.ID).Msg("bind without identity")
		return
	}
	// Hold live traffic before the binding becomes visible to the router.
	gen := c.beginReplay()
	if !h.registry.Bind(c, uid) {
		c.finishReplay(gen, nil)
		return
	}
	h.logger.Info().Str("client_id", c.ID).Str("uid", uid).Msg("set user")

	if h.history == nil {
		c.finishReplay(gen, nil)
		return
	}
	go h.replay(c, uid, gen)
}

func (h *Hub) replay(c *Client, uid string, gen uint64) {
	ctx, cancel := context.WithTimeout(c.Context(), h.opts.OpTimeout)
	defer cancel()

	entries, err := h.history.Replay(ctx, uid)
	if err != nil {
		if c.Context().Err() == nil {
			h.logger.Error().Err(err).Str("uid", uid).Msg("history replay failed")
		}
		entries = nil
	}
	h.logger.Debug().Str("uid", uid).Int("entries", len(entries)).Msg("replaying history")
	c.finishReplay(gen, entries)
}

// route delivers a payload that came back through the bridge. Targeted
// envelopes go to the one client bound to the target; everything else is
// broadcast to all clients except those bound to the sender.
func (h *Hub) route(payload []byte) {
	env, err := types.ParseEnvelope(payload)
	if err != nil {
		h.logger.Warn().Err(err).Msg("parse fail on relayed message")
		return
	}

	if env.Targeted() {
		c, ok := h.registry.LookupByIdentity(env.UID)
		if !ok {
			h.logger.Info().Str("uid", env.UID).Msg("unknown user, dropping")
			return
		}
		c.Deliver(payload)
		return
	}

	for _, c := range h.registry.SnapshotAll() {
		if env.From != "" && c.UserID() == env.From {
			continue
		}
		c.Deliver(payload)
	}
}

// announce broadcasts a presence notice when enabled.
func (h *Hub) announce(msg string) {
	if !h.opts.AnnouncePresence {
		return
	}
	h.enqueue(types.NewEnvelope(types.KindPresence, "", "", msg))
}

// enqueue hands an envelope to the dispatch loop without blocking the event loop.
func (h *Hub) enqueue(env types.Envelope) {
	select {
	case h.outbound <- env:
	default:
		h.logger.Warn().Str("kind", string(env.Kind)).Msg("outbound queue full, dropping")
	}
}

func (h *Hub) dispatchLoop() {
	for {
		select {
		case env := <-h.outbound:
			h.Dispatch(context.Background(), env)
		case <-h.done:
			return
		}
	}
}

// Dispatch records an addressed envelope in history and publishes it
// through the bridge. Failures are logged and reflected in the receipt.
func (h *Hub) Dispatch(ctx context.Context, env types.Envelope) types.Receipt {
	rec := types.Receipt{Envelope: env}
	payload, err := env.Marshal()
	if err != nil {
		h.logger.Error().Err(err).Msg("marshal envelope")
		return rec
	}

	if env.Targeted() && h.history != nil {
		actx, cancel := context.WithTimeout(ctx, h.opts.OpTimeout)
		err := h.history.Append(actx, env.UID, payload, env.TS)
		cancel()
		if err != nil {
			h.logger.Error().Err(err).Str("uid", env.UID).Msg("history append failed")
		} else {
			rec.Stored = true
		}
	}

	b := h.getBridge()
	if b == nil {
		h.logger.Warn().Str("kind", string(env.Kind)).Msg("no bridge attached, dropping")
		return rec
	}
	if err := b.Publish(ctx, payload); err != nil {
		h.logger.Warn().Err(err).Str("kind", string(env.Kind)).Msg("bridge publish failed")
		return rec
	}
	h.logger.Debug().Str("kind", string(env.Kind)).Str("uid", env.UID).Msg("-> bridge")
	rec.Published = true
	return rec
}
