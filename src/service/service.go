package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/orchestra-mcp/relay/src/history"
	"github.com/orchestra-mcp/relay/src/hub"
	"github.com/orchestra-mcp/relay/src/types"
	"github.com/rs/zerolog"
)

var ErrClientNotFound = errors.New("client not found")

// Service is the submission API used by the HTTP layer and embedders.
type Service struct {
	hub     *hub.Hub
	history history.Store
	logger  zerolog.Logger
}

// New creates a service backed by the given hub. store may be nil.
func New(h *hub.Hub, store history.Store, logger zerolog.Logger) *Service {
	return &Service{
		hub:     h,
		history: store,
		logger:  logger.With().Str("component", "service").Logger(),
	}
}

// Hub returns the underlying hub.
func (s *Service) Hub() *hub.Hub { return s.hub }

// Submit stamps a notification and dispatches it. With a uid it is recorded
// in that user's history and published whether or not the user is connected;
// without one it is broadcast to every client. The message text is relayed
// as given, empty included.
func (s *Service) Submit(ctx context.Context, uid, msg string) (types.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return types.Receipt{}, fmt.Errorf("submit: %w", err)
	}
	env := types.NewEnvelope(types.KindNotification, "", uid, msg)
	rec := s.hub.Dispatch(ctx, env)
	s.logger.Debug().
		Str("uid", uid).
		Int64("ts", env.TS).
		Bool("stored", rec.Stored).
		Bool("published", rec.Published).
		Msg("notification submitted")
	return rec, nil
}

// ConnectedClients returns IDs of all connected clients.
func (s *Service) ConnectedClients() []string {
	return s.hub.ConnectedClients()
}

// ClientInfo returns info for a connected client, or error.
func (s *Service) ClientInfo(clientID string) (*types.ClientInfo, error) {
	info := s.hub.ClientInfo(clientID)
	if info == nil {
		return nil, fmt.Errorf("%w: %s", ErrClientNotFound, clientID)
	}
	return info, nil
}

// History returns the envelopes a bind by uid would replay right now.
func (s *Service) History(ctx context.Context, uid string) ([]types.Envelope, error) {
	if s.history == nil {
		return []types.Envelope{}, nil
	}
	entries, err := s.history.Replay(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", uid, err)
	}
	out := make([]types.Envelope, 0, len(entries))
	for _, entry := range entries {
		env, err := types.ParseEnvelope(entry)
		if err != nil {
			s.logger.Warn().Err(err).Str("uid", uid).Msg("skipping unreadable history entry")
			continue
		}
		out = append(out, env)
	}
	return out, nil
}
