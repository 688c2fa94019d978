package providers

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/orchestra-mcp/relay/config"
	"github.com/orchestra-mcp/relay/src/bridge"
	"github.com/orchestra-mcp/relay/src/history"
	"github.com/orchestra-mcp/relay/src/hub"
	"github.com/orchestra-mcp/relay/src/service"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RelayPlugin wires the history store, hub, bridge and HTTP surface of one
// relay instance.
type RelayPlugin struct {
	cfg    *config.RelayConfig
	logger zerolog.Logger

	active    bool
	staticDir string
	hub       *hub.Hub
	hubDone   chan struct{}
	service   *service.Service
	store     history.Store
	bridge    bridge.Bridge
	bus       *bridge.MemoryBus
	redis     *redis.Client

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRelayPlugin creates a relay for cfg. Nothing connects until Activate.
func NewRelayPlugin(cfg *config.RelayConfig, logger zerolog.Logger) *RelayPlugin {
	return &RelayPlugin{cfg: cfg, logger: logger}
}

func (p *RelayPlugin) ID() string      { return "orchestra/relay" }
func (p *RelayPlugin) Name() string    { return "Notification Relay" }
func (p *RelayPlugin) Version() string { return "0.1.0" }
func (p *RelayPlugin) IsActive() bool  { return p.active }

// Service exposes the submission service.
func (p *RelayPlugin) Service() *service.Service { return p.service }

// Hub exposes the hub.
func (p *RelayPlugin) Hub() *hub.Hub { return p.hub }

// Bridge exposes the active bridge.
func (p *RelayPlugin) Bridge() bridge.Bridge { return p.bridge }

// Activate builds the history store and bridge, then starts the event loop.
// An unreachable broker is not fatal: the bridge keeps retrying and the
// relay runs degraded until it connects.
func (p *RelayPlugin) Activate(ctx context.Context) error {
	if p.active {
		return nil
	}
	ctx, p.cancel = context.WithCancel(ctx)

	static, err := filepath.Abs(p.cfg.StaticDir)
	if err != nil {
		return fmt.Errorf("static dir: %w", err)
	}
	p.staticDir = static

	p.initHistory(ctx)

	p.hub = hub.New(p.logger, p.store, hub.OptionsFrom(p.cfg))
	p.hubDone = make(chan struct{})
	go func() {
		defer close(p.hubDone)
		p.hub.Run()
	}()
	p.service = service.New(p.hub, p.store, p.logger)

	if err := p.initBridge(ctx); err != nil {
		p.hub.Stop()
		<-p.hubDone
		p.cancel()
		p.wg.Wait()
		if p.redis != nil {
			_ = p.redis.Close()
		}
		return err
	}

	p.active = true
	p.logger.Info().
		Str("plugin", p.ID()).
		Str("bridge", p.cfg.Bridge.Driver).
		Str("history", p.cfg.History.Driver).
		Msg("relay activated")
	return nil
}

func (p *RelayPlugin) historyOptions() history.Options {
	return history.Options{
		Len:          p.cfg.History.Len,
		TTL:          p.cfg.History.TTLDuration(),
		ReplayWindow: p.cfg.History.ReplayWindow,
		KeyPrefix:    p.cfg.History.KeyPrefix,
	}
}

func (p *RelayPlugin) initHistory(ctx context.Context) {
	opts := p.historyOptions()
	if opts.WindowExceedsLen() {
		p.logger.Warn().
			Int("replay_window", opts.ReplayWindow).
			Int("len", opts.Len).
			Msg("history replay window is wider than the retained length")
	}

	switch p.cfg.History.Driver {
	case config.DriverMemory:
		mem := history.NewMemoryStore(opts)
		p.store = mem
		p.wg.Add(1)
		go p.sweep(ctx, mem, opts.TTL)
	default:
		p.redis = redis.NewClient(&redis.Options{
			Addr:         p.cfg.Redis.Addr,
			Password:     p.cfg.Redis.Password,
			DB:           p.cfg.Redis.DB,
			ClientName:   "relay-history",
			DialTimeout:  p.cfg.Bridge.OpTimeout,
			ReadTimeout:  p.cfg.Bridge.OpTimeout,
			WriteTimeout: p.cfg.Bridge.OpTimeout,
		})
		p.store = history.NewRedisStore(p.redis, opts)
	}
}

// sweep drops expired in-memory collections that are never read again.
func (p *RelayPlugin) sweep(ctx context.Context, mem *history.MemoryStore, every time.Duration) {
	defer p.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := mem.Sweep(); n > 0 {
				p.logger.Debug().Int("expired", n).Msg("history swept")
			}
		}
	}
}

func (p *RelayPlugin) initBridge(ctx context.Context) error {
	opts := bridge.OptionsFrom(p.cfg.Bridge)

	var b bridge.Bridge
	switch p.cfg.Bridge.Driver {
	case config.DriverNATS:
		b = bridge.NewNATSBridge(p.cfg.NATS, opts, p.hub, p.logger)
	case config.DriverMemory:
		p.bus = bridge.NewMemoryBus(opts.OutboxSize)
		b = bridge.NewMemoryBridge(p.bus, p.hub, p.logger)
	default:
		b = bridge.NewRedisBridge(p.cfg.Redis, opts, p.hub, p.logger)
	}

	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("start %s bridge: %w", p.cfg.Bridge.Driver, err)
	}
	p.bridge = b
	p.hub.SetBridge(b)
	if !b.Available() {
		p.logger.Warn().Str("bridge", p.cfg.Bridge.Driver).Msg("bridge not connected yet, running degraded")
	}
	return nil
}

// Deactivate stops the hub, then the bridge and the history backend.
func (p *RelayPlugin) Deactivate() error {
	if !p.active {
		return nil
	}
	p.active = false

	p.hub.Stop()
	<-p.hubDone

	var errs []error
	if p.bridge != nil {
		if err := p.bridge.Stop(); err != nil {
			p.logger.Error().Err(err).Msg("bridge stop error")
			errs = append(errs, err)
		}
	}
	if p.bus != nil {
		p.bus.Close()
	}
	p.cancel()
	p.wg.Wait()
	if p.redis != nil {
		if err := p.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("history client: %w", err))
		}
	}
	p.logger.Info().Str("plugin", p.ID()).Msg("relay deactivated")
	return errors.Join(errs...)
}
