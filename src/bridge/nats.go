package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/orchestra-mcp/relay/config"
	"github.com/rs/zerolog"
)

// NATSBridge relays payloads through a NATS subject. Like RedisBridge it
// keeps separate connections for publishing and subscribing; reconnects are
// driven by the client library using the bridge's backoff schedule.
type NATSBridge struct {
	cfg        config.NATSConfig
	opts       Options
	instanceID string
	target     Target
	logger     zerolog.Logger
	health     *healthTracker
	out        *outbox

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	started      bool
	pub          *nats.Conn
	sub          *nats.Conn
	subscription *nats.Subscription
}

// NewNATSBridge creates a bridge over a NATS server.
func NewNATSBridge(cfg config.NATSConfig, opts Options, target Target, logger zerolog.Logger) *NATSBridge {
	id := uuid.New().String()
	b := &NATSBridge{
		cfg:        cfg,
		opts:       opts,
		instanceID: id,
		target:     target,
		logger:     logger.With().Str("component", "nats-bridge").Str("instance_id", id).Logger(),
	}
	b.health = newHealthTracker(config.DriverNATS, id, b.logger)
	b.out = newOutbox(opts.OutboxSize, opts.OpTimeout, b.send, b.published)
	return b
}

// connOptions builds the options for one side. Both sides retry forever.
func (b *NATSBridge) connOptions(side Side) []nats.Option {
	bo := newBackoff(b.opts.ReconnectBaseWait, b.opts.ReconnectMaxWait)
	return []nats.Option{
		nats.Name(fmt.Sprintf("%s-%s-%s", b.cfg.Name, side, b.instanceID[:8])),
		nats.Timeout(b.opts.OpTimeout),
		nats.MaxReconnects(-1),
		nats.RetryOnFailedConnect(true),
		nats.CustomReconnectDelay(func(attempts int) time.Duration {
			return bo.delay(attempts)
		}),
		nats.ConnectHandler(func(*nats.Conn) {
			b.health.set(side, StateUp, nil)
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err == nil {
				err = nats.ErrConnectionClosed
			}
			b.health.set(side, StateDown, err)
		}),
		nats.ReconnectHandler(func(*nats.Conn) {
			b.health.set(side, StateUp, nil)
		}),
	}
}

// Start dials both connections and subscribes. A server that is not yet
// reachable is retried in the background.
func (b *NATSBridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}

	pub, err := nats.Connect(b.cfg.URL, b.connOptions(SidePublisher)...)
	if err != nil {
		return fmt.Errorf("nats publisher: %w", err)
	}
	sub, err := nats.Connect(b.cfg.URL, b.connOptions(SideSubscriber)...)
	if err != nil {
		pub.Close()
		return fmt.Errorf("nats subscriber: %w", err)
	}
	subscription, err := sub.Subscribe(b.opts.Channel, func(m *nats.Msg) {
		b.target.Relay(m.Data)
	})
	if err != nil {
		pub.Close()
		sub.Close()
		return fmt.Errorf("nats subscribe %s: %w", b.opts.Channel, err)
	}

	b.pub, b.sub, b.subscription = pub, sub, subscription
	if pub.IsConnected() {
		b.health.set(SidePublisher, StateUp, nil)
	}
	if sub.IsConnected() {
		b.health.set(SideSubscriber, StateUp, nil)
	}

	ctx, b.cancel = context.WithCancel(ctx)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.out.run(ctx)
	}()
	b.started = true

	b.logger.Info().Str("subject", b.opts.Channel).Str("url", b.cfg.URL).Msg("nats bridge started")
	return nil
}

// Publish queues a payload for the shared subject.
func (b *NATSBridge) Publish(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	started := b.started
	b.mu.Unlock()
	if !started {
		return ErrUnavailable
	}
	if err := b.out.enqueue(payload); err != nil {
		b.health.dropped()
		return err
	}
	return nil
}

// Stop flushes the outbox, unsubscribes and closes both connections.
func (b *NATSBridge) Stop() error {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return nil
	}
	b.cancel()
	b.mu.Unlock()

	b.wg.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()
	err := b.subscription.Unsubscribe()
	if errors.Is(err, nats.ErrConnectionClosed) {
		err = nil
	}
	b.pub.Close()
	b.sub.Close()
	b.started = false
	b.health.stopped()
	return err
}

// Available reports whether both sides are connected.
func (b *NATSBridge) Available() bool { return b.health.ok() }

// Health returns a snapshot of the connection state.
func (b *NATSBridge) Health() Health { return b.health.snapshot() }

func (b *NATSBridge) send(_ context.Context, payload []byte) error {
	b.mu.Lock()
	pub := b.pub
	b.mu.Unlock()
	return pub.Publish(b.opts.Channel, payload)
}

func (b *NATSBridge) published(err error) {
	if err != nil {
		b.health.dropped()
		b.logger.Error().Err(err).Msg("publish failed")
	}
}
