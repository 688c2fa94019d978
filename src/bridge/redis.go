package bridge

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/orchestra-mcp/relay/config"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisBridge relays payloads between relay instances via Redis pub/sub.
//
// A subscribed Redis connection cannot issue other commands, so the bridge
// holds two clients: one that only publishes and one that only subscribes.
type RedisBridge struct {
	pub        *redis.Client
	sub        *redis.Client
	opts       Options
	instanceID string
	target     Target
	logger     zerolog.Logger
	health     *healthTracker
	out        *outbox

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
	current *redis.PubSub
}

// NewRedisBridge creates a bridge that uses Redis pub/sub for cross-instance messaging.
func NewRedisBridge(cfg config.RedisConfig, opts Options, target Target, logger zerolog.Logger) *RedisBridge {
	id := uuid.New().String()
	newClient := func(role string) *redis.Client {
		return redis.NewClient(&redis.Options{
			Addr:         cfg.Addr,
			Password:     cfg.Password,
			DB:           cfg.DB,
			ClientName:   "relay-" + role + "-" + id[:8],
			DialTimeout:  opts.OpTimeout,
			ReadTimeout:  opts.OpTimeout,
			WriteTimeout: opts.OpTimeout,
		})
	}

	b := &RedisBridge{
		pub:        newClient("pub"),
		sub:        newClient("sub"),
		opts:       opts,
		instanceID: id,
		target:     target,
		logger:     logger.With().Str("component", "redis-bridge").Str("instance_id", id).Logger(),
	}
	b.health = newHealthTracker(config.DriverRedis, id, b.logger)
	b.out = newOutbox(opts.OutboxSize, opts.OpTimeout, b.send, b.published)
	return b
}

// InstanceID identifies this bridge in logs and health output.
func (b *RedisBridge) InstanceID() string { return b.instanceID }

// Start launches the publisher, the supervised subscription and the health pinger.
func (b *RedisBridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}
	b.started = true

	ctx, b.cancel = context.WithCancel(ctx)
	b.wg.Add(3)
	go func() {
		defer b.wg.Done()
		b.out.run(ctx)
	}()
	go b.subscribeLoop(ctx)
	go b.pingLoop(ctx)

	b.logger.Info().Str("channel", b.opts.Channel).Msg("redis bridge started")
	return nil
}

// Publish queues a payload for the shared channel.
func (b *RedisBridge) Publish(ctx context.Context, payload []byte) error {
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

// Stop unsubscribes, flushes the outbox and closes both clients.
func (b *RedisBridge) Stop() error {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return nil
	}
	b.started = false
	b.cancel()
	if b.current != nil {
		_ = b.current.Close()
	}
	b.mu.Unlock()

	b.wg.Wait()
	b.health.stopped()
	return errors.Join(b.pub.Close(), b.sub.Close())
}

// Available reports whether both sides are connected.
func (b *RedisBridge) Available() bool { return b.health.ok() }

// Health returns a snapshot of the connection state.
func (b *RedisBridge) Health() Health { return b.health.snapshot() }

func (b *RedisBridge) send(ctx context.Context, payload []byte) error {
	return b.pub.Publish(ctx, b.opts.Channel, payload).Err()
}

func (b *RedisBridge) published(err error) {
	if err != nil {
		b.health.dropped()
		b.health.set(SidePublisher, StateDown, err)
		b.logger.Error().Err(err).Msg("publish failed")
		return
	}
	b.health.set(SidePublisher, StateUp, nil)
}

// pingLoop pings the publishing client: every HealthInterval while up,
// with backoff while down.
func (b *RedisBridge) pingLoop(ctx context.Context) {
	defer b.wg.Done()
	bo := newBackoff(b.opts.ReconnectBaseWait, b.opts.ReconnectMaxWait)
	for {
		pctx, cancel := context.WithTimeout(ctx, b.opts.OpTimeout)
		err := b.pub.Ping(pctx).Err()
		cancel()
		if ctx.Err() != nil {
			return
		}

		wait := b.opts.HealthInterval
		if err != nil {
			b.health.set(SidePublisher, StateDown, err)
			wait = bo.next()
		} else {
			b.health.set(SidePublisher, StateUp, nil)
			bo.reset()
		}
		if !sleepCtx(ctx, wait) {
			return
		}
	}
}

// subscribeLoop keeps a subscription alive, reconnecting with exponential backoff.
func (b *RedisBridge) subscribeLoop(ctx context.Context) {
	defer b.wg.Done()
	bo := newBackoff(b.opts.ReconnectBaseWait, b.opts.ReconnectMaxWait)
	for {
		subscribed, err := b.consume(ctx)
		if ctx.Err() != nil {
			return
		}
		if subscribed {
			bo.reset()
		}
		b.health.set(SideSubscriber, StateDown, err)
		if !sleepCtx(ctx, bo.next()) {
			return
		}
	}
}

// consume runs one subscription until it fails. It reports whether the
// subscription was confirmed before failing.
func (b *RedisBridge) consume(ctx context.Context) (bool, error) {
	ps := b.sub.Subscribe(ctx, b.opts.Channel)
	b.mu.Lock()
	b.current = ps
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.current = nil
		b.mu.Unlock()
		_ = ps.Close()
	}()

	cctx, cancel := context.WithTimeout(ctx, b.opts.OpTimeout)
	_, err := ps.Receive(cctx)
	cancel()
	if err != nil {
		return false, err
	}
	b.health.set(SideSubscriber, StateUp, nil)

	pinged := false
	for {
		msg, err := ps.ReceiveTimeout(ctx, b.opts.HealthInterval)
		if err != nil {
			if ctx.Err() != nil {
				return true, ctx.Err()
			}
			if !isTimeout(err) {
				return true, err
			}
			// Quiet channel: ping once, and give up if the next wait is also silent.
			if pinged {
				return true, errPingTimeout
			}
			pctx, cancel := context.WithTimeout(ctx, b.opts.OpTimeout)
			err = ps.Ping(pctx)
			cancel()
			if err != nil {
				return true, err
			}
			pinged = true
			continue
		}
		pinged = false

		switch m := msg.(type) {
		case *redis.Message:
			b.logger.Debug().Int("bytes", len(m.Payload)).Msg("relaying message from redis")
			b.target.Relay([]byte(m.Payload))
		case *redis.Subscription, *redis.Pong:
		}
	}
}

var errPingTimeout = errors.New("subscription ping timed out")

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
