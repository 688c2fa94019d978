package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/orchestra-mcp/relay/config"
	"github.com/rs/zerolog"
)

// MemoryBus is an in-process shared channel. Several MemoryBridges attached
// to one bus behave like relay instances sharing a broker.
type MemoryBus struct {
	out    *outbox
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.RWMutex
	members map[*MemoryBridge]struct{}
}

// NewMemoryBus starts a bus whose delivery worker runs until Close.
func NewMemoryBus(size int) *MemoryBus {
	ctx, cancel := context.WithCancel(context.Background())
	bus := &MemoryBus{
		cancel:  cancel,
		done:    make(chan struct{}),
		members: make(map[*MemoryBridge]struct{}),
	}
	bus.out = newOutbox(size, time.Second, bus.deliver, nil)
	go func() {
		defer close(bus.done)
		bus.out.run(ctx)
	}()
	return bus
}

// Close stops the delivery worker after flushing queued payloads.
func (bus *MemoryBus) Close() {
	bus.cancel()
	<-bus.done
}

func (bus *MemoryBus) deliver(_ context.Context, payload []byte) error {
	bus.mu.RLock()
	members := make([]*MemoryBridge, 0, len(bus.members))
	for m := range bus.members {
		members = append(members, m)
	}
	bus.mu.RUnlock()

	for _, m := range members {
		m.receive(payload)
	}
	return nil
}

func (bus *MemoryBus) attach(b *MemoryBridge) {
	bus.mu.Lock()
	bus.members[b] = struct{}{}
	bus.mu.Unlock()
}

func (bus *MemoryBus) detach(b *MemoryBridge) {
	bus.mu.Lock()
	delete(bus.members, b)
	bus.mu.Unlock()
}

// MemoryBridge is a Bridge over a MemoryBus.
type MemoryBridge struct {
	bus        *MemoryBus
	instanceID string
	target     Target
	logger     zerolog.Logger
	health     *healthTracker

	mu      sync.RWMutex
	started bool
	down    bool
}

// NewMemoryBridge creates a bridge attached to bus once started.
func NewMemoryBridge(bus *MemoryBus, target Target, logger zerolog.Logger) *MemoryBridge {
	id := uuid.New().String()
	b := &MemoryBridge{
		bus:        bus,
		instanceID: id,
		target:     target,
		logger:     logger.With().Str("component", "memory-bridge").Str("instance_id", id).Logger(),
	}
	b.health = newHealthTracker(config.DriverMemory, id, b.logger)
	return b
}

func (b *MemoryBridge) Start(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}
	b.started = true
	b.bus.attach(b)
	b.health.set(SidePublisher, StateUp, nil)
	b.health.set(SideSubscriber, StateUp, nil)
	return nil
}

func (b *MemoryBridge) Publish(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	started, down := b.started, b.down
	b.mu.RUnlock()
	if !started || down {
		b.health.dropped()
		return ErrUnavailable
	}
	if err := b.bus.out.enqueue(append([]byte(nil), payload...)); err != nil {
		b.health.dropped()
		return err
	}
	return nil
}

func (b *MemoryBridge) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return nil
	}
	b.started = false
	b.bus.detach(b)
	b.health.stopped()
	return nil
}

func (b *MemoryBridge) Available() bool { return b.health.ok() }

func (b *MemoryBridge) Health() Health { return b.health.snapshot() }

// SetDown simulates losing both broker connections. While down, publishes
// fail and nothing is received.
func (b *MemoryBridge) SetDown(down bool) {
	b.mu.Lock()
	b.down = down
	b.mu.Unlock()

	state := StateUp
	var err error
	if down {
		state, err = StateDown, ErrUnavailable
	}
	b.health.set(SidePublisher, state, err)
	b.health.set(SideSubscriber, state, err)
}

func (b *MemoryBridge) receive(payload []byte) {
	b.mu.RLock()
	down := b.down
	b.mu.RUnlock()
	if down {
		return
	}
	b.target.Relay(payload)
}
