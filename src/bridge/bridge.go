package bridge

import (
	"context"
	"errors"
)

var (
	ErrUnavailable = errors.New("bridge unavailable")
	ErrOutboxFull  = errors.New("bridge outbox full")
	ErrStopped     = errors.New("bridge stopped")
)

// Bridge defines the interface for cross-instance message fan-out.
// Every instance, including the publisher, receives each payload through
// its own subscription.
type Bridge interface {
	// Start connects both sides and begins relaying payloads to the target.
	// Connectivity failures are not returned; they show up in Health and
	// are retried in the background.
	Start(ctx context.Context) error

	// Publish queues a payload for the shared channel. It never blocks on the network.
	Publish(ctx context.Context, payload []byte) error

	// Stop shuts down both connections.
	Stop() error

	// Available reports whether both sides are connected.
	Available() bool

	// Health returns a snapshot of the connection state.
	Health() Health
}

// Target receives every payload that arrives on the shared channel.
type Target interface {
	Relay(payload []byte)
}

// TargetFunc adapts a function to Target.
type TargetFunc func(payload []byte)

func (f TargetFunc) Relay(payload []byte) { f(payload) }
