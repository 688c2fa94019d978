package bridge

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State is the connection state of one side of a bridge.
type State string

const (
	StateConnecting State = "connecting"
	StateUp         State = "up"
	StateDown       State = "down"
	StateStopped    State = "stopped"
)

// Side names one of the two bridge connections.
type Side string

const (
	SidePublisher  Side = "publisher"
	SideSubscriber Side = "subscriber"
)

// Health is a point-in-time view of a bridge.
type Health struct {
	Driver     string    `json:"driver"`
	InstanceID string    `json:"instance_id"`
	Publisher  State     `json:"publisher"`
	Subscriber State     `json:"subscriber"`
	Reconnects uint64    `json:"reconnects"`
	Dropped    uint64    `json:"dropped"`
	LastError  string    `json:"last_error,omitempty"`
	Since      time.Time `json:"since"`
}

// OK reports whether both sides are up.
func (h Health) OK() bool {
	return h.Publisher == StateUp && h.Subscriber == StateUp
}

type healthTracker struct {
	mu     sync.RWMutex
	h      Health
	logger zerolog.Logger
}

func newHealthTracker(driver, instanceID string, logger zerolog.Logger) *healthTracker {
	return &healthTracker{
		h: Health{
			Driver:     driver,
			InstanceID: instanceID,
			Publisher:  StateConnecting,
			Subscriber: StateConnecting,
			Since:      time.Now(),
		},
		logger: logger,
	}
}

func (t *healthTracker) snapshot() Health {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.h
}

func (t *healthTracker) ok() bool {
	return t.snapshot().OK()
}

// set records a state change. Transitions are logged once, not per call.
func (t *healthTracker) set(side Side, state State, err error) {
	t.mu.Lock()
	cur := &t.h.Publisher
	if side == SideSubscriber {
		cur = &t.h.Subscriber
	}
	prev := *cur
	*cur = state
	if err != nil {
		t.h.LastError = err.Error()
	}
	if prev != state {
		t.h.Since = time.Now()
	}
	if prev == StateDown && state == StateUp {
		t.h.Reconnects++
	}
	t.mu.Unlock()

	if prev == state {
		return
	}
	ev := t.logger.Info()
	if state == StateDown {
		ev = t.logger.Warn().Err(err)
	}
	ev.Str("side", string(side)).
		Str("from", string(prev)).
		Str("to", string(state)).
		Msg("bridge state changed")
}

func (t *healthTracker) dropped() {
	t.mu.Lock()
	t.h.Dropped++
	t.mu.Unlock()
}

func (t *healthTracker) stopped() {
	t.set(SidePublisher, StateStopped, nil)
	t.set(SideSubscriber, StateStopped, nil)
}
