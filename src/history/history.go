// Package history keeps a short, expiring log of addressed messages per user
// so a reconnecting client can catch up.
//
// Each user identity owns one collection scored by millisecond timestamp.
// Every append resets the collection's expiry (sliding TTL) and trims it to
// the most recent Len entries. Replay returns up to ReplayWindow entries,
// oldest first.
package history

import (
	"context"
	"time"
)

// Defaults match the relay's historical behavior.
const (
	DefaultLen          = 5
	DefaultTTL          = 20 * time.Second
	DefaultReplayWindow = 11
	DefaultKeyPrefix    = "nl:"
)

// Store is the per-user bounded history.
type Store interface {
	// Append records payload for uid scored by ts (milliseconds).
	Append(ctx context.Context, uid string, payload []byte, ts int64) error

	// Replay returns the stored payloads for uid, oldest first. An unknown
	// or expired uid yields an empty slice.
	Replay(ctx context.Context, uid string) ([][]byte, error)
}

// Options bounds a Store.
type Options struct {
	Len          int
	TTL          time.Duration
	ReplayWindow int
	KeyPrefix    string
}

// DefaultOptions returns the stock bounds.
func DefaultOptions() Options {
	return Options{
		Len:          DefaultLen,
		TTL:          DefaultTTL,
		ReplayWindow: DefaultReplayWindow,
		KeyPrefix:    DefaultKeyPrefix,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Len <= 0 {
		o.Len = d.Len
	}
	if o.TTL <= 0 {
		o.TTL = d.TTL
	}
	if o.ReplayWindow <= 0 {
		o.ReplayWindow = d.ReplayWindow
	}
	if o.KeyPrefix == "" {
		o.KeyPrefix = d.KeyPrefix
	}
	return o
}

// WindowExceedsLen reports whether Replay can ask for more entries than are
// ever retained.
func (o Options) WindowExceedsLen() bool {
	o = o.withDefaults()
	return o.ReplayWindow > o.Len
}
