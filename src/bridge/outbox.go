package bridge

import (
	"context"
	"sync"
	"time"
)

// outbox serializes publishes through a single worker so callers never wait
// on the network and payloads leave in the order they were queued.
type outbox struct {
	queue    chan []byte
	timeout  time.Duration
	send     func(ctx context.Context, payload []byte) error
	onResult func(err error)

	mu     sync.RWMutex
	closed bool
}

func newOutbox(size int, timeout time.Duration, send func(context.Context, []byte) error, onResult func(error)) *outbox {
	if size <= 0 {
		size = 1
	}
	return &outbox{
		queue:    make(chan []byte, size),
		timeout:  timeout,
		send:     send,
		onResult: onResult,
	}
}

func (o *outbox) enqueue(payload []byte) error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return ErrStopped
	}
	select {
	case o.queue <- payload:
		return nil
	default:
		return ErrOutboxFull
	}
}

// run drains the queue until ctx is done, then flushes what is left.
func (o *outbox) run(ctx context.Context) {
	for {
		select {
		case p := <-o.queue:
			o.deliver(ctx, p)
		case <-ctx.Done():
			o.mu.Lock()
			o.closed = true
			o.mu.Unlock()
			o.flush()
			return
		}
	}
}

func (o *outbox) flush() {
	for {
		select {
		case p := <-o.queue:
			o.deliver(context.Background(), p)
		default:
			return
		}
	}
}

func (o *outbox) deliver(parent context.Context, payload []byte) {
	ctx, cancel := context.WithTimeout(parent, o.timeout)
	err := o.send(ctx, payload)
	cancel()
	if o.onResult != nil {
		o.onResult(err)
	}
}
