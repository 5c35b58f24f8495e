// Package publish fans alerts out to live subscribers. Delivery is
// best-effort: a slow or absent subscriber never blocks the alerting
// path, and there is no retry or replay - late subscribers reconcile by
// pulling recent alerts from the store.
package publish

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/wardwatch/internal/alert"
)

// DefaultBuffer is the per-subscriber channel depth.
const DefaultBuffer = 16

// Publisher receives newly created or mutated alerts. Implementations
// must not fail the caller.
type Publisher interface {
	Publish(ctx context.Context, a *alert.Alert)
}

// Fanout publishes to every member in order.
type Fanout []Publisher

// Publish implements Publisher.
func (f Fanout) Publish(ctx context.Context, a *alert.Alert) {
	for _, p := range f {
		p.Publish(ctx, a)
	}
}

// Hub distributes alerts to in-process subscribers over buffered
// channels.
type Hub struct {
	mu      sync.Mutex
	subs    map[*Subscription]struct{}
	logger  log.Logger
	dropped atomic.Int64
	closed  bool
}

// Subscription is one live listener's feed. Close it when done or the
// hub keeps delivering into its buffer.
type Subscription struct {
	ch  chan *alert.Alert
	hub *Hub
}

// C is the subscriber's receive channel. It is closed when the
// subscription or the hub shuts down.
func (s *Subscription) C() <-chan *alert.Alert { return s.ch }

// Close detaches the subscription from the hub.
func (s *Subscription) Close() { s.hub.unsubscribe(s) }

// NewHub creates an empty hub.
func NewHub(logger log.Logger) *Hub {
	if logger == nil {
		logger = log.Nop()
	}
	return &Hub{subs: make(map[*Subscription]struct{}), logger: logger}
}

// Subscribe attaches a new listener. A buffer <= 0 uses DefaultBuffer.
func (h *Hub) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	sub := &Subscription{ch: make(chan *alert.Alert, buffer), hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.ch)
		return sub
	}
	h.subs[sub] = struct{}{}
	return sub
}

// Publish delivers the alert to every subscriber without blocking. A
// subscriber whose buffer is full misses the event.
func (h *Hub) Publish(ctx context.Context, a *alert.Alert) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for sub := range h.subs {
		select {
		case sub.ch <- a:
		default:
			h.dropped.Add(1)
			h.logger.Warn(ctx, "subscriber buffer full, dropping alert event",
				"alert_id", a.ID, "level", string(a.Level))
		}
	}
}

// Dropped reports how many deliveries were skipped over full buffers.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Subscribers reports the current listener count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close shuts the hub down, closing every subscriber channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		close(sub.ch)
		delete(h.subs, sub)
	}
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.ch)
}
