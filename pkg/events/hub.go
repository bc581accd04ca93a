// Package events delivers billing domain events to downstream consumers.
// The in-memory Hub serves tests and single-process deployments; the Redis
// publisher fans events out to the notification and UI services.
package events

import (
	"context"
	"sync"

	"github.com/crewtube/billing/pkg/billing"
)

// Hub is an in-memory billing.Publisher that fans events out to local
// subscribers. Slow consumers drop events rather than block the publisher;
// billing state has already committed by the time an event is published.
type Hub struct {
	mu     sync.RWMutex
	subs   map[int]chan billing.Event
	nextID int
	closed bool
	buffer int
}

// NewHub creates a hub whose subscriber channels buffer up to buffer events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{subs: make(map[int]chan billing.Event), buffer: buffer}
}

// Subscribe registers a consumer. The returned cancel function removes the
// subscription and closes the channel; the subscription is also removed when
// ctx is cancelled.
func (h *Hub) Subscribe(ctx context.Context) (<-chan billing.Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan billing.Event, h.buffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}

	id := h.nextID
	h.nextID++
	h.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(ch)
			}
		})
	}

	if ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber, dropping it for any whose
// buffer is full.
func (h *Hub) Publish(ctx context.Context, event billing.Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subs {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

// Close shuts down the hub and closes all subscriber channels.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
	return nil
}
