// Package notify fans pipeline events out to live subscribers.
//
// Delivery is at-most-once: Emit never blocks, and a subscriber whose buffer is
// full misses the event. Clients recover by re-fetching listings.
package notify

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/mlbrnm/incidentgpt/pkg/models"
)

const DefaultBuffer = 32

// Subscription is one subscriber's event stream. C is closed on Unsubscribe.
type Subscription struct {
	ID string
	C  <-chan models.Event
}

type Hub struct {
	mu      sync.RWMutex
	subs    map[string]chan models.Event
	buffer  int
	sent    atomic.Uint64
	dropped atomic.Uint64
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{subs: make(map[string]chan models.Event), buffer: buffer}
}

func (h *Hub) Subscribe() Subscription {
	ch := make(chan models.Event, h.buffer)
	id := uuid.NewString()
	h.mu.Lock()
	h.subs[id] = ch
	h.mu.Unlock()
	return Subscription{ID: id, C: ch}
}

// Unsubscribe removes the subscriber and closes its channel. Unknown ids are ignored.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

// Emit delivers event to every subscriber with room in its buffer.
func (h *Hub) Emit(event models.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- event:
			h.sent.Add(1)
		default:
			h.dropped.Add(1)
		}
	}
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Sent and Dropped count per-subscriber deliveries since the hub was created.
func (h *Hub) Sent() uint64    { return h.sent.Load() }
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }
