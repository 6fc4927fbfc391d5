package api

import (
	"sync"

	"github.com/ICKelin/vpnbook/src/internal/logs"
	"github.com/ICKelin/vpnbook/src/vpnbook/event"
	metrics "github.com/rcrowley/go-metrics"
)

const subscriberBuffer = 64

// Hub fans events out to websocket subscribers. A subscriber that does not
// keep up loses events instead of stalling the others.
type Hub struct {
	mu      sync.RWMutex
	clients map[chan event.Event]struct{}
	dropped metrics.Counter
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[chan event.Event]struct{}),
		dropped: metrics.NewCounter(),
	}
}

// Publish never blocks, it has the event.Handler signature.
func (h *Hub) Publish(e event.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client <- e:
		default:
			h.dropped.Inc(1)
			logs.Debug("event subscriber full, drop %s event", e.Kind)
		}
	}
}

// Dropped counts events lost by slow subscribers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Count()
}

func (h *Hub) Subscribe() chan event.Event {
	ch := make(chan event.Event, subscriberBuffer)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan event.Event) {
	h.mu.Lock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
	h.mu.Unlock()
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
