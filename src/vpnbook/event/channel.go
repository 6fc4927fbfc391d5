package event

import (
	"context"
	"sync"
	"time"
)

// DefaultTick is the consumer polling period.
const DefaultTick = 100 * time.Millisecond

// Publisher is the producer side of a Channel.
type Publisher interface {
	Push(e Event)
}

// Channel is an unbounded, order preserving multi-producer single-consumer
// queue. Push never blocks, reads never block.
type Channel struct {
	mu    sync.Mutex
	items []Event
}

func NewChannel() *Channel {
	return &Channel{}
}

func (c *Channel) Push(e Event) {
	c.mu.Lock()
	c.items = append(c.items, e)
	c.mu.Unlock()
}

// TryRecv pops the oldest event if there is one.
func (c *Channel) TryRecv() (Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.items) == 0 {
		return Event{}, false
	}
	e := c.items[0]
	c.items[0] = Event{}
	c.items = c.items[1:]
	return e, true
}

// Drain pops everything queued at call time, oldest first.
func (c *Channel) Drain() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.items) == 0 {
		return nil
	}
	items := c.items
	c.items = nil
	return items
}

func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Handler consumes events on the pump goroutine.
type Handler func(e Event)

// Pump is the consumer loop: every tick it drains the events available
// at that tick and hands them to handlers in order. It returns when ctx is
// done, after a last drain.
func Pump(ctx context.Context, ch *Channel, tick time.Duration, handlers ...Handler) {
	if tick <= 0 {
		tick = DefaultTick
	}
	timer := time.NewTimer(tick)
	defer timer.Stop()

	dispatch := func() {
		for _, e := range ch.Drain() {
			for _, h := range handlers {
				h(e)
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			dispatch()
			return
		case <-timer.C:
			dispatch()
			timer.Reset(tick)
		}
	}
}
