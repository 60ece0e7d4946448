package conn

import (
	"context"
	"sync"
)

type subscription struct {
	event string
	id    uint64
}

// Conn is one consumer's handle on the shared connection. Listeners
// attached through it are detached when it is released.
type Conn struct {
	m *Manager

	mu       sync.Mutex
	released bool
	subs     []subscription
	once     sync.Once
}

// On attaches h to event and returns a function that detaches it. Listeners
// survive reconnects. Attaching to a released handle is a no-op.
func (c *Conn) On(event string, h Handler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return func() {}
	}
	id := c.m.on(event, h)
	c.subs = append(c.subs, subscription{event: event, id: id})
	return func() { c.m.off(event, id) }
}

// Emit writes one event to the backend. It fails with ErrNotConnected while
// the connection is down.
func (c *Conn) Emit(ctx context.Context, event string, v any) error {
	return c.m.emit(ctx, event, v)
}

func (c *Conn) Connected() bool { return c.m.Connected() }

// Release detaches this handle's listeners and drops its reference. Safe to
// call more than once.
func (c *Conn) Release() {
	c.once.Do(func() {
		c.mu.Lock()
		c.released = true
		subs := c.subs
		c.subs = nil
		c.mu.Unlock()

		for _, s := range subs {
			c.m.off(s.event, s.id)
		}
		c.m.release()
	})
}
