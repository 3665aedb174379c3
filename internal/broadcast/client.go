package broadcast

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// client is one subscriber.
type client struct {
	id     string
	events chan Event
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

func newClient(ctx context.Context, bufferSize int) *client {
	cctx, cancel := context.WithCancel(ctx)
	return &client{
		id:     uuid.NewString(),
		events: make(chan Event, bufferSize),
		ctx:    cctx,
		cancel: cancel,
	}
}

// send delivers without blocking and reports false when the buffer is full.
// A closed client reports true so it is not evicted twice.
func (c *client) send(event Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.events <- event:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.cancel()
	close(c.events)
}
