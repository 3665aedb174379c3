package broadcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

type broker struct {
	cfg     Config
	logger  *zap.Logger
	publish chan Event

	mu      sync.RWMutex
	clients map[string]*client
	running bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBroker builds a Broker. Call Start before publishing.
func NewBroker(cfg Config, logger *zap.Logger) Broker {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &broker{
		cfg:     cfg,
		logger:  logger.Named("broadcast"),
		publish: make(chan Event, cfg.EventBufferSize),
		clients: make(map[string]*client),
	}
}

func (b *broker) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return fmt.Errorf("broker already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.running = true

	b.wg.Add(1)
	go b.loop(loopCtx)

	b.logger.Info("status broadcaster started",
		zap.Int("client_buffer", b.cfg.ClientBufferSize),
		zap.Int("max_clients", b.cfg.MaxClients))
	return nil
}

func (b *broker) Stop() error {
	b.mu.Lock()
	cancel := b.cancel
	b.running = false
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		b.logger.Info("status broadcaster stopped")
		return nil
	case <-time.After(b.cfg.ShutdownTimeout):
		return fmt.Errorf("broker shutdown timed out after %s", b.cfg.ShutdownTimeout)
	}
}

func (b *broker) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	running := b.running
	b.mu.RUnlock()
	if !running {
		return ErrNotRunning
	}
	select {
	case b.publish <- event:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("publish cancelled: %w", ctx.Err())
	default:
		return fmt.Errorf("publish buffer full, dropped %s", event.Type)
	}
}

func (b *broker) Subscribe(ctx context.Context) (<-chan Event, func(), error) {
	b.mu.Lock()
	if b.cfg.MaxClients > 0 && len(b.clients) >= b.cfg.MaxClients {
		n := len(b.clients)
		b.mu.Unlock()
		b.logger.Warn("rejecting status stream client", zap.Int("clients", n))
		return nil, func() {}, ErrTooManyClients
	}
	c := newClient(ctx, b.cfg.ClientBufferSize)
	b.clients[c.id] = c
	b.mu.Unlock()

	go func() {
		<-c.ctx.Done()
		b.remove(c.id)
	}()

	return c.events, func() { b.remove(c.id) }, nil
}

func (b *broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *broker) loop(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case event := <-b.publish:
			b.broadcast(event)
		case <-ctx.Done():
			b.disconnectAll()
			return
		}
	}
}

func (b *broker) broadcast(event Event) {
	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		if !c.send(event) {
			b.logger.Warn("status stream client too slow, disconnecting", zap.String("client_id", c.id))
			b.remove(c.id)
		}
	}
}

func (b *broker) remove(id string) {
	b.mu.Lock()
	c, ok := b.clients[id]
	delete(b.clients, id)
	b.mu.Unlock()
	if ok {
		c.close()
	}
}

func (b *broker) disconnectAll() {
	b.mu.Lock()
	clients := b.clients
	b.clients = make(map[string]*client)
	b.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
	if len(clients) > 0 {
		b.logger.Info("status stream clients disconnected", zap.Int("count", len(clients)))
	}
}
