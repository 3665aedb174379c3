// Package broadcast pushes supervisor status to Server-Sent Events clients.
package broadcast

import (
	"context"
	"errors"
	"time"
)

// Event types.
const (
	EventTypeStatus    = "scrape_status_update"
	EventTypeConnected = "connected"
)

// Defaults.
const (
	DefaultEventBufferSize   = 256
	DefaultClientBufferSize  = 32
	DefaultHeartbeatInterval = 15 * time.Second
	DefaultShutdownTimeout   = 5 * time.Second
	DefaultMaxClients        = 100
)

// ErrTooManyClients is returned by Subscribe when the client cap is reached.
var ErrTooManyClients = errors.New("broadcast: too many clients")

// ErrNotRunning is returned by Publish before Start or after Stop.
var ErrNotRunning = errors.New("broadcast: broker not running")

// Event is one SSE frame: "event: <Type>\nid: <ID>\ndata: <json>\n\n".
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
	ID   string `json:"id,omitempty"`
}

// Publisher sends events to every subscriber.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Broker fans published events out to subscribed clients.
type Broker interface {
	Publisher
	// Subscribe registers a client. The channel closes when ctx ends, the
	// client falls behind, or the broker stops. cleanup is idempotent.
	Subscribe(ctx context.Context) (events <-chan Event, cleanup func(), err error)
	// Start launches the distribution loop.
	Start(ctx context.Context) error
	// Stop disconnects every client and waits for the loop to exit.
	Stop() error
	// ClientCount reports connected clients.
	ClientCount() int
}

// Config holds broker tuning.
type Config struct {
	EventBufferSize   int           `mapstructure:"event_buffer"`
	ClientBufferSize  int           `mapstructure:"client_buffer"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	MaxClients        int           `mapstructure:"max_clients"`
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		EventBufferSize:   DefaultEventBufferSize,
		ClientBufferSize:  DefaultClientBufferSize,
		HeartbeatInterval: DefaultHeartbeatInterval,
		ShutdownTimeout:   DefaultShutdownTimeout,
		MaxClients:        DefaultMaxClients,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.EventBufferSize <= 0 {
		c.EventBufferSize = d.EventBufferSize
	}
	if c.ClientBufferSize <= 0 {
		c.ClientBufferSize = d.ClientBufferSize
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	if c.MaxClients < 0 {
		c.MaxClients = 0
	}
	return c
}
