// Package memory records published progress messages in process. Tests use
// it in place of Pub/Sub.
package memory

import (
	"context"
	"maps"
	"strconv"
	"sync"
)

// PublishedMessage is one recorded Publish call.
type PublishedMessage struct {
	ID         string
	Attributes map[string]string
	Payload    any
}

// Publisher keeps every message it is given. Setting Err makes subsequent
// publishes fail with it.
type Publisher struct {
	mu   sync.Mutex
	msgs []PublishedMessage
	err  error
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// FailWith makes every later Publish return err; nil restores success.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// Publish records the message under a sequential id.
func (p *Publisher) Publish(_ context.Context, attrs map[string]string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	id := "mem-" + strconv.Itoa(len(p.msgs)+1)
	p.msgs = append(p.msgs, PublishedMessage{ID: id, Attributes: maps.Clone(attrs), Payload: payload})
	return id, nil
}

// Messages returns a copy of what has been published so far.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PublishedMessage(nil), p.msgs...)
}
