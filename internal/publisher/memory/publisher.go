// Package memory keeps crawl events in process for tests and single-node runs.
package memory

import (
	"context"
	"strconv"
	"sync"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

// Message is one Publish call as seen by the bus.
type Message struct {
	ID      string
	Topic   string
	Payload any
}

// Publisher appends every publish to an in-memory log.
type Publisher struct {
	mu  sync.RWMutex
	log []Message
}

var _ crawler.Publisher = (*Publisher)(nil)

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish appends payload to the log. IDs are "memory-<n>" with n counting from 1.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := "memory-" + strconv.Itoa(len(p.log)+1)
	p.log = append(p.log, Message{ID: id, Topic: topic, Payload: payload})
	return id, nil
}

// Messages returns a copy of the log.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Message(nil), p.log...)
}

// Events returns the crawl events in publish order, ignoring other payloads.
func (p *Publisher) Events() []crawler.Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var events []crawler.Event
	for _, m := range p.log {
		if ev, ok := m.Payload.(crawler.Event); ok {
			events = append(events, ev)
		}
	}
	return events
}
