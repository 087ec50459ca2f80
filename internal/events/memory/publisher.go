// Package memory contains an in-memory events.Publisher for dry runs and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/tender-watch/internal/events"
)

// Publisher stores published events for inspection.
type Publisher struct {
	mu     sync.RWMutex
	events []events.Event
}

var _ events.Publisher = (*Publisher)(nil)

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the event and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, evt events.Event) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return fmt.Sprintf("memory-%d", len(p.events)), nil
}

// Events returns a copy of the recorded events.
func (p *Publisher) Events() []events.Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]events.Event, len(p.events))
	copy(out, p.events)
	return out
}
