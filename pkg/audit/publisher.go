package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Publisher delivers audit events to wherever the deployment keeps its
// trail. Publishing is best-effort from the engine's point of view: a bus
// failure is logged by the caller, never allowed to fail an execution.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// WatermillPublisher publishes audit events on a watermill message bus.
type WatermillPublisher struct {
	publisher message.Publisher
}

// NewWatermillPublisher wraps a watermill publisher (kafka or gochannel).
func NewWatermillPublisher(publisher message.Publisher) *WatermillPublisher {
	return &WatermillPublisher{publisher: publisher}
}

func (p *WatermillPublisher) Publish(_ context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	msg := message.NewMessage("audit-"+watermill.NewULID(), payload)
	msg.Metadata.Set("event_type", string(event.Type))
	msg.Metadata.Set("org_id", event.OrgID)

	return p.publisher.Publish(Topic, msg)
}

func (p *WatermillPublisher) Close() error {
	return p.publisher.Close()
}

// MemoryPublisher records events in memory. Used in tests and as the default
// when no bus is configured.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) Publish(_ context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

func (p *MemoryPublisher) Close() error { return nil }

// Events returns a snapshot of everything published so far.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]Event(nil), p.events...)
}

// EventsOfType filters the recorded events by type.
func (p *MemoryPublisher) EventsOfType(eventType EventType) []Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	var filtered []Event

	for _, event := range p.events {
		if event.Type == eventType {
			filtered = append(filtered, event)
		}
	}

	return filtered
}
