package checkout

import (
	"context"
	"sync"
	"time"
)

type EventType string

const (
	EventBorrowed EventType = "borrowed"
	EventReturned EventType = "returned"
	EventDeleted  EventType = "deleted"
	EventOverdue  EventType = "overdue"
)

// Event is emitted after a unit of work commits. Subscribers treat it as a hint to
// refresh; the ledger stays the source of truth.
type Event struct {
	Type          EventType `json:"type"`
	KeyID         string    `json:"keyId"`
	TeacherID     string    `json:"teacherId,omitempty"`
	TransactionID uint      `json:"transactionId,omitempty"`
	Actor         string    `json:"actor,omitempty"`
	At            time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) error { return nil }

// MemoryPublisher keeps published events in order. Used when Redis is not
// configured and in tests.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *MemoryPublisher) Publish(_ context.Context, ev Event) error {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
	return nil
}

func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}
