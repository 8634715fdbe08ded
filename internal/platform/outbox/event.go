// Package outbox is the transactional change feed. Services append an Event
// in the same transaction as the write it describes; the Relay later pushes
// pending events to every configured Sink.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

const (
	StatusPending   = "PENDING"
	StatusPublished = "PUBLISHED"
	StatusFailed    = "FAILED"
)

// Event is one row of outbox_events.
type Event struct {
	ID          int64           `json:"id"`
	Collection  string          `json:"collection"`
	DocumentID  string          `json:"documentId"`
	Op          string          `json:"op"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Status      string          `json:"-"`
	RetryCount  int             `json:"-"`
	DeliveredTo []string        `json:"-"`
	CreatedAt   time.Time       `json:"createdAt"`
	PublishedAt *time.Time      `json:"-"`
}

// Key identifies the document an event belongs to; sinks that partition use it.
func (e Event) Key() string {
	return e.Collection + "/" + e.DocumentID
}

// NewEvent marshals payload and builds a pending event.
func NewEvent(collection, documentID, op string, payload interface{}) (Event, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("marshal %s payload: %w", collection, err)
		}
		raw = b
	}
	return Event{
		Collection: collection,
		DocumentID: documentID,
		Op:         op,
		Payload:    raw,
		Status:     StatusPending,
	}, nil
}

// Recorder is what domain services depend on. Record must be called with the
// context of the enclosing transaction.
type Recorder interface {
	Record(ctx context.Context, collection, documentID, op string, payload interface{}) error
}

// Store persists and drains events.
type Store interface {
	Append(ctx context.Context, e *Event) error
	// Claim leases up to limit pending events until now+lease. A claimed
	// event is invisible to other relays until its lease runs out.
	Claim(ctx context.Context, limit, maxRetries int, now time.Time, lease time.Duration) ([]*Event, error)
	MarkPublished(ctx context.Context, id int64, at time.Time) error
	// MarkFailed releases the lease, records which sinks already have the
	// event and bumps its retry count.
	MarkFailed(ctx context.Context, id int64, delivered []string, reason string, terminal bool) error
}

// deliveredTo reports whether sink already accepted e.
func (e *Event) deliveredTo(sink string) bool {
	for _, s := range e.DeliveredTo {
		if s == sink {
			return true
		}
	}
	return false
}

// StoreRecorder adapts a Store to the Recorder interface.
type StoreRecorder struct {
	Store Store
}

func (r StoreRecorder) Record(ctx context.Context, collection, documentID, op string, payload interface{}) error {
	e, err := NewEvent(collection, documentID, op, payload)
	if err != nil {
		return err
	}
	if err := r.Store.Append(ctx, &e); err != nil {
		return fmt.Errorf("append %s change: %w", collection, err)
	}
	return nil
}

// Discard drops every event. Used where no change feed is wanted.
type Discard struct{}

func (Discard) Record(context.Context, string, string, string, interface{}) error { return nil }

// MemoryRecorder keeps recorded events in memory.
type MemoryRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (m *MemoryRecorder) Record(_ context.Context, collection, documentID, op string, payload interface{}) error {
	e, err := NewEvent(collection, documentID, op, payload)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

// Events returns a copy of everything recorded so far.
func (m *MemoryRecorder) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Collections lists the collection of each recorded event, in order.
func (m *MemoryRecorder) Collections() []string {
	var out []string
	for _, e := range m.Events() {
		out = append(out, e.Collection)
	}
	return out
}
