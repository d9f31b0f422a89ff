// Package notify carries certificate change events from the store to the
// watchers. Delivery is at-least-once and best-effort: a missing or slow
// subscriber never blocks or fails the store write, and subscribers re-read
// authoritative state from the store before acting on any event.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Channel is the Postgres notification channel certificate changes are
// published on.
const Channel = "certkeeper_changes"

// Event is the pub/sub payload. It carries enough for a subscriber to decide
// relevance without a follow-up query, but it is a hint, not truth.
type Event struct {
	Domain        string    `json:"domain"`
	Type          string    `json:"certificate_type"`
	Operation     string    `json:"operation"`
	CertificateID string    `json:"certificate_id"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Encode serializes an event to its JSON wire form.
func (e Event) Encode() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode change event: %w", err)
	}
	return b, nil
}

// DecodeEvent parses an event from its JSON wire form.
func DecodeEvent(payload []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return Event{}, fmt.Errorf("decode change event: %w", err)
	}
	return e, nil
}

// Publisher publishes certificate change events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Subscriber delivers certificate change events. The returned channel is
// closed when the context is cancelled or the subscription fails permanently.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan Event, error)
}
