// Package bus provides the event bus abstraction used to fan out run
// lifecycle events to streaming transports such as the WebSocket run tail.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is a single message on the bus. For run lifecycle events, Type is
// one of the canonical event types the run Sink emits (run-start, token,
// diff, command-started, command-finished, run-complete) and Data carries
// the canonical event itself under the "event" key.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
	Seq       int64                  `json:"seq,omitempty"`
	Data      map[string]interface{} `json:"data"`
}

// NewEvent creates a new Event with a fresh ID and the current timestamp.
func NewEvent(eventType, source string, data map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// EventHandler handles a delivered event.
type EventHandler func(ctx context.Context, event *Event) error

// Subscription represents an active subscription to a subject.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// EventBus is the transport-agnostic interface RunService's EventSink and
// the HTTP front door's streaming handlers depend on.
type EventBus interface {
	Publish(ctx context.Context, subject string, event *Event) error
	Subscribe(subject string, handler EventHandler) (Subscription, error)
	QueueSubscribe(subject, queue string, handler EventHandler) (Subscription, error)
	Request(ctx context.Context, subject string, event *Event, timeout time.Duration) (*Event, error)
	Close()
	IsConnected() bool
}

// RunSubject returns the canonical subject a run's events are published and
// subscribed on.
func RunSubject(runID string) string {
	return "runs." + runID + ".events"
}
