package run

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/kandev/sandboxctl/internal/events/bus"
)

// Sink consumes canonical events for one run and performs two side
// effects in order: (a) when a transport writer is attached, frames each
// event as SSE (`event: <type>\ndata: <json>\n\n`) and flushes it
// immediately; (b) always appends the event to an in-memory buffer later
// flushed as events.jsonl. A unary RunService passes a nil writer, which
// disables destination (a) only.
type Sink struct {
	runID     string
	transport io.Writer
	eventBus  bus.EventBus // optional: fans out to the supplementary /runs/:id/ws tail

	mu       sync.Mutex
	buffer   []Event
	sequence int64
}

// NewSink builds a Sink for one run. transport may be nil (unary callers);
// eventBus may be nil (no WS tail).
func NewSink(runID string, transport io.Writer, eventBus bus.EventBus) *Sink {
	return &Sink{runID: runID, transport: transport, eventBus: eventBus}
}

// NextSequence returns the next monotonically increasing token sequence
// number for this run.
func (s *Sink) NextSequence() int64 {
	return atomic.AddInt64(&s.sequence, 1)
}

func (s *Sink) emit(e Event) error {
	s.mu.Lock()
	s.buffer = append(s.buffer, e)
	s.mu.Unlock()

	if s.transport != nil {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("eventsink: failed to encode event %s: %w", e.Type, err)
		}
		frame := fmt.Sprintf("event: %s\ndata: %s\n\n", e.Type, payload)
		if _, err := io.WriteString(s.transport, frame); err != nil {
			return fmt.Errorf("eventsink: failed to write event %s to transport: %w", e.Type, err)
		}
		if f, ok := s.transport.(interface{ Flush() }); ok {
			f.Flush()
		}
	}

	if s.eventBus != nil {
		payload, err := json.Marshal(e)
		if err == nil {
			_ = s.eventBus.Publish(context.Background(), bus.RunSubject(s.runID), bus.NewEvent(e.Type, "run_service", map[string]interface{}{"event": json.RawMessage(payload)}))
		}
	}

	return nil
}

// RunStart emits the run's single run-start event.
func (s *Sink) RunStart() error { return s.emit(runStartEvent(s.runID)) }

// Token emits a token event carrying the next sequence number.
func (s *Sink) Token(delta string) error { return s.emit(tokenEvent(s.runID, delta, s.NextSequence())) }

// Diff emits a diff event.
func (s *Sink) Diff(diff string) error { return s.emit(diffEvent(s.runID, diff)) }

// CommandEvent passes an agent-supplied command-started/command-finished
// envelope through verbatim, only wrapping it with ts/run_id/type — the
// agent worker's command event schema is not validated, just truncating
// stdout/stderr if the agent forgot to.
func (s *Sink) CommandEvent(raw map[string]interface{}) error {
	eventType, _ := raw["type"].(string)
	if eventType == "" {
		eventType = EventCommandFinished
	}
	fields := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		if k == "type" {
			continue
		}
		if str, ok := v.(string); ok && (k == "stdout" || k == "stderr") {
			fields[k] = truncate(str)
			continue
		}
		fields[k] = v
	}
	return s.emit(newEvent(s.runID, eventType, fields))
}

// RunComplete emits the run's single, terminal run-complete event.
func (s *Sink) RunComplete(status, errMsg string) error {
	return s.emit(runCompleteEvent(s.runID, status, errMsg))
}

// JSONL renders the buffered events as newline-delimited JSON in emission
// order, for SandboxDriver.PutFile.
func (s *Sink) JSONL() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var buf bytes.Buffer
	for _, e := range s.buffer {
		payload, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("eventsink: failed to encode buffered event %s: %w", e.Type, err)
		}
		buf.Write(payload)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}
