package run

import (
	"encoding/json"
	"time"
)

// Canonical event type names. Exactly one run-start and one
// run-complete event is emitted per run, run-complete last.
const (
	EventRunStart        = "run-start"
	EventToken           = "token"
	EventDiff            = "diff"
	EventCommandStarted  = "command-started"
	EventCommandFinished = "command-finished"
	EventRunComplete     = "run-complete"
)

// maxTruncatedOutput bounds command-finished's stdout/stderr fields.
const maxTruncatedOutput = 8 * 1024

// Event is one canonical run event: a timestamp, run id, and type shared
// by every event, plus type-specific fields flattened into the same JSON
// object rather than nested under a "data" key.
type Event struct {
	Ts     time.Time
	RunID  string
	Type   string
	Fields map[string]interface{}
}

// MarshalJSON flattens Ts/RunID/Type alongside Fields into one object.
func (e Event) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(e.Fields)+3)
	for k, v := range e.Fields {
		out[k] = v
	}
	out["ts"] = e.Ts.Format(time.RFC3339Nano)
	out["run_id"] = e.RunID
	out["type"] = e.Type
	return json.Marshal(out)
}

func newEvent(runID, eventType string, fields map[string]interface{}) Event {
	return Event{Ts: time.Now(), RunID: runID, Type: eventType, Fields: fields}
}

func runStartEvent(runID string) Event {
	return newEvent(runID, EventRunStart, nil)
}

func tokenEvent(runID string, delta string, sequence int64) Event {
	return newEvent(runID, EventToken, map[string]interface{}{"delta": delta, "sequence": sequence})
}

func diffEvent(runID, diff string) Event {
	return newEvent(runID, EventDiff, map[string]interface{}{"diff": diff})
}

func runCompleteEvent(runID, status string, errMsg string) Event {
	fields := map[string]interface{}{"status": status}
	if errMsg != "" {
		fields["error"] = errMsg
	}
	return newEvent(runID, EventRunComplete, fields)
}

func truncate(s string) string {
	if len(s) <= maxTruncatedOutput {
		return s
	}
	return s[:maxTruncatedOutput]
}
