package extraction

import (
	"encoding/json"

	"github.com/MikeSquared-Agency/threadqa/internal/progress"
)

type EventType string

const (
	EventProgress EventType = "progress"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event is one message of a job's stream. Exactly one of Progress, Result
// or Message is meaningful, depending on Type.
type Event struct {
	Type     EventType
	Progress progress.Snapshot
	Result   *Result
	Message  string
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

// MarshalJSON flattens the payload next to the type tag:
// {"type":"progress","phase":...}, {"type":"complete","submission_id":...},
// {"type":"error","message":...}.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventProgress:
		return json.Marshal(struct {
			Type EventType `json:"type"`
			progress.Snapshot
		}{e.Type, e.Progress})
	case EventComplete:
		if e.Result != nil {
			return json.Marshal(struct {
				Type EventType `json:"type"`
				wireResult
			}{e.Type, e.Result.wire()})
		}
	}
	return json.Marshal(struct {
		Type    EventType `json:"type"`
		Message string    `json:"message,omitempty"`
	}{e.Type, e.Message})
}
