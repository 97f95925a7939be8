package types

import "time"

// EventType identifies a pipeline progress event.
type EventType string

const (
	EventPhaseStart    EventType = "phase_start"
	EventPhaseComplete EventType = "phase_complete"
	EventAborted       EventType = "aborted"
)

// Event is one entry in the pipeline's progress stream. Consuming the stream
// is optional; the pipeline's return value is self-sufficient.
type Event struct {
	Type          EventType `json:"type"`
	Phase         string    `json:"phase"`
	Timestamp     time.Time `json:"timestamp"`
	Message       string    `json:"message,omitempty"`
	CorrelationID string    `json:"correlationId,omitempty"`
}

// EventSink receives progress events. Sinks must not block; a nil sink is
// treated as "discard".
type EventSink func(Event)

// Emit sends an event through the sink if one is attached.
func (s EventSink) Emit(eventType EventType, phase, correlationID, message string) {
	if s == nil {
		return
	}
	s(Event{
		Type:          eventType,
		Phase:         phase,
		Timestamp:     time.Now(),
		Message:       message,
		CorrelationID: correlationID,
	})
}
