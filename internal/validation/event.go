package validation

import (
	"encoding/json"
	"errors"
)

type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseCompiling  Phase = "compiling"
	PhaseValidating Phase = "validating"
	PhaseFinalizing Phase = "finalizing"
)

type EventType string

const (
	EventPhase    EventType = "phase"
	EventProgress EventType = "progress"
	EventDone     EventType = "done"
	EventError    EventType = "error"
)

// Event is emitted by a run. Only the fields of its Type are meaningful.
type Event struct {
	Type    EventType
	RunID   string
	Label   Phase
	Done    int
	Total   int
	Rules   []RuleResult
	Rows    []DetailRow
	Message string
	Kind    ErrorKind
}

// Sink receives the events of a run in order. It is called from the run's goroutine.
type Sink func(Event)

func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventPhase:
		return json.Marshal(struct {
			Type  EventType `json:"type"`
			RunID string    `json:"runId,omitempty"`
			Label Phase     `json:"label"`
		}{e.Type, e.RunID, e.Label})
	case EventProgress:
		return json.Marshal(struct {
			Type  EventType `json:"type"`
			RunID string    `json:"runId,omitempty"`
			Done  int       `json:"done"`
			Total int       `json:"total"`
		}{e.Type, e.RunID, e.Done, e.Total})
	case EventDone:
		return json.Marshal(struct {
			Type  EventType    `json:"type"`
			RunID string       `json:"runId,omitempty"`
			Rules []RuleResult `json:"rules"`
			Rows  []DetailRow  `json:"rows"`
		}{e.Type, e.RunID, e.Rules, e.Rows})
	default:
		return json.Marshal(struct {
			Type    EventType `json:"type"`
			RunID   string    `json:"runId,omitempty"`
			Message string    `json:"message"`
			Kind    ErrorKind `json:"kind,omitempty"`
		}{EventError, e.RunID, e.Message, e.Kind})
	}
}

func NewErrorEvent(runID string, err error) Event {
	return Event{Type: EventError, RunID: runID, Message: err.Error(), Kind: KindOf(err)}
}

// Err rebuilds the run error carried by an error event. It is nil for
// other event types.
func (e Event) Err() error {
	if e.Type != EventError {
		return nil
	}
	return &Error{Kind: e.Kind, error: errors.New(e.Message)}
}

type RequestType string

const (
	RequestValidate RequestType = "validate"
	RequestCancel   RequestType = "cancel"
)

// Request is an inbound message of the engine loop.
type Request struct {
	Type     RequestType `json:"type"`
	IdsXML   string      `json:"idsXml,omitempty"`
	Elements []Element   `json:"elements,omitempty"`
	Chunk    int         `json:"chunk,omitempty"`
}
