package eventstream

import (
	"time"

	"github.com/google/uuid"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeMessageAppended is emitted after a message is durably appended.
	EventTypeMessageAppended = "mnemo.message.appended"

	// EventTypeFactsMutated is emitted after a fact mutation is committed.
	EventTypeFactsMutated = "mnemo.facts.mutated"
)

// Event is a transport-neutral event payload. Exactly one of Message and
// Facts is set, matching EventType.
type Event struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	EventID       string       `json:"event_id"`
	EmittedAt     time.Time    `json:"emitted_at"`
	Source        EventSource  `json:"source"`
	Message       *MessageMeta `json:"message,omitempty"`
	Facts         *FactsMeta   `json:"facts,omitempty"`
}

// EventSource identifies the emitting instance.
type EventSource struct {
	Instance string `json:"instance,omitempty"`
}

// MessageMeta describes an appended message. Content is not carried.
type MessageMeta struct {
	ID           string    `json:"id"`
	Role         string    `json:"role"`
	PeriodKey    string    `json:"period_key"`
	SizeEstimate int       `json:"size_estimate"`
	Timestamp    time.Time `json:"timestamp"`
	Model        string    `json:"model,omitempty"`
}

// FactsMeta describes a committed fact mutation.
type FactsMeta struct {
	Resource   string         `json:"resource"`
	Action     string         `json:"action"`
	Version    int64          `json:"version"`
	Snapshot   string         `json:"snapshot"`
	TokenUsage TokenUsage     `json:"token_usage"`
	Details    map[string]any `json:"details,omitempty"`
}

// TokenUsage is the fact document size after the mutation.
type TokenUsage struct {
	Core  int `json:"core"`
	Diff  int `json:"diff"`
	Total int `json:"total"`
}

// NewMessageAppended builds a message event stamped now.
func NewMessageAppended(source EventSource, meta MessageMeta) *Event {
	return newEvent(EventTypeMessageAppended, source, &meta, nil)
}

// NewFactsMutated builds a facts event stamped now.
func NewFactsMutated(source EventSource, meta FactsMeta) *Event {
	return newEvent(EventTypeFactsMutated, source, nil, &meta)
}

func newEvent(eventType string, source EventSource, msg *MessageMeta, f *FactsMeta) *Event {
	return &Event{
		SchemaVersion: SchemaVersionV1,
		EventType:     eventType,
		EventID:       "evt_" + uuid.NewString(),
		EmittedAt:     time.Now().UTC(),
		Source:        source,
		Message:       msg,
		Facts:         f,
	}
}

// Key is the partitioning key for the event: the message id or the fact
// resource.
func (e *Event) Key() string {
	switch {
	case e.Message != nil:
		return e.Message.ID
	case e.Facts != nil:
		return e.Facts.Resource
	default:
		return e.EventID
	}
}
