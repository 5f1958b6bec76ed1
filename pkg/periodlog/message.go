package periodlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// ToolCall is a tool invocation requested by the model on an assistant turn.
type ToolCall struct {
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Message is one immutable record of the period log.
type Message struct {
	// ID is a ULID, so ids sort in append order within a writer.
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	// PeriodKey names the partition the message was appended to.
	PeriodKey string `json:"period_key"`

	// SizeEstimate is the estimated token cost of the message.
	SizeEstimate int `json:"size_estimate"`

	Model     string         `json:"model,omitempty"`
	ToolCalls []ToolCall     `json:"tool_calls,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Validate checks the invariants of a persisted record. Records read back
// from disk that fail validation are treated as malformed.
func (m *Message) Validate() error {
	if m.ID == "" {
		return errors.New("message id is empty")
	}
	if !m.Role.Valid() {
		return fmt.Errorf("invalid role %q", m.Role)
	}
	if m.Timestamp.IsZero() {
		return errors.New("message timestamp is zero")
	}
	if m.PeriodKey == "" {
		return errors.New("message period key is empty")
	}
	if m.SizeEstimate < 0 {
		return fmt.Errorf("negative size estimate %d", m.SizeEstimate)
	}
	return nil
}

// Draft is a message before the log assigns its id, timestamp and period.
type Draft struct {
	Role      Role
	Content   string
	Model     string
	ToolCalls []ToolCall
	Metadata  map[string]any

	// SizeEstimate overrides the estimator when positive.
	SizeEstimate int
}

// Validate checks that the draft can be appended.
func (d *Draft) Validate() error {
	if !d.Role.Valid() {
		return fmt.Errorf("invalid role %q (expected user, assistant or system)", d.Role)
	}
	if d.Content == "" && len(d.ToolCalls) == 0 {
		return errors.New("message content is empty")
	}
	if d.SizeEstimate < 0 {
		return fmt.Errorf("negative size estimate %d", d.SizeEstimate)
	}
	return nil
}
