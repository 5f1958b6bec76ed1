package memory

import (
	"context"

	"github.com/papercomputeco/mnemo/pkg/contextwindow"
	"github.com/papercomputeco/mnemo/pkg/eventstream"
	"github.com/papercomputeco/mnemo/pkg/periodlog"
)

// AppendRequest is one message to record.
type AppendRequest struct {
	Role      periodlog.Role       `json:"role"`
	Content   string               `json:"content"`
	Model     string               `json:"model,omitempty"`
	ToolCalls []periodlog.ToolCall `json:"tool_calls,omitempty"`
	Metadata  map[string]any       `json:"metadata,omitempty"`

	// SizeEstimate overrides the estimator when positive.
	SizeEstimate int `json:"size_estimate,omitempty"`
}

// Append writes a message to the current period.
func (f *Facade) Append(ctx context.Context, req AppendRequest) (*periodlog.Message, error) {
	msg, err := f.log.Append(ctx, periodlog.Draft{
		Role:         req.Role,
		Content:      req.Content,
		Model:        req.Model,
		ToolCalls:    req.ToolCalls,
		Metadata:     req.Metadata,
		SizeEstimate: req.SizeEstimate,
	})
	if err != nil {
		return nil, err
	}

	f.metrics.ObserveAppend(string(msg.Role))
	f.publish(ctx, eventstream.NewMessageAppended(f.source, eventstream.MessageMeta{
		ID:           msg.ID,
		Role:         string(msg.Role),
		PeriodKey:    msg.PeriodKey,
		SizeEstimate: msg.SizeEstimate,
		Timestamp:    msg.Timestamp,
		Model:        msg.Model,
	}))

	return msg, nil
}

// ContextRequest overrides the configured budget and reserve. Zero values
// keep the defaults.
type ContextRequest struct {
	Budget  int  `json:"budget,omitempty"`
	Reserve *int `json:"reserve,omitempty"`
}

// LoadContext returns the newest history that fits the budget, oldest first.
// It takes no locks and never fails: unreadable history is skipped.
func (f *Facade) LoadContext(ctx context.Context, req ContextRequest) *contextwindow.Window {
	budget := f.budget
	if req.Budget > 0 {
		budget = req.Budget
	}
	reserve := f.reserve
	if req.Reserve != nil && *req.Reserve >= 0 {
		reserve = *req.Reserve
	}

	w := f.assembler.Load(ctx, budget, reserve)
	f.metrics.ObserveContext(len(w.Messages), w.Used, w.Truncated)
	return w
}
