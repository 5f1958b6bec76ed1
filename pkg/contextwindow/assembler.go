// Package contextwindow assembles the budget-bounded slice of conversation
// history that is shown to a model on each turn.
//
// The assembler walks period partitions newest to oldest and, inside each,
// messages newest to oldest, keeping the largest contiguous suffix of history
// that fits the available budget. Traversal stops at the first message that
// does not fit, so cost is bounded by the budget rather than by history size.
package contextwindow

import (
	"context"
	"iter"
	"log/slog"
	"slices"

	"github.com/papercomputeco/mnemo/pkg/logger"
	"github.com/papercomputeco/mnemo/pkg/periodlog"
)

// Source is the read side of a period log.
type Source interface {
	Partitions(ctx context.Context) ([]periodlog.Partition, error)
	ReadReverse(ctx context.Context, p periodlog.Partition) iter.Seq[*periodlog.Message]
}

// Window is one assembled context.
type Window struct {
	// Messages are in chronological order.
	Messages []*periodlog.Message `json:"messages"`

	Budget    int `json:"budget"`
	Reserve   int `json:"reserve"`
	Available int `json:"available"`

	// Used is the sum of SizeEstimate over Messages.
	Used int `json:"used"`

	// PartitionsRead counts the partitions the walk touched.
	PartitionsRead int `json:"partitions_read"`

	// Truncated is set when older history exists that did not fit.
	Truncated bool `json:"truncated"`

	// Oversized is set when the single returned message alone exceeds
	// Available. It is only ever returned so the window is not empty.
	Oversized bool `json:"oversized"`
}

// Assembler builds Windows from a Source. It holds no state between calls and
// takes no locks, so it may run concurrently with appends.
type Assembler struct {
	source Source
	logger *slog.Logger
}

// New creates an Assembler.
func New(source Source, l *slog.Logger) *Assembler {
	return &Assembler{source: source, logger: logger.OrNop(l)}
}

// Load returns the newest contiguous run of messages whose total size fits
// budget-reserve. When history is non-empty at least one message is always
// returned, even if it alone exceeds the budget.
func (a *Assembler) Load(ctx context.Context, budget, reserve int) *Window {
	w := &Window{
		Budget:    budget,
		Reserve:   reserve,
		Available: budget - reserve,
	}

	parts, err := a.source.Partitions(ctx)
	if err != nil {
		a.logger.Warn("failed to list partitions, returning empty context", "error", err)
		return w
	}

	var newestFirst []*periodlog.Message

walk:
	for _, p := range parts {
		w.PartitionsRead++
		for msg := range a.source.ReadReverse(ctx, p) {
			if w.Used+msg.SizeEstimate > w.Available && len(newestFirst) > 0 {
				w.Truncated = true
				break walk
			}
			newestFirst = append(newestFirst, msg)
			w.Used += msg.SizeEstimate
		}
	}

	if len(newestFirst) == 1 && w.Used > w.Available {
		w.Oversized = true
	}

	slices.Reverse(newestFirst)
	w.Messages = newestFirst

	a.logger.Debug("assembled context",
		"messages", len(w.Messages),
		"used", w.Used,
		"available", w.Available,
		"partitions_read", w.PartitionsRead,
		"truncated", w.Truncated,
	)

	return w
}
