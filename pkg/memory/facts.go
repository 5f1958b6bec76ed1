package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/papercomputeco/mnemo/pkg/eventstream"
	"github.com/papercomputeco/mnemo/pkg/facts"
	"github.com/papercomputeco/mnemo/pkg/storage"
)

// Fact mutation actions.
const (
	ActionAddDiff       = "add_diff"
	ActionPromoteToCore = "promote_to_core"
	ActionPruneStale    = "prune_stale"
	ActionRunCuration   = "run_curation"
	ActionTouch         = "touch"
	ActionSeedCore      = "seed_core"
)

// Actions lists every action MutateFacts accepts.
var Actions = []string{
	ActionAddDiff,
	ActionPromoteToCore,
	ActionPruneStale,
	ActionRunCuration,
	ActionTouch,
	ActionSeedCore,
}

// PromoteInput is the payload of promote_to_core.
type PromoteInput struct {
	DiffID   string `json:"diff_id"`
	Category string `json:"category"`
}

// PruneInput is the payload of prune_stale. A zero DaysThreshold uses the
// configured threshold.
type PruneInput struct {
	DaysThreshold int `json:"days_threshold,omitempty"`
}

// TouchInput is the payload of touch.
type TouchInput struct {
	IDs []string `json:"ids"`
}

// TokenUsage is the size of the fact document after a mutation.
type TokenUsage struct {
	Core    int `json:"core"`
	Diff    int `json:"diff"`
	Total   int `json:"total"`
	Ceiling int `json:"ceiling"`
}

// Result reports the outcome of one mutation. Success is false whenever Err
// is set.
type Result struct {
	Success    bool           `json:"success"`
	Action     string         `json:"action"`
	TokenUsage TokenUsage     `json:"token_usage"`
	Timestamp  time.Time      `json:"timestamp"`
	Details    map[string]any `json:"details,omitempty"`

	// Snapshot names the audit snapshot of the replaced state.
	Snapshot string `json:"snapshot,omitempty"`
	Version  int64  `json:"version,omitempty"`

	Error string    `json:"error,omitempty"`
	Kind  ErrorKind `json:"kind,omitempty"`
	Err   error     `json:"-"`
}

// FactsView is the fact document as returned to readers.
type FactsView struct {
	*facts.Document

	// Archived holds core items that only survive in the audit trail.
	Archived []facts.CoreItem `json:"archived,omitempty"`

	// StoreVersion is the storage version the document was read at.
	StoreVersion int64 `json:"store_version"`

	// Warnings lists read problems that were recovered from.
	Warnings []string `json:"warnings,omitempty"`
}

// GetFacts returns the current fact document. Missing and unreadable
// documents come back as the empty document with a warning. Only storage
// failures are returned as errors.
func (f *Facade) GetFacts(ctx context.Context, includeArchived bool) (*FactsView, error) {
	current, err := f.guard.Load(ctx, f.resource)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", f.resource, err)
	}

	view := &FactsView{StoreVersion: current.Version}

	doc, err := f.cache.Decode(f.resource, current.Data)
	if err != nil {
		f.logger.Warn("unreadable fact document", "resource", f.resource, "error", err)
		view.Warnings = append(view.Warnings, err.Error())
		doc = facts.NewDocument()
	}
	view.Document = doc

	if includeArchived {
		archived, warnings, err := f.archived(ctx, doc)
		if err != nil {
			return nil, err
		}
		view.Archived = archived
		view.Warnings = append(view.Warnings, warnings...)
	}

	return view, nil
}

// archived collects the core items that pruning removed. Pruning is the only
// mutation that drops core items, so only its snapshots are read.
func (f *Facade) archived(ctx context.Context, current *facts.Document) ([]facts.CoreItem, []string, error) {
	trail := f.guard.Trail()
	infos, err := trail.ListInfo(ctx, f.resource)
	if err != nil {
		return nil, nil, fmt.Errorf("listing snapshots of %s: %w", f.resource, err)
	}

	var (
		warnings []string
		docs     []*facts.Document
	)
	for _, info := range infos {
		if info.Action != ActionPruneStale {
			continue
		}
		snap, err := trail.Get(ctx, f.resource, info.Name())
		if err != nil {
			return nil, nil, fmt.Errorf("reading snapshot %s: %w", info.Name(), err)
		}
		d, err := facts.Decode(snap.Data)
		if err != nil {
			f.logger.Warn("skipping unreadable snapshot", "resource", f.resource, "snapshot", info.Name(), "error", err)
			warnings = append(warnings, fmt.Sprintf("snapshot %s: %v", info.Name(), err))
			continue
		}
		docs = append(docs, d)
	}

	return facts.Archived(current, docs), warnings, nil
}

// MutateFacts decodes payload for action and applies it. An empty payload is
// the zero value of the action's input.
func (f *Facade) MutateFacts(ctx context.Context, action string, payload json.RawMessage) *Result {
	decode := func(v any) error {
		if len(payload) == 0 || string(payload) == "null" {
			return nil
		}
		if err := json.Unmarshal(payload, v); err != nil {
			return facts.ValidationError{Field: "payload", Reason: err.Error()}
		}
		return nil
	}

	switch action {
	case ActionAddDiff:
		var in facts.AddDiffInput
		if err := decode(&in); err != nil {
			return f.failed(action, err)
		}
		return f.AddDiff(ctx, in)

	case ActionPromoteToCore:
		var in PromoteInput
		if err := decode(&in); err != nil {
			return f.failed(action, err)
		}
		return f.Promote(ctx, in)

	case ActionPruneStale:
		var in PruneInput
		if err := decode(&in); err != nil {
			return f.failed(action, err)
		}
		return f.PruneStale(ctx, in)

	case ActionRunCuration:
		return f.RunCuration(ctx)

	case ActionTouch:
		var in TouchInput
		if err := decode(&in); err != nil {
			return f.failed(action, err)
		}
		return f.Touch(ctx, in)

	case ActionSeedCore:
		var in facts.SeedCoreInput
		if err := decode(&in); err != nil {
			return f.failed(action, err)
		}
		return f.SeedCore(ctx, in)

	default:
		return f.failed(action, fmt.Errorf("%w: %q", ErrUnknownAction, action))
	}
}

// AddDiff records a provisional fact.
func (f *Facade) AddDiff(ctx context.Context, in facts.AddDiffInput) *Result {
	if err := f.mutator.ValidateAddDiff(in); err != nil {
		return f.failed(ActionAddDiff, err)
	}

	actor := f.actorFrom(ctx)
	return f.mutate(ctx, ActionAddDiff, func(d *facts.Document) (map[string]any, error) {
		item, err := f.mutator.AddDiff(d, in, actor)
		if err != nil {
			return nil, err
		}
		return map[string]any{"id": item.ID, "confidence": item.Confidence}, nil
	})
}

// Promote moves a diff item into core.
func (f *Facade) Promote(ctx context.Context, in PromoteInput) *Result {
	actor := f.actorFrom(ctx)
	return f.mutate(ctx, ActionPromoteToCore, func(d *facts.Document) (map[string]any, error) {
		item, err := f.mutator.Promote(d, in.DiffID, in.Category, actor)
		if err != nil {
			return nil, err
		}
		return map[string]any{"id": item.ID, "promoted_from": item.PromotedFrom, "category": item.Category}, nil
	})
}

// PruneStale drops stale, rarely referenced core items.
func (f *Facade) PruneStale(ctx context.Context, in PruneInput) *Result {
	days := in.DaysThreshold
	if days == 0 {
		days = f.mutator.Policy().PruneDaysThreshold
	}

	actor := f.actorFrom(ctx)
	return f.mutate(ctx, ActionPruneStale, func(d *facts.Document) (map[string]any, error) {
		removed, err := f.mutator.PruneStale(d, days, actor)
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(removed))
		for _, it := range removed {
			ids = append(ids, it.ID)
		}
		return map[string]any{"removed": len(removed), "removed_ids": ids, "days_threshold": days}, nil
	})
}

// Touch records a use of each listed fact.
func (f *Facade) Touch(ctx context.Context, in TouchInput) *Result {
	actor := f.actorFrom(ctx)
	return f.mutate(ctx, ActionTouch, func(d *facts.Document) (map[string]any, error) {
		n, err := f.mutator.Touch(d, in.IDs, actor)
		if err != nil {
			return nil, err
		}
		return map[string]any{"touched": n}, nil
	})
}

// SeedCore writes a fact directly into core.
func (f *Facade) SeedCore(ctx context.Context, in facts.SeedCoreInput) *Result {
	actor := f.actorFrom(ctx)
	return f.mutate(ctx, ActionSeedCore, func(d *facts.Document) (map[string]any, error) {
		item, err := f.mutator.SeedCore(d, in, actor)
		if err != nil {
			return nil, err
		}
		return map[string]any{"id": item.ID, "category": item.Category}, nil
	})
}

// RunCuration is reserved. It takes no lock and writes no snapshot.
func (f *Facade) RunCuration(ctx context.Context) *Result {
	return f.failed(ActionRunCuration, f.mutator.RunCuration(nil, f.actorFrom(ctx)))
}

// mutate runs change under the guard and reports the outcome.
func (f *Facade) mutate(ctx context.Context, action string, change func(*facts.Document) (map[string]any, error)) *Result {
	start := time.Now()

	var (
		details map[string]any
		next    *facts.Document
	)
	out, err := f.guard.WithLock(ctx, f.resource, action, func(current []byte) ([]byte, error) {
		d, err := f.cache.Decode(f.resource, current)
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", f.resource, err)
		}
		if details, err = change(d); err != nil {
			return nil, err
		}
		next = d
		return facts.Encode(d)
	})
	if err != nil {
		res := f.failed(action, err)
		f.metrics.ObserveMutation(action, string(res.Kind), time.Since(start), 0)
		return res
	}

	usage := f.usage(next)
	f.metrics.ObserveMutation(action, "ok", time.Since(start), out.Attempts)
	f.metrics.SetFactTokens(usage.Core, usage.Diff)

	f.logger.Info("facts mutated",
		"resource", f.resource,
		"action", action,
		"version", out.Version,
		"snapshot", out.Snapshot.Name(),
		"total_tokens", usage.Total,
	)

	f.publish(ctx, eventstream.NewFactsMutated(f.source, eventstream.FactsMeta{
		Resource:   f.resource,
		Action:     action,
		Version:    out.Version,
		Snapshot:   out.Snapshot.Name(),
		TokenUsage: eventstream.TokenUsage{Core: usage.Core, Diff: usage.Diff, Total: usage.Total},
		Details:    details,
	}))

	return &Result{
		Success:    true,
		Action:     action,
		TokenUsage: usage,
		Timestamp:  next.LastUpdated,
		Details:    details,
		Snapshot:   out.Snapshot.Name(),
		Version:    out.Version,
	}
}

// failed builds the Result of a mutation that did not commit.
func (f *Facade) failed(action string, err error) *Result {
	kind := Classify(err)
	if kind == KindInternal {
		f.logger.Error("fact mutation failed", "resource", f.resource, "action", action, "error", err)
	} else {
		f.logger.Debug("fact mutation rejected", "resource", f.resource, "action", action, "kind", kind, "error", err)
	}

	return &Result{
		Action:    action,
		Timestamp: f.clock().UTC(),
		Error:     err.Error(),
		Kind:      kind,
		Err:       err,
	}
}

func (f *Facade) usage(d *facts.Document) TokenUsage {
	return TokenUsage{
		Core:    d.Metadata.CoreTokenCount,
		Diff:    d.Metadata.DiffTokenCount,
		Total:   d.Metadata.TotalTokenCount,
		Ceiling: f.mutator.Policy().TokenCeiling,
	}
}

// AuditEntry describes one audit snapshot without its content.
type AuditEntry struct {
	Name    string    `json:"name"`
	Action  string    `json:"action"`
	TakenAt time.Time `json:"taken_at"`
	Size    int64     `json:"size"`
}

// Audit lists the snapshots of the fact document, newest first.
func (f *Facade) Audit(ctx context.Context) ([]AuditEntry, error) {
	infos, err := f.guard.Trail().ListInfo(ctx, f.resource)
	if err != nil {
		return nil, err
	}

	entries := make([]AuditEntry, 0, len(infos))
	for _, s := range infos {
		entries = append(entries, AuditEntry{
			Name:    s.Name(),
			Action:  s.Action,
			TakenAt: s.TakenAt,
			Size:    s.Size,
		})
	}
	return entries, nil
}

// AuditSnapshot returns one snapshot by name.
func (f *Facade) AuditSnapshot(ctx context.Context, name string) (*storage.Snapshot, error) {
	return f.guard.Trail().Get(ctx, f.resource, name)
}
