package facts

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/mnemo/pkg/tokens"
)

const (
	DefaultTokenCeiling        = 10_000
	DefaultPruneDaysThreshold  = 30
	DefaultPruneReferenceFloor = 5
	DefaultMinContentLength    = 3
	DefaultConfidence          = 0.5
)

// Policy holds the tunables of the mutation operations.
type Policy struct {
	// TokenCeiling caps metadata.total_token_count. Zero disables the cap.
	TokenCeiling int

	// PruneDaysThreshold is the staleness age callers use when they do not
	// pass one to PruneStale.
	PruneDaysThreshold int

	// PruneReferenceFloor is the highest reference count a core item may
	// have and still be pruned for staleness.
	PruneReferenceFloor int

	// MinContentLength is the shortest accepted diff content, in runes,
	// after trimming whitespace.
	MinContentLength int

	// DefaultConfidence is used when AddDiff gets no confidence.
	DefaultConfidence float64
}

// DefaultPolicy returns the documented defaults.
func DefaultPolicy() Policy {
	return Policy{
		TokenCeiling:        DefaultTokenCeiling,
		PruneDaysThreshold:  DefaultPruneDaysThreshold,
		PruneReferenceFloor: DefaultPruneReferenceFloor,
		MinContentLength:    DefaultMinContentLength,
		DefaultConfidence:   DefaultConfidence,
	}
}

// Mutator applies fact mutations to a document in place. Each method either
// fails with the document unchanged or leaves it recounted, stamped and within
// the ceiling policy. Callers persist the result; Mutator does no I/O.
type Mutator struct {
	estimator tokens.Estimator
	policy    Policy
	clock     func() time.Time
	newID     func(prefix string) string
}

// MutatorOption configures a Mutator.
type MutatorOption func(*Mutator)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) MutatorOption {
	return func(m *Mutator) { m.clock = clock }
}

// WithIDGenerator overrides fact id generation.
func WithIDGenerator(gen func(prefix string) string) MutatorOption {
	return func(m *Mutator) { m.newID = gen }
}

// NewMutator creates a Mutator.
func NewMutator(est tokens.Estimator, policy Policy, opts ...MutatorOption) *Mutator {
	m := &Mutator{
		estimator: est,
		policy:    policy,
		clock:     time.Now,
		newID: func(prefix string) string {
			return prefix + "-" + uuid.NewString()
		},
	}
	if m.estimator == nil {
		m.estimator = tokens.NewChars()
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Policy returns the mutator's policy.
func (m *Mutator) Policy() Policy {
	return m.policy
}

// AddDiffInput is the payload of AddDiff.
type AddDiffInput struct {
	Content    string   `json:"content"`
	Confidence *float64 `json:"confidence,omitempty"`
	Source     string   `json:"source,omitempty"`
	Category   string   `json:"category,omitempty"`
}

// ValidateAddDiff checks an AddDiff payload without touching any document.
func (m *Mutator) ValidateAddDiff(in AddDiffInput) error {
	if err := m.validateContent(in.Content); err != nil {
		return err
	}
	if in.Confidence != nil && (*in.Confidence < 0 || *in.Confidence > 1) {
		return ValidationError{Field: "confidence", Reason: "must be within [0,1]"}
	}
	return nil
}

func (m *Mutator) validateContent(content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return ValidationError{Field: "content", Reason: "is empty"}
	}
	if n := len([]rune(content)); n < m.policy.MinContentLength {
		return ValidationError{Field: "content", Reason: fmt.Sprintf("%d characters is below the minimum of %d", n, m.policy.MinContentLength)}
	}
	return nil
}

// AddDiff appends a new provisional fact.
func (m *Mutator) AddDiff(d *Document, in AddDiffInput, actor string) (*DiffItem, error) {
	if err := m.ValidateAddDiff(in); err != nil {
		return nil, err
	}

	confidence := m.policy.DefaultConfidence
	if in.Confidence != nil {
		confidence = *in.Confidence
	}

	now := m.clock().UTC()
	item := DiffItem{
		ID:         m.newID("diff"),
		Content:    strings.TrimSpace(in.Content),
		Category:   in.Category,
		Confidence: confidence,
		Source:     in.Source,
		CreatedAt:  now,
	}

	err := m.apply(d, actor, func(d *Document) error {
		d.Diff.Items = append(d.Diff.Items, item)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// SeedCoreInput is the payload of SeedCore.
type SeedCoreInput struct {
	Content  string `json:"content"`
	Category string `json:"category"`
	Source   string `json:"source,omitempty"`
}

// SeedCore writes a fact straight into core, bypassing diff.
func (m *Mutator) SeedCore(d *Document, in SeedCoreInput, actor string) (*CoreItem, error) {
	if err := m.validateContent(in.Content); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Category) == "" {
		return nil, ValidationError{Field: "category", Reason: "core items require a category"}
	}

	now := m.clock().UTC()
	item := CoreItem{
		ID:           m.newID("core"),
		Content:      strings.TrimSpace(in.Content),
		Category:     strings.TrimSpace(in.Category),
		Source:       in.Source,
		CreatedAt:    now,
		LastVerified: now,
	}

	err := m.apply(d, actor, func(d *Document) error {
		d.Core.Items = append(d.Core.Items, item)
		d.Core.LastVerified = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// Promote copies the diff item diffID into core under category and removes
// it from diff.
func (m *Mutator) Promote(d *Document, diffID, category, actor string) (*CoreItem, error) {
	category = strings.TrimSpace(category)
	if diffID == "" {
		return nil, ValidationError{Field: "diff_id", Reason: "is empty"}
	}
	if category == "" {
		return nil, ValidationError{Field: "category", Reason: "core items require a category"}
	}

	var promoted CoreItem
	err := m.apply(d, actor, func(d *Document) error {
		idx := d.FindDiff(diffID)
		if idx < 0 {
			return NotFoundError{ID: diffID}
		}
		src := d.Diff.Items[idx]

		now := m.clock().UTC()
		promoted = CoreItem{
			ID:           m.newID("core"),
			Content:      src.Content,
			Category:     category,
			Source:       src.Source,
			CreatedAt:    now,
			LastVerified: now,
			PromotedFrom: src.ID,
		}

		d.Core.Items = append(d.Core.Items, promoted)
		d.Core.LastVerified = now
		d.Diff.Items = append(d.Diff.Items[:idx], d.Diff.Items[idx+1:]...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &promoted, nil
}

// PruneStale removes core items last verified more than days ago whose
// reference count is at or below the policy floor. Well-referenced items
// survive regardless of age.
func (m *Mutator) PruneStale(d *Document, days int, actor string) ([]CoreItem, error) {
	if days <= 0 {
		return nil, ValidationError{Field: "days_threshold", Reason: "must be positive"}
	}

	cutoff := m.clock().UTC().Add(-time.Duration(days) * 24 * time.Hour)

	var removed []CoreItem
	err := m.apply(d, actor, func(d *Document) error {
		kept := d.Core.Items[:0:0]
		for _, it := range d.Core.Items {
			if it.LastVerified.Before(cutoff) && it.ReferenceCount <= m.policy.PruneReferenceFloor {
				removed = append(removed, it)
				continue
			}
			kept = append(kept, it)
		}
		d.Core.Items = kept
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// Touch records a use of each listed fact: core items gain a reference and
// are re-verified, diff items gain a hit. Unknown ids fail the whole call.
func (m *Mutator) Touch(d *Document, ids []string, actor string) (int, error) {
	if len(ids) == 0 {
		return 0, ValidationError{Field: "ids", Reason: "is empty"}
	}

	err := m.apply(d, actor, func(d *Document) error {
		now := m.clock().UTC()
		for _, id := range ids {
			if i := d.FindCore(id); i >= 0 {
				d.Core.Items[i].ReferenceCount++
				d.Core.Items[i].LastVerified = now
				continue
			}
			if i := d.FindDiff(id); i >= 0 {
				d.Diff.Items[i].HitCount++
				continue
			}
			return NotFoundError{ID: id}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// RunCuration is reserved. It always fails with ErrCurationNotImplemented and
// never changes the document.
func (m *Mutator) RunCuration(_ *Document, _ string) error {
	return ErrCurationNotImplemented
}

// Recount recomputes the metadata token counts from the document contents.
func (m *Mutator) Recount(d *Document) {
	coreTexts := make([]string, 0, len(d.Core.Items))
	for _, it := range d.Core.Items {
		coreTexts = append(coreTexts, it.Content)
	}
	diffTexts := make([]string, 0, len(d.Diff.Items))
	for _, it := range d.Diff.Items {
		diffTexts = append(diffTexts, it.Content)
	}

	core := tokens.EstimateAll(m.estimator, coreTexts...)
	diff := tokens.EstimateAll(m.estimator, diffTexts...)
	d.Metadata.CoreTokenCount = core
	d.Metadata.DiffTokenCount = diff
	d.Metadata.TotalTokenCount = core + diff
}

// apply runs change on a copy of d and, when the change succeeds and passes
// the ceiling policy, commits the copy into d. A mutation that does not grow
// the token total always commits so an over-ceiling document can be pruned.
func (m *Mutator) apply(d *Document, actor string, change func(*Document) error) error {
	next := d.Clone()
	m.Recount(next)
	before := next.Metadata.TotalTokenCount

	if err := change(next); err != nil {
		return err
	}

	m.Recount(next)
	total := next.Metadata.TotalTokenCount
	if ceiling := m.policy.TokenCeiling; ceiling > 0 && total > ceiling && total > before {
		return BudgetExceededError{Ceiling: ceiling, Total: total}
	}

	next.LastUpdated = m.clock().UTC()
	next.UpdatedBy = actor
	if next.Version == 0 {
		next.Version = SchemaVersion
	}

	*d = *next
	return nil
}
