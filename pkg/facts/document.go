// Package facts holds the two-tier fact memory document and the mutations
// that can be applied to it.
//
// The document has a core section of stable, categorised facts and a diff
// section of recent, provisional facts. Diff items are promoted into core,
// core items are pruned when stale, and token counts are recomputed after
// every mutation.
package facts

import (
	"fmt"
	"time"
)

// SchemaVersion is the document layout written by this package.
const SchemaVersion = 1

// CoreItem is a durable, verified fact.
type CoreItem struct {
	ID             string    `json:"id"`
	Content        string    `json:"content"`
	Category       string    `json:"category"`
	Source         string    `json:"source,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LastVerified   time.Time `json:"last_verified"`
	ReferenceCount int       `json:"reference_count"`

	// PromotedFrom is the id of the diff item this fact was promoted from.
	PromotedFrom string `json:"promoted_from,omitempty"`
}

// DiffItem is a recently observed, provisional fact.
type DiffItem struct {
	ID                string    `json:"id"`
	Content           string    `json:"content"`
	Category          string    `json:"category,omitempty"`
	Confidence        float64   `json:"confidence"`
	Source            string    `json:"source,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	HitCount          int       `json:"hit_count"`
	PromotionEligible bool      `json:"promotion_eligible"`
}

// Core is the stable section.
type Core struct {
	LastVerified time.Time  `json:"last_verified"`
	Items        []CoreItem `json:"items"`
}

// Diff is the provisional section.
type Diff struct {
	Items []DiffItem `json:"items"`
}

// Metadata carries the size accounting of the document.
type Metadata struct {
	CoreTokenCount  int        `json:"core_token_count"`
	DiffTokenCount  int        `json:"diff_token_count"`
	TotalTokenCount int        `json:"total_token_count"`
	LastCurationRun *time.Time `json:"last_curation_run,omitempty"`
	NextCurationDue *time.Time `json:"next_curation_due,omitempty"`
}

// Document is the fact store document.
type Document struct {
	Version     int       `json:"version"`
	LastUpdated time.Time `json:"last_updated"`
	UpdatedBy   string    `json:"updated_by"`
	Core        Core      `json:"core"`
	Diff        Diff      `json:"diff"`
	Metadata    Metadata  `json:"metadata"`
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{
		Version: SchemaVersion,
		Core:    Core{Items: []CoreItem{}},
		Diff:    Diff{Items: []DiffItem{}},
	}
}

// Validate checks the document invariants: every core item has a category,
// no id appears twice across both sections, diff confidences lie in [0,1],
// counters are non-negative and the token total is the sum of its parts.
func (d *Document) Validate() error {
	if d.Version != SchemaVersion {
		return ValidationError{Field: "version", Reason: fmt.Sprintf("unsupported schema version %d", d.Version)}
	}

	seen := make(map[string]string, len(d.Core.Items)+len(d.Diff.Items))
	for i, it := range d.Core.Items {
		field := fmt.Sprintf("core.items[%d]", i)
		if it.ID == "" {
			return ValidationError{Field: field + ".id", Reason: "is empty"}
		}
		if it.Category == "" {
			return ValidationError{Field: field + ".category", Reason: "core items require a category"}
		}
		if it.ReferenceCount < 0 {
			return ValidationError{Field: field + ".reference_count", Reason: "is negative"}
		}
		if prev, dup := seen[it.ID]; dup {
			return ValidationError{Field: field + ".id", Reason: fmt.Sprintf("duplicate id %q (also in %s)", it.ID, prev)}
		}
		seen[it.ID] = field
	}

	for i, it := range d.Diff.Items {
		field := fmt.Sprintf("diff.items[%d]", i)
		if it.ID == "" {
			return ValidationError{Field: field + ".id", Reason: "is empty"}
		}
		if it.Confidence < 0 || it.Confidence > 1 {
			return ValidationError{Field: field + ".confidence", Reason: fmt.Sprintf("%v is outside [0,1]", it.Confidence)}
		}
		if it.HitCount < 0 {
			return ValidationError{Field: field + ".hit_count", Reason: "is negative"}
		}
		if prev, dup := seen[it.ID]; dup {
			return ValidationError{Field: field + ".id", Reason: fmt.Sprintf("duplicate id %q (also in %s)", it.ID, prev)}
		}
		seen[it.ID] = field
	}

	m := d.Metadata
	if m.TotalTokenCount != m.CoreTokenCount+m.DiffTokenCount {
		return ValidationError{Field: "metadata.total_token_count", Reason: "does not equal core + diff"}
	}

	return nil
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	c := *d
	c.Core.Items = append([]CoreItem{}, d.Core.Items...)
	c.Diff.Items = append([]DiffItem{}, d.Diff.Items...)
	if d.Metadata.LastCurationRun != nil {
		t := *d.Metadata.LastCurationRun
		c.Metadata.LastCurationRun = &t
	}
	if d.Metadata.NextCurationDue != nil {
		t := *d.Metadata.NextCurationDue
		c.Metadata.NextCurationDue = &t
	}
	return &c
}

// FindCore returns the index of the core item with id, or -1.
func (d *Document) FindCore(id string) int {
	for i := range d.Core.Items {
		if d.Core.Items[i].ID == id {
			return i
		}
	}
	return -1
}

// FindDiff returns the index of the diff item with id, or -1.
func (d *Document) FindDiff(id string) int {
	for i := range d.Diff.Items {
		if d.Diff.Items[i].ID == id {
			return i
		}
	}
	return -1
}
