package facts_test

import (
	"errors"
	"fmt"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/mnemo/pkg/facts"
	"github.com/papercomputeco/mnemo/pkg/tokens"
)

var now = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func sequentialIDs() func(string) string {
	n := 0
	return func(prefix string) string {
		n++
		return fmt.Sprintf("%s-gen-%d", prefix, n)
	}
}

func newMutator(policy facts.Policy) *facts.Mutator {
	return facts.NewMutator(
		tokens.NewChars(),
		policy,
		facts.WithClock(func() time.Time { return now }),
		facts.WithIDGenerator(sequentialIDs()),
	)
}

func ptr[T any](v T) *T { return &v }

var _ = Describe("Mutator", func() {
	var (
		m   *facts.Mutator
		doc *facts.Document
	)

	BeforeEach(func() {
		m = newMutator(facts.DefaultPolicy())
		doc = facts.NewDocument()
	})

	Describe("AddDiff", func() {
		It("appends a provisional fact with defaults", func() {
			item, err := m.AddDiff(doc, facts.AddDiffInput{Content: "  CPI prints hot  ", Source: "https://example.com/cpi"}, "assistant")
			Expect(err).NotTo(HaveOccurred())

			Expect(item.ID).To(Equal("diff-gen-1"))
			Expect(item.Content).To(Equal("CPI prints hot"))
			Expect(item.Confidence).To(Equal(facts.DefaultConfidence))
			Expect(item.HitCount).To(BeZero())
			Expect(item.PromotionEligible).To(BeFalse())
			Expect(item.CreatedAt).To(Equal(now))

			Expect(doc.Diff.Items).To(HaveLen(1))
			Expect(doc.UpdatedBy).To(Equal("assistant"))
			Expect(doc.LastUpdated).To(Equal(now))
			Expect(doc.Metadata.DiffTokenCount).To(Equal(4))
			Expect(doc.Metadata.TotalTokenCount).To(Equal(4))
			Expect(doc.Validate()).To(Succeed())
		})

		It("keeps a supplied confidence", func() {
			item, err := m.AddDiff(doc, facts.AddDiffInput{Content: "Oil above 90", Confidence: ptr(0.9)}, "user")
			Expect(err).NotTo(HaveOccurred())
			Expect(item.Confidence).To(Equal(0.9))
		})

		DescribeTable("rejects invalid payloads without touching the document",
			func(in facts.AddDiffInput, field string) {
				before := doc.Clone()

				_, err := m.AddDiff(doc, in, "user")

				var verr facts.ValidationError
				Expect(errors.As(err, &verr)).To(BeTrue())
				Expect(verr.Field).To(Equal(field))
				Expect(doc).To(Equal(before))
			},
			Entry("empty content", facts.AddDiffInput{Content: ""}, "content"),
			Entry("whitespace content", facts.AddDiffInput{Content: "   "}, "content"),
			Entry("short content", facts.AddDiffInput{Content: "ab"}, "content"),
			Entry("confidence above one", facts.AddDiffInput{Content: "valid", Confidence: ptr(1.5)}, "confidence"),
			Entry("negative confidence", facts.AddDiffInput{Content: "valid", Confidence: ptr(-0.1)}, "confidence"),
		)
	})

	Describe("Promote", func() {
		BeforeEach(func() {
			doc.Diff.Items = append(doc.Diff.Items, facts.DiffItem{
				ID:         "diff-1",
				Content:    "Fed holds rates",
				Confidence: 0.9,
				CreatedAt:  now.Add(-time.Hour),
			})
			m.Recount(doc)
		})

		It("moves the diff item into core under the category", func() {
			diffBefore := doc.Metadata.DiffTokenCount
			coreBefore := doc.Metadata.CoreTokenCount

			item, err := m.Promote(doc, "diff-1", "macro", "assistant")
			Expect(err).NotTo(HaveOccurred())

			Expect(doc.Core.Items).To(HaveLen(1))
			Expect(doc.Core.Items[0]).To(Equal(*item))
			Expect(item.Content).To(Equal("Fed holds rates"))
			Expect(item.Category).To(Equal("macro"))
			Expect(item.ReferenceCount).To(BeZero())
			Expect(item.LastVerified).To(Equal(now))
			Expect(item.PromotedFrom).To(Equal("diff-1"))
			Expect(doc.Diff.Items).To(BeEmpty())

			Expect(doc.Metadata.DiffTokenCount).To(BeNumerically("<", diffBefore))
			Expect(doc.Metadata.CoreTokenCount).To(BeNumerically(">", coreBefore))
			Expect(doc.Metadata.TotalTokenCount).To(Equal(doc.Metadata.CoreTokenCount + doc.Metadata.DiffTokenCount))
			Expect(doc.Validate()).To(Succeed())
		})

		It("fails with NotFoundError for an unknown id", func() {
			before := doc.Clone()

			_, err := m.Promote(doc, "diff-404", "macro", "assistant")
			Expect(err).To(MatchError(facts.NotFoundError{ID: "diff-404"}))
			Expect(doc).To(Equal(before))
		})

		It("requires a category", func() {
			_, err := m.Promote(doc, "diff-1", " ", "assistant")

			var verr facts.ValidationError
			Expect(errors.As(err, &verr)).To(BeTrue())
			Expect(verr.Field).To(Equal("category"))
			Expect(doc.Diff.Items).To(HaveLen(1))
		})
	})

	Describe("PruneStale", func() {
		BeforeEach(func() {
			old := now.Add(-40 * 24 * time.Hour)
			doc.Core.Items = append(doc.Core.Items,
				facts.CoreItem{ID: "core-quiet", Content: "rarely used", Category: "misc", LastVerified: old, ReferenceCount: 2},
				facts.CoreItem{ID: "core-busy", Content: "often used", Category: "misc", LastVerified: old, ReferenceCount: 6},
				facts.CoreItem{ID: "core-fresh", Content: "just checked", Category: "misc", LastVerified: now.Add(-24 * time.Hour)},
			)
			m.Recount(doc)
		})

		It("removes only stale items at or below the reference floor", func() {
			removed, err := m.PruneStale(doc, 30, "maintenance")
			Expect(err).NotTo(HaveOccurred())

			Expect(removed).To(HaveLen(1))
			Expect(removed[0].ID).To(Equal("core-quiet"))

			var ids []string
			for _, it := range doc.Core.Items {
				ids = append(ids, it.ID)
			}
			Expect(ids).To(Equal([]string{"core-busy", "core-fresh"}))
			Expect(doc.UpdatedBy).To(Equal("maintenance"))
		})

		It("treats the floor as inclusive", func() {
			doc.Core.Items[0].ReferenceCount = facts.DefaultPruneReferenceFloor

			removed, err := m.PruneStale(doc, 30, "maintenance")
			Expect(err).NotTo(HaveOccurred())
			Expect(removed).To(HaveLen(1))
		})

		It("removes nothing when the threshold is wider than the age", func() {
			removed, err := m.PruneStale(doc, 60, "maintenance")
			Expect(err).NotTo(HaveOccurred())
			Expect(removed).To(BeEmpty())
			Expect(doc.Core.Items).To(HaveLen(3))
		})

		It("rejects a non-positive threshold", func() {
			_, err := m.PruneStale(doc, 0, "maintenance")
			Expect(err).To(BeAssignableToTypeOf(facts.ValidationError{}))
		})
	})

	Describe("Touch", func() {
		BeforeEach(func() {
			doc.Core.Items = append(doc.Core.Items, facts.CoreItem{ID: "core-1", Content: "core fact", Category: "macro", LastVerified: now.Add(-48 * time.Hour)})
			doc.Diff.Items = append(doc.Diff.Items, facts.DiffItem{ID: "diff-1", Content: "diff fact", Confidence: 0.5})
			m.Recount(doc)
		})

		It("counts references and hits", func() {
			n, err := m.Touch(doc, []string{"core-1", "diff-1", "core-1"}, "assistant")
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(3))

			Expect(doc.Core.Items[0].ReferenceCount).To(Equal(2))
			Expect(doc.Core.Items[0].LastVerified).To(Equal(now))
			Expect(doc.Diff.Items[0].HitCount).To(Equal(1))
		})

		It("fails atomically on an unknown id", func() {
			before := doc.Clone()

			_, err := m.Touch(doc, []string{"core-1", "nope"}, "assistant")
			Expect(err).To(MatchError(facts.NotFoundError{ID: "nope"}))
			Expect(doc).To(Equal(before))
		})
	})

	Describe("SeedCore", func() {
		It("writes directly into core", func() {
			item, err := m.SeedCore(doc, facts.SeedCoreInput{Content: "User trades ETFs", Category: "profile"}, "user")
			Expect(err).NotTo(HaveOccurred())
			Expect(item.ID).To(Equal("core-gen-1"))
			Expect(doc.Core.Items).To(HaveLen(1))
			Expect(doc.Core.LastVerified).To(Equal(now))
			Expect(doc.Metadata.CoreTokenCount).To(Equal(4))
		})

		It("requires a category", func() {
			_, err := m.SeedCore(doc, facts.SeedCoreInput{Content: "no category here"}, "user")
			Expect(err).To(BeAssignableToTypeOf(facts.ValidationError{}))
			Expect(doc.Core.Items).To(BeEmpty())
		})
	})

	Describe("RunCuration", func() {
		It("reports that curation is not implemented", func() {
			before := doc.Clone()
			Expect(m.RunCuration(doc, "assistant")).To(MatchError(facts.ErrCurationNotImplemented))
			Expect(doc).To(Equal(before))
		})
	})

	Describe("token ceiling", func() {
		BeforeEach(func() {
			policy := facts.DefaultPolicy()
			policy.TokenCeiling = 10
			m = newMutator(policy)
		})

		It("rejects a mutation that grows the total past the ceiling", func() {
			_, err := m.AddDiff(doc, facts.AddDiffInput{Content: strings.Repeat("x", 32)}, "user")
			Expect(err).NotTo(HaveOccurred())
			Expect(doc.Metadata.TotalTokenCount).To(Equal(8))

			before := doc.Clone()
			_, err = m.AddDiff(doc, facts.AddDiffInput{Content: strings.Repeat("y", 12)}, "user")
			Expect(err).To(MatchError(facts.BudgetExceededError{Ceiling: 10, Total: 11}))
			Expect(doc).To(Equal(before))
		})

		It("accepts mutations that shrink an over-ceiling document", func() {
			old := now.Add(-90 * 24 * time.Hour)
			doc.Core.Items = append(doc.Core.Items,
				facts.CoreItem{ID: "core-a", Content: strings.Repeat("a", 40), Category: "misc", LastVerified: old},
				facts.CoreItem{ID: "core-b", Content: strings.Repeat("b", 40), Category: "misc", LastVerified: now},
			)
			m.Recount(doc)
			Expect(doc.Metadata.TotalTokenCount).To(Equal(20))

			removed, err := m.PruneStale(doc, 30, "maintenance")
			Expect(err).NotTo(HaveOccurred())
			Expect(removed).To(HaveLen(1))
			Expect(doc.Metadata.TotalTokenCount).To(Equal(10))
		})

		It("is unlimited when the ceiling is zero", func() {
			m = newMutator(facts.Policy{MinContentLength: 1, DefaultConfidence: 0.5})
			_, err := m.AddDiff(doc, facts.AddDiffInput{Content: strings.Repeat("z", 4000)}, "user")
			Expect(err).NotTo(HaveOccurred())
			Expect(doc.Metadata.TotalTokenCount).To(Equal(1000))
		})
	})
})
