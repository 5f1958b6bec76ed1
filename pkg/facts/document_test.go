package facts_test

import (
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/mnemo/pkg/facts"
)

var _ = Describe("Document", func() {
	var doc *facts.Document

	BeforeEach(func() {
		doc = facts.NewDocument()
		doc.Core.Items = []facts.CoreItem{{ID: "core-1", Content: "Fed holds rates", Category: "macro"}}
		doc.Diff.Items = []facts.DiffItem{{ID: "diff-1", Content: "Oil above 90", Confidence: 0.7}}
		doc.Metadata = facts.Metadata{CoreTokenCount: 4, DiffTokenCount: 3, TotalTokenCount: 7}
	})

	It("accepts a well formed document", func() {
		Expect(doc.Validate()).To(Succeed())
	})

	DescribeTable("rejects broken invariants",
		func(mutate func(d *facts.Document), field string) {
			mutate(doc)

			var verr facts.ValidationError
			Expect(errors.As(doc.Validate(), &verr)).To(BeTrue())
			Expect(verr.Field).To(Equal(field))
		},
		Entry("core item without category", func(d *facts.Document) { d.Core.Items[0].Category = "" }, "core.items[0].category"),
		Entry("id shared by core and diff", func(d *facts.Document) { d.Diff.Items[0].ID = "core-1" }, "diff.items[0].id"),
		Entry("confidence out of range", func(d *facts.Document) { d.Diff.Items[0].Confidence = 2 }, "diff.items[0].confidence"),
		Entry("negative reference count", func(d *facts.Document) { d.Core.Items[0].ReferenceCount = -1 }, "core.items[0].reference_count"),
		Entry("total mismatch", func(d *facts.Document) { d.Metadata.TotalTokenCount = 99 }, "metadata.total_token_count"),
		Entry("unknown version", func(d *facts.Document) { d.Version = 7 }, "version"),
	)

	It("clones deeply", func() {
		ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		doc.Metadata.LastCurationRun = &ts

		c := doc.Clone()
		c.Core.Items[0].Content = "changed"
		*c.Metadata.LastCurationRun = ts.Add(time.Hour)

		Expect(doc.Core.Items[0].Content).To(Equal("Fed holds rates"))
		Expect(*doc.Metadata.LastCurationRun).To(Equal(ts))
	})

	Describe("codec", func() {
		It("round trips through Encode and Decode", func() {
			data, err := facts.Encode(doc)
			Expect(err).NotTo(HaveOccurred())

			decoded, err := facts.Decode(data)
			Expect(err).NotTo(HaveOccurred())
			Expect(decoded.Core.Items[0].ID).To(Equal("core-1"))
			Expect(decoded.Metadata.TotalTokenCount).To(Equal(7))
		})

		It("decodes empty input as a fresh document", func() {
			decoded, err := facts.Decode(nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(decoded).To(Equal(facts.NewDocument()))
		})

		It("refuses to encode an invalid document", func() {
			doc.Core.Items[0].Category = ""
			_, err := facts.Encode(doc)
			Expect(err).To(BeAssignableToTypeOf(facts.ValidationError{}))
		})

		It("rejects documents with missing categories on decode", func() {
			_, err := facts.Decode([]byte(`{"version":1,"core":{"items":[{"id":"c","content":"x"}]},"diff":{"items":[]},"metadata":{}}`))
			var corrupt facts.CorruptDocumentError
			Expect(errors.As(err, &corrupt)).To(BeTrue())
			var verr facts.ValidationError
			Expect(errors.As(err, &verr)).To(BeTrue())
			Expect(verr.Field).NotTo(BeEmpty())
		})

		It("rejects garbage", func() {
			_, err := facts.Decode([]byte("{not json"))
			Expect(err).To(MatchError(ContainSubstring("decoding facts document")))
		})
	})

	Describe("Archived", func() {
		It("returns core items that left the live document, newest copy first", func() {
			older := facts.NewDocument()
			older.Core.Items = []facts.CoreItem{
				{ID: "core-gone", Content: "old wording", Category: "macro"},
				{ID: "core-1", Content: "Fed holds rates", Category: "macro"},
			}
			newer := facts.NewDocument()
			newer.Core.Items = []facts.CoreItem{
				{ID: "core-gone", Content: "new wording", Category: "macro"},
				{ID: "core-pruned", Content: "stale", Category: "misc"},
			}

			archived := facts.Archived(doc, []*facts.Document{newer, older, nil})

			Expect(archived).To(HaveLen(2))
			Expect(archived[0].ID).To(Equal("core-gone"))
			Expect(archived[0].Content).To(Equal("new wording"))
			Expect(archived[1].ID).To(Equal("core-pruned"))
		})

		It("is empty without snapshots", func() {
			Expect(facts.Archived(doc, nil)).To(BeEmpty())
		})
	})
})

var _ = Describe("DocumentCache", func() {
	var (
		cache *facts.DocumentCache
		data  []byte
	)

	BeforeEach(func() {
		cache = facts.NewDocumentCache(0)

		doc := facts.NewDocument()
		doc.Core.Items = []facts.CoreItem{{ID: "core-1", Content: "Fed holds rates", Category: "macro"}}
		doc.Metadata = facts.Metadata{CoreTokenCount: 4, TotalTokenCount: 4}

		var err error
		data, err = facts.Encode(doc)
		Expect(err).NotTo(HaveOccurred())
	})

	It("returns independent copies of the cached decode", func() {
		first, err := cache.Decode("facts", data)
		Expect(err).NotTo(HaveOccurred())
		first.Core.Items[0].Content = "mutated by caller"

		second, err := cache.Decode("facts", data)
		Expect(err).NotTo(HaveOccurred())
		Expect(second.Core.Items[0].Content).To(Equal("Fed holds rates"))
		Expect(cache.Len()).To(Equal(1))
	})

	It("re-decodes when the bytes change", func() {
		_, err := cache.Decode("facts", data)
		Expect(err).NotTo(HaveOccurred())

		changed, err := cache.Decode("facts", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(changed.Core.Items).To(BeEmpty())
	})

	It("keeps resources apart", func() {
		_, err := cache.Decode("a", data)
		Expect(err).NotTo(HaveOccurred())
		b, err := cache.Decode("b", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(b.Core.Items).To(BeEmpty())
		Expect(cache.Len()).To(Equal(2))

		cache.Invalidate("a")
		Expect(cache.Len()).To(Equal(1))
	})

	It("does not cache decode failures", func() {
		_, err := cache.Decode("facts", []byte("nope"))
		Expect(err).To(HaveOccurred())
		Expect(cache.Len()).To(BeZero())
	})
})
