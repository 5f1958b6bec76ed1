package memory_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/papercomputeco/mnemo/pkg/eventstream"
	"github.com/papercomputeco/mnemo/pkg/facts"
	"github.com/papercomputeco/mnemo/pkg/guard"
	lockmemory "github.com/papercomputeco/mnemo/pkg/lock/memory"
	"github.com/papercomputeco/mnemo/pkg/memory"
	"github.com/papercomputeco/mnemo/pkg/metrics"
	"github.com/papercomputeco/mnemo/pkg/periodlog"
	"github.com/papercomputeco/mnemo/pkg/storage"
	"github.com/papercomputeco/mnemo/pkg/storage/inmemory"
	"github.com/papercomputeco/mnemo/pkg/tokens"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*eventstream.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e *eventstream.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType)
	}
	return out
}

var _ = Describe("Facade", func() {
	var (
		ctx       context.Context
		now       time.Time
		clock     func() time.Time
		store     *inmemory.Driver
		locker    *lockmemory.Locker
		publisher *recordingPublisher
		m         *metrics.Metrics
		f         *memory.Facade
	)

	BeforeEach(func() {
		ctx = context.Background()
		now = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
		clock = func() time.Time { return now }
		store = inmemory.NewDriver()
		locker = lockmemory.NewLocker()
		publisher = &recordingPublisher{}
		m = metrics.New()

		plog, err := periodlog.New(periodlog.Config{
			Dir:   GinkgoT().TempDir(),
			Clock: clock,
		})
		Expect(err).NotTo(HaveOccurred())

		empty, err := facts.Encode(facts.NewDocument())
		Expect(err).NotTo(HaveOccurred())

		g, err := guard.New(guard.Config{
			Store:      store,
			Locker:     locker,
			Trail:      guard.NewTrail(store, clock),
			Attempts:   2,
			Backoff:    time.Millisecond,
			MaxBackoff: 2 * time.Millisecond,
			Empty:      empty,
		})
		Expect(err).NotTo(HaveOccurred())

		policy := facts.DefaultPolicy()
		f, err = memory.New(memory.Config{
			Log:       plog,
			Guard:     g,
			Mutator:   facts.NewMutator(tokens.NewChars(), policy, facts.WithClock(clock)),
			Budget:    1000,
			Reserve:   10,
			Publisher: publisher,
			Metrics:   m,
			Clock:     clock,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	addDiff := func(content string) string {
		res := f.AddDiff(ctx, facts.AddDiffInput{Content: content})
		Expect(res.Err).NotTo(HaveOccurred())
		Expect(res.Success).To(BeTrue())
		return res.Details["id"].(string)
	}

	Describe("New", func() {
		It("requires its collaborators", func() {
			_, err := memory.New(memory.Config{})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Append and LoadContext", func() {
		It("returns appended messages in order", func() {
			for _, content := range []string{"one", "two", "three"} {
				_, err := f.Append(ctx, memory.AppendRequest{Role: periodlog.RoleUser, Content: content})
				Expect(err).NotTo(HaveOccurred())
			}

			w := f.LoadContext(ctx, memory.ContextRequest{})
			Expect(w.Budget).To(Equal(1000))
			Expect(w.Reserve).To(Equal(10))

			var contents []string
			for _, msg := range w.Messages {
				contents = append(contents, msg.Content)
			}
			Expect(contents).To(Equal([]string{"one", "two", "three"}))
		})

		It("keeps only the newest message that fits an override budget", func() {
			sizes := []int{50, 60, 90}
			for i, size := range sizes {
				if i == 2 {
					now = now.AddDate(0, 1, 0)
				}
				_, err := f.Append(ctx, memory.AppendRequest{
					Role:         periodlog.RoleAssistant,
					Content:      "m",
					SizeEstimate: size,
				})
				Expect(err).NotTo(HaveOccurred())
			}

			reserve := 0
			w := f.LoadContext(ctx, memory.ContextRequest{Budget: 120, Reserve: &reserve})
			Expect(w.Messages).To(HaveLen(1))
			Expect(w.Messages[0].SizeEstimate).To(Equal(90))
			Expect(w.Truncated).To(BeTrue())
		})

		It("rejects invalid messages", func() {
			_, err := f.Append(ctx, memory.AppendRequest{Role: "narrator", Content: "hello"})
			Expect(err).To(HaveOccurred())
			Expect(publisher.types()).To(BeEmpty())
		})

		It("publishes and counts appends", func() {
			msg, err := f.Append(ctx, memory.AppendRequest{Role: periodlog.RoleUser, Content: "hello"})
			Expect(err).NotTo(HaveOccurred())

			Expect(publisher.types()).To(Equal([]string{eventstream.EventTypeMessageAppended}))
			Expect(publisher.events[0].Message.ID).To(Equal(msg.ID))
			Expect(testutil.ToFloat64(m.MessagesAppended.WithLabelValues("user"))).To(Equal(1.0))
		})

		It("does not fail an append when publishing fails", func() {
			publisher.err = errors.New("broker down")

			_, err := f.Append(ctx, memory.AppendRequest{Role: periodlog.RoleUser, Content: "hello"})
			Expect(err).NotTo(HaveOccurred())
			Expect(testutil.ToFloat64(m.EventFailures)).To(Equal(1.0))
		})

		It("returns an empty window for an empty log", func() {
			w := f.LoadContext(ctx, memory.ContextRequest{})
			Expect(w.Messages).To(BeEmpty())
		})

		It("keeps every concurrent append", func() {
			var wg sync.WaitGroup
			for range 20 {
				wg.Go(func() {
					defer GinkgoRecover()
					_, err := f.Append(ctx, memory.AppendRequest{Role: periodlog.RoleUser, Content: "parallel"})
					Expect(err).NotTo(HaveOccurred())
				})
			}
			wg.Wait()

			w := f.LoadContext(ctx, memory.ContextRequest{})
			Expect(w.Messages).To(HaveLen(20))
		})
	})

	Describe("GetFacts", func() {
		It("returns the empty document before any mutation", func() {
			view, err := f.GetFacts(ctx, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(view.Core.Items).To(BeEmpty())
			Expect(view.Diff.Items).To(BeEmpty())
			Expect(view.StoreVersion).To(BeZero())
			Expect(view.Warnings).To(BeEmpty())
		})

		It("recovers from an unreadable document", func() {
			_, err := store.CompareAndSwap(ctx, "facts", 0, []byte("{not json"))
			Expect(err).NotTo(HaveOccurred())

			view, err := f.GetFacts(ctx, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(view.Core.Items).To(BeEmpty())
			Expect(view.Warnings).To(HaveLen(1))
		})

		It("includes pruned core items when asked for archived facts", func() {
			seeded := f.SeedCore(ctx, facts.SeedCoreInput{Content: "Rates are sticky", Category: "macro"})
			Expect(seeded.Success).To(BeTrue())

			now = now.AddDate(0, 0, 40)
			pruned := f.PruneStale(ctx, memory.PruneInput{})
			Expect(pruned.Success).To(BeTrue())
			Expect(pruned.Details["removed"]).To(Equal(1))

			view, err := f.GetFacts(ctx, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(view.Archived).To(BeEmpty())

			view, err = f.GetFacts(ctx, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(view.Core.Items).To(BeEmpty())
			Expect(view.Archived).To(HaveLen(1))
			Expect(view.Archived[0].ID).To(Equal(seeded.Details["id"]))
		})

		It("reads only pruning snapshots when collecting archived facts", func() {
			for i, action := range []string{memory.ActionAddDiff, memory.ActionPruneStale} {
				err := store.PutSnapshot(ctx, storage.Snapshot{
					Resource: "facts",
					TakenAt:  now.Add(time.Duration(i-10) * time.Minute),
					Action:   action,
					Data:     []byte("{broken"),
				})
				Expect(err).NotTo(HaveOccurred())
			}

			view, err := f.GetFacts(ctx, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(view.Archived).To(BeEmpty())
			Expect(view.Warnings).To(HaveLen(1))
			Expect(view.Warnings[0]).To(ContainSubstring(now.Add(-9 * time.Minute).Format(storage.SnapshotTimeLayout)))
		})
	})

	Describe("MutateFacts", func() {
		It("adds a diff item from a JSON payload", func() {
			res := f.MutateFacts(ctx, memory.ActionAddDiff, json.RawMessage(`{"content":"Fed holds rates","confidence":0.9}`))
			Expect(res.Success).To(BeTrue())
			Expect(res.Action).To(Equal("add_diff"))
			Expect(res.TokenUsage.Diff).To(Equal(4))
			Expect(res.TokenUsage.Total).To(Equal(4))
			Expect(res.TokenUsage.Ceiling).To(Equal(facts.DefaultTokenCeiling))
			Expect(res.Timestamp).To(BeTemporally("==", now))
			Expect(res.Version).To(Equal(int64(1)))

			view, err := f.GetFacts(ctx, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(view.Diff.Items).To(HaveLen(1))
			Expect(view.Diff.Items[0].Confidence).To(Equal(0.9))
			Expect(view.UpdatedBy).To(Equal(memory.DefaultActor))
		})

		It("promotes a diff item into core", func() {
			id := addDiff("Fed holds rates")

			res := f.MutateFacts(ctx, memory.ActionPromoteToCore, json.RawMessage(`{"diff_id":"`+id+`","category":"macro"}`))
			Expect(res.Success).To(BeTrue())
			Expect(res.TokenUsage.Diff).To(BeZero())
			Expect(res.TokenUsage.Core).To(Equal(4))

			view, err := f.GetFacts(ctx, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(view.Diff.Items).To(BeEmpty())
			Expect(view.Core.Items).To(HaveLen(1))
			Expect(view.Core.Items[0].Content).To(Equal("Fed holds rates"))
			Expect(view.Core.Items[0].Category).To(Equal("macro"))
			Expect(view.Core.Items[0].ReferenceCount).To(BeZero())
		})

		It("touches facts so they survive pruning", func() {
			kept := f.SeedCore(ctx, facts.SeedCoreInput{Content: "Keep me around", Category: "notes"})
			dropped := f.SeedCore(ctx, facts.SeedCoreInput{Content: "Forget me soon", Category: "notes"})
			Expect(kept.Success).To(BeTrue())
			Expect(dropped.Success).To(BeTrue())

			keptID := kept.Details["id"].(string)
			for range 6 {
				Expect(f.Touch(ctx, memory.TouchInput{IDs: []string{keptID}}).Success).To(BeTrue())
			}

			// Touch re-verifies, so age the kept item past the threshold too.
			now = now.AddDate(0, 0, 40)
			res := f.MutateFacts(ctx, memory.ActionPruneStale, json.RawMessage(`{"days_threshold":30}`))
			Expect(res.Success).To(BeTrue())
			Expect(res.Details["removed_ids"]).To(Equal([]string{dropped.Details["id"].(string)}))
		})

		It("stamps the actor carried by the context", func() {
			res := f.AddDiff(memory.WithActor(ctx, "analyst"), facts.AddDiffInput{Content: "Oil is up"})
			Expect(res.Success).To(BeTrue())

			view, err := f.GetFacts(ctx, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(view.UpdatedBy).To(Equal("analyst"))
		})

		DescribeTable("reports rejected mutations",
			func(action, payload string, kind memory.ErrorKind) {
				res := f.MutateFacts(ctx, action, json.RawMessage(payload))
				Expect(res.Success).To(BeFalse())
				Expect(res.Action).To(Equal(action))
				Expect(res.Kind).To(Equal(kind))
				Expect(res.Error).NotTo(BeEmpty())
				Expect(res.Err).To(HaveOccurred())
			},
			Entry("unknown action", "rewrite", `{}`, memory.KindValidation),
			Entry("malformed payload", memory.ActionAddDiff, `{"content":`, memory.KindValidation),
			Entry("empty content", memory.ActionAddDiff, `{"content":"  "}`, memory.KindValidation),
			Entry("confidence out of range", memory.ActionAddDiff, `{"content":"abc","confidence":2}`, memory.KindValidation),
			Entry("promote without category", memory.ActionPromoteToCore, `{"diff_id":"diff-x"}`, memory.KindValidation),
			Entry("promote unknown id", memory.ActionPromoteToCore, `{"diff_id":"diff-x","category":"macro"}`, memory.KindNotFound),
			Entry("negative prune threshold", memory.ActionPruneStale, `{"days_threshold":-1}`, memory.KindValidation),
			Entry("touch unknown id", memory.ActionTouch, `{"ids":["core-x"]}`, memory.KindNotFound),
			Entry("curation", memory.ActionRunCuration, ``, memory.KindNotImplemented),
		)

		It("writes nothing for a rejected mutation", func() {
			res := f.MutateFacts(ctx, memory.ActionRunCuration, nil)
			Expect(res.Kind).To(Equal(memory.KindNotImplemented))
			Expect(errors.Is(res.Err, facts.ErrCurationNotImplemented)).To(BeTrue())

			res = f.Promote(ctx, memory.PromoteInput{DiffID: "diff-missing", Category: "macro"})
			Expect(res.Kind).To(Equal(memory.KindNotFound))

			entries, err := f.Audit(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(BeEmpty())
			Expect(publisher.types()).To(BeEmpty())
		})

		It("rejects growth past the token ceiling", func() {
			// 40000 characters is 10000 tokens, exactly the ceiling.
			long := make([]byte, 40_000)
			for i := range long {
				long[i] = 'a'
			}
			Expect(f.SeedCore(ctx, facts.SeedCoreInput{Content: string(long), Category: "bulk"}).Success).To(BeTrue())

			res := f.AddDiff(ctx, facts.AddDiffInput{Content: "one more"})
			Expect(res.Kind).To(Equal(memory.KindBudgetExceeded))
			var budget facts.BudgetExceededError
			Expect(errors.As(res.Err, &budget)).To(BeTrue())
			Expect(budget.Total).To(Equal(10_002))
		})

		It("reports lock contention as retryable", func() {
			token, err := locker.TryLock(ctx, "facts", time.Minute)
			Expect(err).NotTo(HaveOccurred())
			defer func() { _ = locker.Unlock(ctx, token) }()

			res := f.AddDiff(ctx, facts.AddDiffInput{Content: "blocked fact"})
			Expect(res.Kind).To(Equal(memory.KindLockContention))
			Expect(res.Kind.Retryable()).To(BeTrue())
			Expect(testutil.ToFloat64(m.Mutations.WithLabelValues("add_diff", "lock_contention"))).To(Equal(1.0))
		})

		It("publishes and counts committed mutations", func() {
			addDiff("Fed holds rates")

			Expect(publisher.types()).To(Equal([]string{eventstream.EventTypeFactsMutated}))
			meta := publisher.events[0].Facts
			Expect(meta.Resource).To(Equal("facts"))
			Expect(meta.Action).To(Equal("add_diff"))
			Expect(meta.TokenUsage.Total).To(Equal(4))
			Expect(meta.Snapshot).NotTo(BeEmpty())

			Expect(testutil.ToFloat64(m.Mutations.WithLabelValues("add_diff", "ok"))).To(Equal(1.0))
			Expect(testutil.ToFloat64(m.FactTokens.WithLabelValues("total"))).To(Equal(4.0))
		})
	})

	Describe("Audit", func() {
		It("keeps one snapshot of the prior state per committed mutation", func() {
			before, err := f.GetFacts(ctx, false)
			Expect(err).NotTo(HaveOccurred())

			first := f.AddDiff(ctx, facts.AddDiffInput{Content: "Fed holds rates"})
			Expect(first.Success).To(BeTrue())
			afterFirst, err := f.GetFacts(ctx, false)
			Expect(err).NotTo(HaveOccurred())

			second := f.Promote(ctx, memory.PromoteInput{DiffID: first.Details["id"].(string), Category: "macro"})
			Expect(second.Success).To(BeTrue())

			entries, err := f.Audit(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(2))
			Expect(entries[0].Action).To(Equal("promote_to_core"))
			Expect(entries[0].Name).To(Equal(second.Snapshot))
			Expect(entries[1].Action).To(Equal("add_diff"))
			Expect(entries[1].Name).To(Equal(first.Snapshot))

			snap, err := f.AuditSnapshot(ctx, first.Snapshot)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries[1].Size).To(Equal(int64(len(snap.Data))))
			restored, err := facts.Decode(snap.Data)
			Expect(err).NotTo(HaveOccurred())
			Expect(restored).To(Equal(before.Document))

			snap, err = f.AuditSnapshot(ctx, second.Snapshot)
			Expect(err).NotTo(HaveOccurred())
			restored, err = facts.Decode(snap.Data)
			Expect(err).NotTo(HaveOccurred())
			Expect(restored).To(Equal(afterFirst.Document))
		})
	})

	Describe("corrupt stored document", func() {
		It("reports mutations as internal failures, not caller errors", func() {
			_, err := store.CompareAndSwap(ctx, "facts", 0,
				[]byte(`{"version":1,"core":{"items":[{"id":"c","content":"x"}]},"diff":{"items":[]},"metadata":{}}`))
			Expect(err).NotTo(HaveOccurred())

			res := f.AddDiff(ctx, facts.AddDiffInput{Content: "Fed holds rates"})
			Expect(res.Success).To(BeFalse())
			Expect(res.Kind).To(Equal(memory.KindInternal))
			Expect(res.Error).To(ContainSubstring("corrupt facts document"))
		})
	})

	Describe("Classify", func() {
		It("treats wrapped errors by their cause", func() {
			err := guard.LockContentionError{Resource: "facts", Attempts: 3}
			Expect(memory.Classify(errors.Join(errors.New("outer"), err))).To(Equal(memory.KindLockContention))
			Expect(memory.Classify(context.DeadlineExceeded)).To(Equal(memory.KindCanceled))
			Expect(memory.Classify(errors.New("disk full"))).To(Equal(memory.KindInternal))
			Expect(memory.Classify(facts.CorruptDocumentError{Err: facts.ValidationError{Field: "version"}})).To(Equal(memory.KindInternal))
			Expect(memory.Classify(nil)).To(BeEmpty())
		})
	})
})
