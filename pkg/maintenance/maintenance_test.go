package maintenance_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/mnemo/pkg/maintenance"
	"github.com/papercomputeco/mnemo/pkg/memory"
)

type fakePruner struct {
	mu        sync.Mutex
	calls     []memory.PruneInput
	deadlines []bool
	result    *memory.Result
}

func (p *fakePruner) PruneStale(ctx context.Context, in memory.PruneInput) *memory.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, in)
	_, hasDeadline := ctx.Deadline()
	p.deadlines = append(p.deadlines, hasDeadline)
	if p.result != nil {
		return p.result
	}
	return &memory.Result{Success: true, Action: memory.ActionPruneStale, Details: map[string]any{"removed": 0}}
}

func (p *fakePruner) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

var _ = Describe("Scheduler", func() {
	var pruner *fakePruner

	BeforeEach(func() {
		pruner = &fakePruner{}
	})

	DescribeTable("ParseSchedule",
		func(spec string, valid bool) {
			_, err := maintenance.ParseSchedule(spec)
			if valid {
				Expect(err).NotTo(HaveOccurred())
			} else {
				Expect(err).To(HaveOccurred())
			}
		},
		Entry("five fields", "0 3 * * *", true),
		Entry("descriptor", "@daily", true),
		Entry("interval", "@every 1h", true),
		Entry("empty", "", false),
		Entry("seconds field", "0 0 3 * * *", false),
		Entry("garbage", "whenever", false),
	)

	It("rejects a missing pruner", func() {
		_, err := maintenance.New(nil, maintenance.Config{Schedule: "@daily"})
		Expect(err).To(HaveOccurred())
	})

	It("computes the next run in UTC", func() {
		s, err := maintenance.New(pruner, maintenance.Config{Schedule: "0 3 * * *"})
		Expect(err).NotTo(HaveOccurred())

		from := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
		Expect(s.Next(from)).To(BeTemporally("==", time.Date(2026, 3, 16, 3, 0, 0, 0, time.UTC)))
	})

	It("passes the threshold and a bounded context on each run", func() {
		s, err := maintenance.New(pruner, maintenance.Config{Schedule: "@daily", DaysThreshold: 14})
		Expect(err).NotTo(HaveOccurred())

		res := s.RunOnce(context.Background())
		Expect(res.Success).To(BeTrue())
		Expect(s.Last()).To(BeIdenticalTo(res))
		Expect(pruner.calls).To(Equal([]memory.PruneInput{{DaysThreshold: 14}}))
		Expect(pruner.deadlines).To(Equal([]bool{true}))
	})

	It("keeps failed runs as the last result", func() {
		pruner.result = &memory.Result{Action: memory.ActionPruneStale, Kind: memory.KindLockContention, Error: "busy"}
		s, err := maintenance.New(pruner, maintenance.Config{Schedule: "@daily"})
		Expect(err).NotTo(HaveOccurred())

		s.RunOnce(context.Background())
		Expect(s.Last().Kind).To(Equal(memory.KindLockContention))
	})

	It("runs on schedule until cancelled", func() {
		s, err := maintenance.New(pruner, maintenance.Config{Schedule: "@every 1s"})
		Expect(err).NotTo(HaveOccurred())

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- s.Run(ctx) }()

		Eventually(pruner.count, 5*time.Second, 50*time.Millisecond).Should(BeNumerically(">=", 1))

		cancel()
		Eventually(done, 5*time.Second).Should(Receive(BeNil()))
	})
})
