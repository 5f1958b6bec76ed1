// Package drivertest holds the behaviour every storage.Driver must share.
// Backend test suites call Run inside a Describe block.
package drivertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/mnemo/pkg/storage"
)

// Run registers the shared driver specs. newDriver is called before each spec
// and must return an empty store.
func Run(newDriver func() storage.Driver) {
	var (
		ctx    context.Context
		driver storage.Driver
	)

	BeforeEach(func() {
		ctx = context.Background()
		driver = nil
		driver = newDriver()
	})

	AfterEach(func() {
		if driver != nil {
			Expect(driver.Close()).To(Succeed())
		}
	})

	Describe("Load", func() {
		It("returns NotFoundError for an unknown key", func() {
			_, err := driver.Load(ctx, "facts")
			Expect(storage.IsNotFound(err)).To(BeTrue())
		})
	})

	Describe("CompareAndSwap", func() {
		It("creates a key at version one", func() {
			v, err := driver.CompareAndSwap(ctx, "facts", 0, []byte(`{"a":1}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(int64(1)))

			loaded, err := driver.Load(ctx, "facts")
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.Version).To(Equal(int64(1)))
			Expect(loaded.Data).To(MatchJSON(`{"a":1}`))
		})

		It("advances the version on each write", func() {
			v1, err := driver.CompareAndSwap(ctx, "facts", 0, []byte(`{"a":1}`))
			Expect(err).NotTo(HaveOccurred())

			v2, err := driver.CompareAndSwap(ctx, "facts", v1, []byte(`{"a":2}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(v2).To(Equal(v1 + 1))

			loaded, err := driver.Load(ctx, "facts")
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.Data).To(MatchJSON(`{"a":2}`))
		})

		It("rejects a stale version and keeps the stored data", func() {
			v1, err := driver.CompareAndSwap(ctx, "facts", 0, []byte(`{"a":1}`))
			Expect(err).NotTo(HaveOccurred())
			_, err = driver.CompareAndSwap(ctx, "facts", v1, []byte(`{"a":2}`))
			Expect(err).NotTo(HaveOccurred())

			_, err = driver.CompareAndSwap(ctx, "facts", v1, []byte(`{"a":3}`))
			Expect(storage.IsVersionConflict(err)).To(BeTrue())

			loaded, err := driver.Load(ctx, "facts")
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.Data).To(MatchJSON(`{"a":2}`))
		})

		It("rejects creating a key that already exists", func() {
			_, err := driver.CompareAndSwap(ctx, "facts", 0, []byte(`{}`))
			Expect(err).NotTo(HaveOccurred())

			_, err = driver.CompareAndSwap(ctx, "facts", 0, []byte(`{}`))
			Expect(storage.IsVersionConflict(err)).To(BeTrue())
		})

		It("lets exactly one of several racing writers win", func() {
			_, err := driver.CompareAndSwap(ctx, "facts", 0, []byte(`{}`))
			Expect(err).NotTo(HaveOccurred())

			var (
				wg   sync.WaitGroup
				mu   sync.Mutex
				wins int
			)
			for range 8 {
				wg.Go(func() {
					defer GinkgoRecover()
					_, err := driver.CompareAndSwap(ctx, "facts", 1, []byte(`{"w":true}`))
					if err == nil {
						mu.Lock()
						wins++
						mu.Unlock()
						return
					}
					Expect(storage.IsVersionConflict(err)).To(BeTrue())
				})
			}
			wg.Wait()
			Expect(wins).To(Equal(1))
		})
	})

	Describe("snapshots", func() {
		base := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

		It("lists snapshots newest first", func() {
			for i, action := range []string{"add_diff", "promote_to_core", "prune_stale"} {
				err := driver.PutSnapshot(ctx, storage.Snapshot{
					Resource: "facts",
					TakenAt:  base.Add(time.Duration(i) * time.Second),
					Action:   action,
					Data:     []byte(fmt.Sprintf(`{"n":%d}`, i)),
				})
				Expect(err).NotTo(HaveOccurred())
			}

			list, err := driver.ListSnapshots(ctx, "facts")
			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(HaveLen(3))
			Expect(list[0].Action).To(Equal("prune_stale"))
			Expect(list[0].Data).To(MatchJSON(`{"n":2}`))
			Expect(list[2].Action).To(Equal("add_diff"))
			Expect(list[2].TakenAt.Equal(base)).To(BeTrue())
		})

		It("lists snapshot metadata newest first without content", func() {
			for i, action := range []string{"add_diff", "prune_stale"} {
				err := driver.PutSnapshot(ctx, storage.Snapshot{
					Resource: "facts",
					TakenAt:  base.Add(time.Duration(i) * time.Second),
					Action:   action,
					Data:     []byte(fmt.Sprintf(`{"n":%d}`, i*10)),
				})
				Expect(err).NotTo(HaveOccurred())
			}

			infos, err := driver.ListSnapshotInfo(ctx, "facts")
			Expect(err).NotTo(HaveOccurred())
			Expect(infos).To(HaveLen(2))
			Expect(infos[0].Action).To(Equal("prune_stale"))
			Expect(infos[0].Size).To(Equal(int64(len(`{"n":10}`))))
			Expect(infos[1].Name()).To(Equal(base.Format(storage.SnapshotTimeLayout)))
			Expect(infos[1].Size).To(Equal(int64(len(`{"n":0}`))))

			empty, err := driver.ListSnapshotInfo(ctx, "other")
			Expect(err).NotTo(HaveOccurred())
			Expect(empty).To(BeEmpty())
		})

		It("refuses to overwrite a snapshot", func() {
			snap := storage.Snapshot{Resource: "facts", TakenAt: base, Action: "add_diff", Data: []byte(`{}`)}
			Expect(driver.PutSnapshot(ctx, snap)).To(Succeed())

			snap.Data = []byte(`{"x":1}`)
			Expect(driver.PutSnapshot(ctx, snap)).To(MatchError(storage.ErrSnapshotExists))

			got, err := driver.GetSnapshot(ctx, "facts", snap.Name())
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Data).To(MatchJSON(`{}`))
		})

		It("keeps resources apart", func() {
			Expect(driver.PutSnapshot(ctx, storage.Snapshot{Resource: "a", TakenAt: base, Action: "add_diff", Data: []byte(`{}`)})).To(Succeed())

			list, err := driver.ListSnapshots(ctx, "b")
			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(BeEmpty())
		})

		It("returns NotFoundError for an unknown snapshot", func() {
			_, err := driver.GetSnapshot(ctx, "facts", base.Format(storage.SnapshotTimeLayout))
			Expect(storage.IsNotFound(err)).To(BeTrue())
		})
	})
}
