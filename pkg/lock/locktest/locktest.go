// Package locktest holds the behaviour every lock.Locker must share.
package locktest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/mnemo/pkg/lock"
)

// Run registers the shared locker specs. newLocker is called before each
// spec and must return a locker with no held resources.
func Run(newLocker func() lock.Locker) {
	var (
		ctx    context.Context
		locker lock.Locker
	)

	BeforeEach(func() {
		ctx = context.Background()
		locker = newLocker()
	})

	It("excludes a second holder until released", func() {
		t, err := locker.TryLock(ctx, "facts", time.Minute)
		Expect(err).NotTo(HaveOccurred())
		Expect(t.Resource).To(Equal("facts"))
		Expect(t.Value).NotTo(BeEmpty())

		_, err = locker.TryLock(ctx, "facts", time.Minute)
		Expect(err).To(MatchError(lock.ErrHeld))

		Expect(locker.Unlock(ctx, t)).To(Succeed())

		t2, err := locker.TryLock(ctx, "facts", time.Minute)
		Expect(err).NotTo(HaveOccurred())
		Expect(t2.Value).NotTo(Equal(t.Value))
		Expect(locker.Unlock(ctx, t2)).To(Succeed())
	})

	It("locks resources independently", func() {
		a, err := locker.TryLock(ctx, "alpha", time.Minute)
		Expect(err).NotTo(HaveOccurred())
		b, err := locker.TryLock(ctx, "beta", time.Minute)
		Expect(err).NotTo(HaveOccurred())

		Expect(locker.Unlock(ctx, a)).To(Succeed())
		Expect(locker.Unlock(ctx, b)).To(Succeed())
	})

	It("refuses to release with a foreign token", func() {
		t, err := locker.TryLock(ctx, "facts", time.Minute)
		Expect(err).NotTo(HaveOccurred())

		forged := t
		forged.Value = "not-the-owner"
		Expect(locker.Unlock(ctx, forged)).To(MatchError(lock.ErrNotHeld))

		_, err = locker.TryLock(ctx, "facts", time.Minute)
		Expect(err).To(MatchError(lock.ErrHeld))
		Expect(locker.Unlock(ctx, t)).To(Succeed())
	})

	It("lets an expired lock be taken over", func() {
		stale, err := locker.TryLock(ctx, "facts", 50*time.Millisecond)
		Expect(err).NotTo(HaveOccurred())

		var fresh lock.Token
		Eventually(func() error {
			fresh, err = locker.TryLock(ctx, "facts", time.Minute)
			return err
		}).WithTimeout(3 * time.Second).WithPolling(20 * time.Millisecond).Should(Succeed())

		Expect(locker.Unlock(ctx, stale)).To(MatchError(lock.ErrNotHeld))
		Expect(locker.Unlock(ctx, fresh)).To(Succeed())
	})

	It("admits one holder when callers race to take over an expired lock", func() {
		for range 25 {
			_, err := locker.TryLock(ctx, "facts", time.Millisecond)
			Expect(err).NotTo(HaveOccurred())
			time.Sleep(5 * time.Millisecond)

			var (
				wg    sync.WaitGroup
				start = make(chan struct{})
				won   = make(chan lock.Token, 8)
			)
			for range 8 {
				wg.Go(func() {
					defer GinkgoRecover()
					<-start
					t, err := locker.TryLock(ctx, "facts", time.Minute)
					if err != nil {
						Expect(err).To(MatchError(lock.ErrHeld))
						return
					}
					won <- t
				})
			}
			close(start)
			wg.Wait()
			close(won)

			Expect(won).To(HaveLen(1))
			Expect(locker.Unlock(ctx, <-won)).To(Succeed())
		}
	})

	It("admits one holder among concurrent callers", func() {
		var (
			wg      sync.WaitGroup
			holders atomic.Int32
			peak    atomic.Int32
		)
		for range 8 {
			wg.Go(func() {
				defer GinkgoRecover()
				for range 20 {
					t, err := locker.TryLock(ctx, "facts", time.Minute)
					if err != nil {
						Expect(err).To(MatchError(lock.ErrHeld))
						continue
					}
					n := holders.Add(1)
					if n > peak.Load() {
						peak.Store(n)
					}
					holders.Add(-1)
					Expect(locker.Unlock(ctx, t)).To(Succeed())
				}
			})
		}
		wg.Wait()
		Expect(peak.Load()).To(Equal(int32(1)))
	})
}
