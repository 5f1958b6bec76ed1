package redis_test

import (
	"context"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/mnemo/pkg/lock"
	"github.com/papercomputeco/mnemo/pkg/lock/locktest"
	"github.com/papercomputeco/mnemo/pkg/lock/redis"
)

// redisAddr returns the Redis address from environment or skips the test.
func redisAddr() string {
	addr := os.Getenv("MNEMO_TEST_REDIS_ADDR")
	if addr == "" {
		Skip("MNEMO_TEST_REDIS_ADDR not set, skipping Redis tests")
	}
	return addr
}

var _ = Describe("Locker", func() {
	var locker *redis.Locker

	AfterEach(func() {
		if locker != nil {
			Expect(locker.Close()).To(Succeed())
			locker = nil
		}
	})

	locktest.Run(func() lock.Locker {
		var err error
		locker, err = redis.Dial(context.Background(), redisAddr())
		Expect(err).NotTo(HaveOccurred())
		return locker
	})
})
