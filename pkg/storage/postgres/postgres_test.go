package postgres_test

import (
	"context"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/mnemo/pkg/storage"
	"github.com/papercomputeco/mnemo/pkg/storage/drivertest"
	"github.com/papercomputeco/mnemo/pkg/storage/postgres"
)

// connStr returns the PostgreSQL connection string from environment or skips the test.
func connStr() string {
	dsn := os.Getenv("MNEMO_TEST_POSTGRES_DSN")
	if dsn == "" {
		Skip("MNEMO_TEST_POSTGRES_DSN not set, skipping PostgreSQL tests")
	}
	return dsn
}

var _ = Describe("Driver", func() {
	drivertest.Run(func() storage.Driver {
		ctx := context.Background()

		driver, err := postgres.NewDriver(ctx, connStr())
		Expect(err).NotTo(HaveOccurred())

		// Clean all rows before each test for isolation.
		_, err = driver.DB.ExecContext(ctx, "DELETE FROM mnemo_documents")
		Expect(err).NotTo(HaveOccurred())
		_, err = driver.DB.ExecContext(ctx, "DELETE FROM mnemo_snapshots")
		Expect(err).NotTo(HaveOccurred())

		return driver
	})
})
