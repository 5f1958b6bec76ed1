package sqlite_test

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/mnemo/pkg/storage"
	"github.com/papercomputeco/mnemo/pkg/storage/drivertest"
	"github.com/papercomputeco/mnemo/pkg/storage/sqlite"
)

var _ = Describe("Driver", func() {
	drivertest.Run(func() storage.Driver {
		driver, err := sqlite.NewDriver(context.Background(), ":memory:")
		Expect(err).NotTo(HaveOccurred())
		return driver
	})

	Describe("NewDriver", func() {
		It("creates a driver with file database", func() {
			ctx := context.Background()
			dbPath := filepath.Join(GinkgoT().TempDir(), "test.db")

			s, err := sqlite.NewDriver(ctx, dbPath)
			Expect(err).NotTo(HaveOccurred())

			_, err = s.CompareAndSwap(ctx, "facts", 0, []byte(`{}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Close()).To(Succeed())

			// Verify file was created
			_, err = os.Stat(dbPath)
			Expect(err).NotTo(HaveOccurred())

			reopened, err := sqlite.NewDriver(ctx, dbPath)
			Expect(err).NotTo(HaveOccurred())
			defer reopened.Close()

			loaded, err := reopened.Load(ctx, "facts")
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.Version).To(Equal(int64(1)))
		})
	})
})
