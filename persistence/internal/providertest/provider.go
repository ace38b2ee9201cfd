package providertest

import (
	"github.com/procman/procman/persistence"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
)

func declareProviderTests(tc *TestContext) {
	ginkgo.Describe("type Provider (interface)", func() {
		var (
			provider persistence.Provider
			close    func()
		)

		ginkgo.BeforeEach(func() {
			provider, close = tc.Out.NewProvider()
		})

		ginkgo.AfterEach(func() {
			if close != nil {
				close()
			}
		})

		ginkgo.Describe("func Open()", func() {
			ginkgo.It("returns different instances for different names", func() {
				ds1, err := provider.Open(tc.Context, "<store-1>")
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				defer ds1.Close()

				ds2, err := provider.Open(tc.Context, "<store-2>")
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				defer ds2.Close()

				gomega.Expect(ds1).ToNot(gomega.BeIdenticalTo(ds2))
			})

			ginkgo.It("returns an error if the data-store is already open", func() {
				ds, err := provider.Open(tc.Context, StoreName)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				defer ds.Close()

				_, err = provider.Open(tc.Context, StoreName)
				gomega.Expect(err).To(gomega.Equal(persistence.ErrDataStoreLocked))
			})

			ginkgo.It("allows the data-store to be re-opened after it is closed", func() {
				ds, err := provider.Open(tc.Context, StoreName)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				err = ds.Close()
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				ds, err = provider.Open(tc.Context, StoreName)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				ds.Close()
			})

			ginkgo.It("keeps the data of different data-stores separate", func() {
				ds1, err := provider.Open(tc.Context, "<store-1>")
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				defer ds1.Close()

				ds2, err := provider.Open(tc.Context, "<store-2>")
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				defer ds2.Close()

				h := insert(tc.Context, ds1, "<row>")

				_, ok := load(tc.Context, ds2, h)
				gomega.Expect(ok).To(gomega.BeFalse())
			})

			ginkgo.It("retains data after the data-store is closed", func() {
				ds, err := provider.Open(tc.Context, StoreName)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				h := insert(tc.Context, ds, "<row>")

				err = ds.Close()
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				ds, err = provider.Open(tc.Context, StoreName)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				defer ds.Close()

				p, ok := load(tc.Context, ds, h)
				gomega.Expect(ok).To(gomega.BeTrue())
				gomega.Expect(p).To(gomega.Equal(packet("<row>")))
			})
		})
	})
}
