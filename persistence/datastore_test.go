package persistence_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	. "github.com/procman/procman/persistence"
	"github.com/procman/procman/persistence/memorypersistence"
)

// providerStub is a Provider that delegates to an in-memory provider unless
// OpenFunc is set.
type providerStub struct {
	Memory   memorypersistence.Provider
	OpenFunc func(context.Context, string) (DataStore, error)
}

func (p *providerStub) Open(ctx context.Context, name string) (DataStore, error) {
	if p.OpenFunc != nil {
		return p.OpenFunc(ctx, name)
	}

	return p.Memory.Open(ctx, name)
}

var _ = Describe("type DataStoreSet", func() {
	var (
		ctx      = context.Background()
		provider *providerStub
		set      *DataStoreSet
	)

	BeforeEach(func() {
		provider = &providerStub{}

		set = &DataStoreSet{
			Provider: provider,
		}
	})

	AfterEach(func() {
		set.Close()
	})

	Describe("func Get()", func() {
		It("opens a data-store", func() {
			expect, err := provider.Memory.Open(ctx, "<store>")
			Expect(err).ShouldNot(HaveOccurred())

			provider.OpenFunc = func(
				_ context.Context,
				n string,
			) (DataStore, error) {
				Expect(n).To(Equal("<store>"))
				return expect, nil
			}

			ds, err := set.Get(ctx, "<store>")
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ds).To(BeIdenticalTo(expect))
		})

		It("returns the same instance on subsequent calls", func() {
			ds1, err := set.Get(ctx, "<store>")
			Expect(err).ShouldNot(HaveOccurred())

			ds2, err := set.Get(ctx, "<store>")
			Expect(err).ShouldNot(HaveOccurred())

			Expect(ds1).To(BeIdenticalTo(ds2))
		})

		It("returns an error if the provider cannot open the store", func() {
			provider.OpenFunc = func(
				context.Context,
				string,
			) (DataStore, error) {
				return nil, errors.New("<error>")
			}

			ds, err := set.Get(ctx, "<store>")
			if ds != nil {
				ds.Close()
			}
			Expect(err).To(MatchError("<error>"))
		})
	})

	Describe("func Close()", func() {
		It("closes the data-stores in the set", func() {
			ds, err := set.Get(ctx, "<store>")
			Expect(err).ShouldNot(HaveOccurred())

			err = set.Close()
			Expect(err).ShouldNot(HaveOccurred())

			_, err = ds.Begin(ctx)
			Expect(err).To(Equal(ErrDataStoreClosed))
		})
	})
})
