package cache_test

import (
	"context"
	"errors"
	"reflect"

	"github.com/dogmatiq/marshalkit/codec"
	"github.com/dogmatiq/marshalkit/codec/json"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/procman/procman/persistence"
	. "github.com/procman/procman/persistence/cache"
	"github.com/procman/procman/persistence/memorypersistence"
)

type record struct {
	Value string
}

// countingMap is a HandleMap that counts the number of calls to Get().
type countingMap struct {
	persistence.HandleMap[*record]
	gets int
}

func (m *countingMap) Get(
	ctx context.Context,
	tx persistence.Transaction,
	h persistence.Handle,
) (*record, bool, error) {
	m.gets++
	return m.HandleMap.Get(ctx, tx, h)
}

// failingDataStore is a DataStore whose transactions fail to commit when fail
// is true.
type failingDataStore struct {
	persistence.DataStore
	fail bool
}

func (ds *failingDataStore) Begin(ctx context.Context) (persistence.Transaction, error) {
	tx, err := ds.DataStore.Begin(ctx)
	if err != nil {
		return nil, err
	}

	return &failingTransaction{tx, ds}, nil
}

type failingTransaction struct {
	persistence.Transaction
	ds *failingDataStore
}

func (tx *failingTransaction) Commit(ctx context.Context) error {
	if tx.ds.fail {
		tx.Transaction.Rollback()
		return errors.New("<commit failed>")
	}

	return tx.Transaction.Commit(ctx)
}

var _ = Describe("type Map", func() {
	var (
		ctx       context.Context
		dataStore *failingDataStore
		next      *countingMap
		cache     *Map[*record]
	)

	clone := func(r *record) *record {
		c := *r
		return &c
	}

	put := func(value string) persistence.Handle {
		var h persistence.Handle

		err := persistence.WithTransaction(
			ctx,
			dataStore,
			func(tx persistence.Transaction) error {
				var err error
				h, err = cache.Put(ctx, tx, &record{value})
				return err
			},
		)
		Expect(err).ShouldNot(HaveOccurred())

		return h
	}

	get := func(h persistence.Handle) (*record, bool) {
		var (
			r  *record
			ok bool
		)

		err := persistence.WithTransaction(
			ctx,
			dataStore,
			func(tx persistence.Transaction) error {
				var err error
				r, ok, err = cache.Get(ctx, tx, h)
				return err
			},
		)
		Expect(err).ShouldNot(HaveOccurred())

		return r, ok
	}

	BeforeEach(func() {
		ctx = context.Background()

		m, err := codec.NewMarshaler(
			[]reflect.Type{reflect.TypeOf(&record{})},
			[]codec.Codec{&json.Codec{}},
		)
		Expect(err).ShouldNot(HaveOccurred())

		ds, err := (&memorypersistence.Provider{}).Open(ctx, "<store>")
		Expect(err).ShouldNot(HaveOccurred())
		DeferCleanup(func() { ds.Close() })

		dataStore = &failingDataStore{DataStore: ds}

		next = &countingMap{
			HandleMap: &persistence.Map[*record]{
				Table:     "records",
				Marshaler: m,
			},
		}

		cache = New[*record](next, 1, clone)
	})

	Describe("func Get()", func() {
		It("serves committed values from the cache", func() {
			h := put("<value>")

			r, ok := get(h)
			Expect(ok).To(BeTrue())
			Expect(r.Value).To(Equal("<value>"))
			Expect(next.gets).To(Equal(0))
		})

		It("loads values that have been evicted", func() {
			h1 := put("<value-1>")
			h2 := put("<value-2>") // capacity is 1, evicting h1

			r, ok := get(h1)
			Expect(ok).To(BeTrue())
			Expect(r.Value).To(Equal("<value-1>"))
			Expect(next.gets).To(Equal(1))

			r, ok = get(h2)
			Expect(ok).To(BeTrue())
			Expect(r.Value).To(Equal("<value-2>"))
			Expect(next.gets).To(Equal(2))
		})

		It("returns copies of the cached value", func() {
			h := put("<value>")

			r, _ := get(h)
			r.Value = "<modified>"

			r, _ = get(h)
			Expect(r.Value).To(Equal("<value>"))
		})

		It("reads uncommitted writes made within the same transaction", func() {
			h := put("<original>")

			tx, err := dataStore.Begin(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			defer tx.Close()

			err = cache.Set(ctx, tx, h, &record{"<updated>"})
			Expect(err).ShouldNot(HaveOccurred())

			r, ok, err := cache.Get(ctx, tx, h)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(r.Value).To(Equal("<updated>"))
		})

		It("does not expose uncommitted writes to other transactions", func() {
			h := put("<original>")

			tx, err := dataStore.Begin(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			defer tx.Close()

			err = cache.Set(ctx, tx, h, &record{"<updated>"})
			Expect(err).ShouldNot(HaveOccurred())

			r, _ := get(h)
			Expect(r.Value).To(Equal("<original>"))
		})
	})

	Describe("func Set()", func() {
		It("replaces the cached value when the transaction is committed", func() {
			h := put("<original>")

			err := persistence.WithTransaction(
				ctx,
				dataStore,
				func(tx persistence.Transaction) error {
					return cache.Set(ctx, tx, h, &record{"<updated>"})
				},
			)
			Expect(err).ShouldNot(HaveOccurred())

			r, _ := get(h)
			Expect(r.Value).To(Equal("<updated>"))
			Expect(next.gets).To(Equal(0))
		})

		It("evicts the cached value when the commit fails", func() {
			h := put("<original>")

			dataStore.fail = true
			err := persistence.WithTransaction(
				ctx,
				dataStore,
				func(tx persistence.Transaction) error {
					return cache.Set(ctx, tx, h, &record{"<updated>"})
				},
			)
			Expect(err).To(MatchError("<commit failed>"))
			Expect(cache.Len()).To(Equal(0))

			dataStore.fail = false
			r, _ := get(h)
			Expect(r.Value).To(Equal("<original>"))
			Expect(next.gets).To(Equal(1))
		})
	})

	Describe("func Remove()", func() {
		It("evicts the cached value when the transaction is committed", func() {
			h := put("<value>")

			err := persistence.WithTransaction(
				ctx,
				dataStore,
				func(tx persistence.Transaction) error {
					_, err := cache.Remove(ctx, tx, h)
					return err
				},
			)
			Expect(err).ShouldNot(HaveOccurred())

			_, ok := get(h)
			Expect(ok).To(BeFalse())
		})
	})

	Describe("func InvalidateCache()", func() {
		It("causes the next read to load the value", func() {
			h := put("<value>")

			cache.InvalidateCache(h)

			get(h)
			Expect(next.gets).To(Equal(1))
		})
	})

	Describe("func InvalidateAll()", func() {
		It("empties the cache", func() {
			put("<value>")

			cache.InvalidateAll()
			Expect(cache.Len()).To(Equal(0))
		})
	})
})
