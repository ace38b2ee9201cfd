package persistence_test

import (
	"context"
	"errors"
	"time"

	"github.com/dogmatiq/marshalkit"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	. "github.com/procman/procman/persistence"
	"github.com/procman/procman/persistence/memorypersistence"
)

var _ = Describe("func WithTransaction()", func() {
	var (
		ctx       context.Context
		cancel    context.CancelFunc
		dataStore DataStore
		packet    marshalkit.Packet
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 1*time.Second)

		provider := &memorypersistence.Provider{}

		var err error
		dataStore, err = provider.Open(ctx, "<store>")
		Expect(err).ShouldNot(HaveOccurred())

		packet = marshalkit.Packet{
			MediaType: "text/plain",
			Data:      []byte("<data>"),
		}
	})

	AfterEach(func() {
		cancel()

		if dataStore != nil {
			dataStore.Close()
		}
	})

	It("commits the transaction if fn returns nil", func() {
		var h Handle

		err := WithTransaction(
			ctx,
			dataStore,
			func(tx Transaction) error {
				var err error
				h, err = tx.Insert(ctx, "<table>", packet)
				return err
			},
		)
		Expect(err).ShouldNot(HaveOccurred())

		err = WithTransaction(
			ctx,
			dataStore,
			func(tx Transaction) error {
				p, ok, err := tx.Load(ctx, "<table>", h)
				Expect(ok).To(BeTrue())
				Expect(p).To(Equal(packet))
				return err
			},
		)
		Expect(err).ShouldNot(HaveOccurred())
	})

	It("rolls the transaction back if fn returns an error", func() {
		var h Handle

		err := WithTransaction(
			ctx,
			dataStore,
			func(tx Transaction) error {
				var err error
				h, err = tx.Insert(ctx, "<table>", packet)
				Expect(err).ShouldNot(HaveOccurred())

				return errors.New("<error>")
			},
		)
		Expect(err).To(MatchError("<error>"))

		err = WithTransaction(
			ctx,
			dataStore,
			func(tx Transaction) error {
				_, ok, err := tx.Load(ctx, "<table>", h)
				Expect(ok).To(BeFalse())
				return err
			},
		)
		Expect(err).ShouldNot(HaveOccurred())
	})

	It("returns an error if the transaction can not be begun", func() {
		dataStore.Close()

		err := WithTransaction(
			ctx,
			dataStore,
			func(Transaction) error {
				Fail("unexpectedly invoked fn()")
				return nil
			},
		)
		Expect(err).To(Equal(ErrDataStoreClosed))
	})
})
