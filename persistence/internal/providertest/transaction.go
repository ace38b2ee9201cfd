package providertest

import (
	"errors"
	"fmt"

	"github.com/procman/procman/persistence"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
)

func declareTransactionTests(tc *TestContext) {
	ginkgo.Describe("type Transaction (interface)", func() {
		var (
			dataStore persistence.DataStore
			tx        persistence.Transaction
		)

		ginkgo.BeforeEach(func() {
			var tearDown func()
			dataStore, tearDown = tc.SetupDataStore()
			ginkgo.DeferCleanup(tearDown)

			var err error
			tx, err = dataStore.Begin(tc.Context)
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
			ginkgo.DeferCleanup(func() { tx.Close() })
		})

		ginkgo.Describe("func Insert()", func() {
			ginkgo.It("allocates a distinct valid handle for each row", func() {
				h1, err := tx.Insert(tc.Context, table, packet("<row-1>"))
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				h2, err := tx.Insert(tc.Context, table, packet("<row-2>"))
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				gomega.Expect(h1.IsValid()).To(gomega.BeTrue())
				gomega.Expect(h2.IsValid()).To(gomega.BeTrue())
				gomega.Expect(h1).NotTo(gomega.Equal(h2))
			})

			ginkgo.It("does not reuse handles allocated by a rolled-back transaction", func() {
				h1, err := tx.Insert(tc.Context, table, packet("<row-1>"))
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				err = tx.Rollback()
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				h2, err := tx.Insert(tc.Context, table, packet("<row-2>"))
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				gomega.Expect(h2).NotTo(gomega.Equal(h1))
			})

			ginkgo.It("makes the row visible within the transaction", func() {
				h, err := tx.Insert(tc.Context, table, packet("<row>"))
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				p, ok, err := tx.Load(tc.Context, table, h)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(ok).To(gomega.BeTrue())
				gomega.Expect(p).To(gomega.Equal(packet("<row>")))
			})

			ginkgo.It("does not make the row visible to other transactions until it is committed", func() {
				h, err := tx.Insert(tc.Context, table, packet("<row>"))
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				_, ok := load(tc.Context, dataStore, h)
				gomega.Expect(ok).To(gomega.BeFalse())

				err = tx.Commit(tc.Context)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				_, ok = load(tc.Context, dataStore, h)
				gomega.Expect(ok).To(gomega.BeTrue())
			})
		})

		ginkgo.Describe("func Update()", func() {
			ginkgo.It("replaces the content of an existing row", func() {
				h := insert(tc.Context, dataStore, "<original>")

				ok, err := tx.Update(tc.Context, table, h, packet("<updated>"))
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(ok).To(gomega.BeTrue())

				err = tx.Commit(tc.Context)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				p, _ := load(tc.Context, dataStore, h)
				gomega.Expect(p).To(gomega.Equal(packet("<updated>")))
			})

			ginkgo.It("updates a row inserted within the same unit of work", func() {
				h, err := tx.Insert(tc.Context, table, packet("<original>"))
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				_, err = tx.Update(tc.Context, table, h, packet("<updated>"))
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				err = tx.Commit(tc.Context)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				p, _ := load(tc.Context, dataStore, h)
				gomega.Expect(p).To(gomega.Equal(packet("<updated>")))
			})

			ginkgo.It("returns false if the row does not exist", func() {
				ok, err := tx.Update(tc.Context, table, 12345, packet("<row>"))
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(ok).To(gomega.BeFalse())
			})

			ginkgo.It("causes the commit to fail if the row is deleted concurrently", func() {
				h := insert(tc.Context, dataStore, "<original>")

				_, err := tx.Update(tc.Context, table, h, packet("<updated>"))
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				err = persistence.WithTransaction(
					tc.Context,
					dataStore,
					func(other persistence.Transaction) error {
						_, err := other.Delete(tc.Context, table, h)
						return err
					},
				)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				err = tx.Commit(tc.Context)

				var notFound persistence.NotFoundError
				gomega.Expect(errors.As(err, &notFound)).To(gomega.BeTrue(), "expected a NotFoundError, got %v", err)
			})
		})

		ginkgo.Describe("func Delete()", func() {
			ginkgo.It("removes an existing row", func() {
				h := insert(tc.Context, dataStore, "<row>")

				ok, err := tx.Delete(tc.Context, table, h)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(ok).To(gomega.BeTrue())

				_, ok, err = tx.Load(tc.Context, table, h)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(ok).To(gomega.BeFalse())

				err = tx.Commit(tc.Context)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				_, ok = load(tc.Context, dataStore, h)
				gomega.Expect(ok).To(gomega.BeFalse())
			})

			ginkgo.It("removes a row inserted within the same unit of work", func() {
				h, err := tx.Insert(tc.Context, table, packet("<row>"))
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				ok, err := tx.Delete(tc.Context, table, h)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(ok).To(gomega.BeTrue())

				err = tx.Commit(tc.Context)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				_, ok = load(tc.Context, dataStore, h)
				gomega.Expect(ok).To(gomega.BeFalse())
			})

			ginkgo.It("returns false if the row does not exist", func() {
				ok, err := tx.Delete(tc.Context, table, 12345)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(ok).To(gomega.BeFalse())
			})
		})

		ginkgo.Describe("func Scan()", func() {
			ginkgo.It("returns committed rows merged with uncommitted changes in handle order", func() {
				h1 := insert(tc.Context, dataStore, "<row-1>")
				h2 := insert(tc.Context, dataStore, "<row-2>")
				h3 := insert(tc.Context, dataStore, "<row-3>")

				_, err := tx.Update(tc.Context, table, h1, packet("<row-1-updated>"))
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				_, err = tx.Delete(tc.Context, table, h2)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				h4, err := tx.Insert(tc.Context, table, packet("<row-4>"))
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				gomega.Expect(scan(tc.Context, tx)).To(gomega.Equal(
					map[persistence.Handle]string{
						h1: "<row-1-updated>",
						h3: "<row-3>",
						h4: "<row-4>",
					},
				))
			})

			ginkgo.It("returns no rows for an empty table", func() {
				gomega.Expect(scan(tc.Context, tx)).To(gomega.BeEmpty())
			})

			ginkgo.It("returns every row of a large table", func() {
				err := persistence.WithTransaction(
					tc.Context,
					dataStore,
					func(tx persistence.Transaction) error {
						for i := 0; i < 250; i++ {
							if _, err := tx.Insert(tc.Context, table, packet(fmt.Sprintf("<row-%d>", i))); err != nil {
								return err
							}
						}
						return nil
					},
				)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				gomega.Expect(scan(tc.Context, tx)).To(gomega.HaveLen(250))
			})
		})

		ginkgo.Describe("func Commit()", func() {
			ginkgo.It("invokes the commit hooks", func() {
				called := false
				tx.OnCommit(func() { called = true })

				_, err := tx.Insert(tc.Context, table, packet("<row>"))
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				err = tx.Commit(tc.Context)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(called).To(gomega.BeTrue())
			})

			ginkgo.It("leaves the transaction usable for another unit of work", func() {
				err := tx.Commit(tc.Context)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				h, err := tx.Insert(tc.Context, table, packet("<row>"))
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				err = tx.Commit(tc.Context)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				_, ok := load(tc.Context, dataStore, h)
				gomega.Expect(ok).To(gomega.BeTrue())
			})

			ginkgo.It("invokes the rollback hooks if the batch can not be persisted", func() {
				h := insert(tc.Context, dataStore, "<row>")

				_, err := tx.Update(tc.Context, table, h, packet("<updated>"))
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				called := false
				tx.OnRollback(func() { called = true })

				err = persistence.WithTransaction(
					tc.Context,
					dataStore,
					func(other persistence.Transaction) error {
						_, err := other.Delete(tc.Context, table, h)
						return err
					},
				)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				err = tx.Commit(tc.Context)
				gomega.Expect(err).Should(gomega.HaveOccurred())
				gomega.Expect(called).To(gomega.BeTrue())
			})
		})

		ginkgo.Describe("func Rollback()", func() {
			ginkgo.It("discards uncommitted changes and invokes the rollback hooks", func() {
				called := false
				tx.OnRollback(func() { called = true })

				h, err := tx.Insert(tc.Context, table, packet("<row>"))
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				err = tx.Rollback()
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(called).To(gomega.BeTrue())

				_, ok, err := tx.Load(tc.Context, table, h)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(ok).To(gomega.BeFalse())
			})
		})

		ginkgo.When("the transaction has been closed", func() {
			ginkgo.BeforeEach(func() {
				err := tx.Close()
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
			})

			ginkgo.It("returns an error from Insert()", func() {
				_, err := tx.Insert(tc.Context, table, packet("<row>"))
				gomega.Expect(err).To(gomega.Equal(persistence.ErrTransactionClosed))
			})

			ginkgo.It("returns an error from Load()", func() {
				_, _, err := tx.Load(tc.Context, table, 1)
				gomega.Expect(err).To(gomega.Equal(persistence.ErrTransactionClosed))
			})

			ginkgo.It("returns an error from Commit()", func() {
				err := tx.Commit(tc.Context)
				gomega.Expect(err).To(gomega.Equal(persistence.ErrTransactionClosed))
			})

			ginkgo.It("returns an error from Rollback()", func() {
				err := tx.Rollback()
				gomega.Expect(err).To(gomega.Equal(persistence.ErrTransactionClosed))
			})
		})
	})
}
