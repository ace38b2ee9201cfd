package providertest

import (
	"context"
	"fmt"

	"github.com/dogmatiq/marshalkit"
	"github.com/procman/procman/persistence"
	"github.com/onsi/gomega"
)

// table is the name of the table used by the tests.
const table = "<table>"

// packet returns a packet containing the given text.
func packet(text string) marshalkit.Packet {
	return marshalkit.Packet{
		MediaType: "text/plain; charset=utf-8",
		Data:      []byte(text),
	}
}

// insert inserts a row containing text and commits the transaction.
func insert(ctx context.Context, ds persistence.DataStore, text string) persistence.Handle {
	var h persistence.Handle

	err := persistence.WithTransaction(
		ctx,
		ds,
		func(tx persistence.Transaction) error {
			var err error
			h, err = tx.Insert(ctx, table, packet(text))
			return err
		},
	)
	gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

	return h
}

// load loads a row in a new transaction.
func load(ctx context.Context, ds persistence.DataStore, h persistence.Handle) (marshalkit.Packet, bool) {
	var (
		p  marshalkit.Packet
		ok bool
	)

	err := persistence.WithTransaction(
		ctx,
		ds,
		func(tx persistence.Transaction) error {
			var err error
			p, ok, err = tx.Load(ctx, table, h)
			return err
		},
	)
	gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

	return p, ok
}

// scan returns the text of every row visible to tx, keyed by handle.
func scan(ctx context.Context, tx persistence.Transaction) map[persistence.Handle]string {
	c, err := tx.Scan(ctx, table)
	gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
	defer c.Close()

	rows := map[persistence.Handle]string{}
	var prev persistence.Handle

	for {
		h, p, ok, err := c.Next(ctx)
		gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

		if !ok {
			return rows
		}

		gomega.Expect(h).To(
			gomega.BeNumerically(">", prev),
			fmt.Sprintf("rows must be returned in handle order, %s came after %s", h, prev),
		)
		prev = h

		rows[h] = string(p.Data)
	}
}
