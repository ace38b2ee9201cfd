package boltpersistence

import (
	"context"

	"github.com/dogmatiq/marshalkit"
	"github.com/procman/procman/internal/x/bboltx"
	"github.com/procman/procman/persistence"
	"go.etcd.io/bbolt"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
)

// committer is an implementation of persistence.OperationVisitor that
// validates and applies operations to the database.
type committer struct {
	root *bbolt.Bucket
}

// VisitInsertRow applies the changes in an "InsertRow" operation to the
// database.
func (c *committer) VisitInsertRow(_ context.Context, op persistence.InsertRow) error {
	b := bboltx.CreateBucketIfNotExists(c.root, []byte(op.Table))
	k := marshalHandle(op.Handle)

	if b.Get(k) != nil {
		return persistence.ConflictError{
			Cause: op,
		}
	}

	bboltx.Put(b, k, marshalRow(op.Packet))

	return nil
}

// VisitUpdateRow applies the changes in an "UpdateRow" operation to the
// database.
func (c *committer) VisitUpdateRow(_ context.Context, op persistence.UpdateRow) error {
	b := bboltx.Bucket(c.root, []byte(op.Table))
	k := marshalHandle(op.Handle)

	if b == nil || b.Get(k) == nil {
		return persistence.NotFoundError{
			Cause: op,
		}
	}

	bboltx.Put(b, k, marshalRow(op.Packet))

	return nil
}

// VisitDeleteRow applies the changes in a "DeleteRow" operation to the
// database.
func (c *committer) VisitDeleteRow(_ context.Context, op persistence.DeleteRow) error {
	b := bboltx.Bucket(c.root, []byte(op.Table))
	k := marshalHandle(op.Handle)

	if b == nil || b.Get(k) == nil {
		return persistence.NotFoundError{
			Cause: op,
		}
	}

	bboltx.Delete(b, k)

	return nil
}

// marshalRow returns the binary representation of a row.
//
// The row is stored as a protocol buffers Any message. The type URL carries
// the packet's media type, which already identifies the encoding and type of
// the packet data.
func marshalRow(p marshalkit.Packet) []byte {
	data, err := proto.Marshal(
		&anypb.Any{
			TypeUrl: p.MediaType,
			Value:   p.Data,
		},
	)
	bboltx.Must(err)

	return data
}

// unmarshalRow returns the packet stored in a row.
//
// The data is copied, as BoltDB values are only valid for the life of the
// transaction that read them.
func unmarshalRow(data []byte) marshalkit.Packet {
	var row anypb.Any
	bboltx.Must(proto.Unmarshal(data, &row))

	return marshalkit.Packet{
		MediaType: row.GetTypeUrl(),
		Data:      append([]byte(nil), row.GetValue()...),
	}
}
