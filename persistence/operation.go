package persistence

import (
	"context"
	"fmt"

	"github.com/dogmatiq/marshalkit"
)

// Operation is a persistence operation that can be performed as part of an
// atomic batch.
type Operation interface {
	// AcceptVisitor calls the appropriate visit method on the given visitor.
	AcceptVisitor(context.Context, OperationVisitor) error

	entityKey() entityKey
}

// OperationVisitor visits persistence operations.
type OperationVisitor interface {
	VisitInsertRow(context.Context, InsertRow) error
	VisitUpdateRow(context.Context, UpdateRow) error
	VisitDeleteRow(context.Context, DeleteRow) error
}

// InsertRow is an Operation that stores a new row.
//
// The row must not already exist, otherwise a ConflictError occurs and the
// entire batch is rejected.
type InsertRow struct {
	Table  string
	Handle Handle
	Packet marshalkit.Packet
}

// UpdateRow is an Operation that replaces the content of an existing row.
//
// The row must already exist, otherwise a NotFoundError occurs and the entire
// batch is rejected.
type UpdateRow struct {
	Table  string
	Handle Handle
	Packet marshalkit.Packet
}

// DeleteRow is an Operation that removes an existing row.
//
// The row must already exist, otherwise a NotFoundError occurs and the entire
// batch is rejected.
type DeleteRow struct {
	Table  string
	Handle Handle
}

// AcceptVisitor calls v.VisitInsertRow().
func (op InsertRow) AcceptVisitor(ctx context.Context, v OperationVisitor) error {
	return v.VisitInsertRow(ctx, op)
}

// AcceptVisitor calls v.VisitUpdateRow().
func (op UpdateRow) AcceptVisitor(ctx context.Context, v OperationVisitor) error {
	return v.VisitUpdateRow(ctx, op)
}

// AcceptVisitor calls v.VisitDeleteRow().
func (op DeleteRow) AcceptVisitor(ctx context.Context, v OperationVisitor) error {
	return v.VisitDeleteRow(ctx, op)
}

func (op InsertRow) entityKey() entityKey {
	return entityKey{op.Table, op.Handle}
}

func (op UpdateRow) entityKey() entityKey {
	return entityKey{op.Table, op.Handle}
}

func (op DeleteRow) entityKey() entityKey {
	return entityKey{op.Table, op.Handle}
}

// entityKey identifies the row that an operation affects.
type entityKey struct {
	Table  string
	Handle Handle
}

func (k entityKey) String() string {
	return fmt.Sprintf("%s %s", k.Table, k.Handle)
}
