package memorypersistence

import (
	"context"

	"github.com/dogmatiq/marshalkit"
	"github.com/procman/procman/persistence"
)

// validator is an implementation of persistence.OperationVisitor that checks
// that each operation can be applied to the database.
//
// It is expected that the database lock is held by the caller.
type validator struct {
	db *database
}

// VisitInsertRow returns an error if an "InsertRow" operation can not be
// applied to the database.
func (v *validator) VisitInsertRow(_ context.Context, op persistence.InsertRow) error {
	if _, ok := v.db.tables[op.Table][op.Handle]; ok {
		return persistence.ConflictError{
			Cause: op,
		}
	}

	return nil
}

// VisitUpdateRow returns an error if an "UpdateRow" operation can not be
// applied to the database.
func (v *validator) VisitUpdateRow(_ context.Context, op persistence.UpdateRow) error {
	if _, ok := v.db.tables[op.Table][op.Handle]; ok {
		return nil
	}

	return persistence.NotFoundError{
		Cause: op,
	}
}

// VisitDeleteRow returns an error if a "DeleteRow" operation can not be
// applied to the database.
func (v *validator) VisitDeleteRow(_ context.Context, op persistence.DeleteRow) error {
	if _, ok := v.db.tables[op.Table][op.Handle]; ok {
		return nil
	}

	return persistence.NotFoundError{
		Cause: op,
	}
}

// committer is an implementation of persistence.OperationVisitor that applies
// operations to the database.
//
// It is expected that the operations have already been validated using
// validator, and that the database lock is held by the caller.
type committer struct {
	db *database
}

// VisitInsertRow applies the changes in an "InsertRow" operation to the
// database.
func (c *committer) VisitInsertRow(_ context.Context, op persistence.InsertRow) error {
	c.save(op.Table, op.Handle, op.Packet)
	return nil
}

// VisitUpdateRow applies the changes in an "UpdateRow" operation to the
// database.
func (c *committer) VisitUpdateRow(_ context.Context, op persistence.UpdateRow) error {
	c.save(op.Table, op.Handle, op.Packet)
	return nil
}

// VisitDeleteRow applies the changes in a "DeleteRow" operation to the
// database.
func (c *committer) VisitDeleteRow(_ context.Context, op persistence.DeleteRow) error {
	delete(c.db.tables[op.Table], op.Handle)
	return nil
}

func (c *committer) save(table string, h persistence.Handle, p marshalkit.Packet) {
	if c.db.tables == nil {
		c.db.tables = map[string]map[persistence.Handle]marshalkit.Packet{}
	}

	rows := c.db.tables[table]
	if rows == nil {
		rows = map[persistence.Handle]marshalkit.Packet{}
		c.db.tables[table] = rows
	}

	rows[h] = clonePacket(p)
}
