package persistence

import (
	"errors"
	"fmt"
)

// ErrDataStoreClosed is returned when performing any persistence operation on a
// closed data-store.
var ErrDataStoreClosed = errors.New("data store is closed")

// ErrDataStoreLocked is returned by Provider.Open() if the data-store has
// already been opened for exclusive use.
var ErrDataStoreLocked = errors.New("data store is locked")

// ErrTransactionClosed is returned by all methods on Transaction once the
// transaction has been closed.
var ErrTransactionClosed = errors.New("transaction is closed")

// ConflictError is an error indicating one or more operations within a batch
// conflict with the persisted data.
type ConflictError struct {
	// Cause is the operation that caused the conflict.
	Cause Operation
}

func (e ConflictError) Error() string {
	return fmt.Sprintf(
		"conflict in %T operation on %s",
		e.Cause,
		e.Cause.entityKey(),
	)
}

// NotFoundError is an error indicating one or more operations within a batch
// refer to a row that does not exist.
type NotFoundError struct {
	// Cause is the operation that caused error.
	Cause Operation
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf(
		"row not found in %T operation on %s",
		e.Cause,
		e.Cause.entityKey(),
	)
}

// UnmarshalError is returned when a stored row can not be unmarshaled into the
// value type of a HandleMap.
type UnmarshalError struct {
	Table  string
	Handle Handle
	Cause  error
}

func (e UnmarshalError) Error() string {
	return fmt.Sprintf(
		"unable to unmarshal %s row %s: %s",
		e.Table,
		e.Handle,
		e.Cause,
	)
}

// Unwrap returns the cause of the error.
func (e UnmarshalError) Unwrap() error {
	return e.Cause
}
