package instance

import (
	"fmt"

	"github.com/procman/procman/persistence"
)

// NotFoundError indicates that a required entity does not exist.
type NotFoundError struct {
	// Kind describes the kind of entity, such as "process instance".
	Kind   string
	Handle persistence.Handle
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.Handle)
}

// IllegalStateError indicates that an operation is not valid for the current
// state of an instance or node instance. It is a protocol error that should
// not be retried.
type IllegalStateError struct {
	Handle  persistence.Handle
	Message string
}

func (e IllegalStateError) Error() string {
	return fmt.Sprintf("illegal state (%s): %s", e.Handle, e.Message)
}

func illegalState(h persistence.Handle, f string, v ...interface{}) error {
	return IllegalStateError{
		Handle:  h,
		Message: fmt.Sprintf(f, v...),
	}
}
