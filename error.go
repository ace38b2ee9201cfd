package procman

import (
	"context"
	"errors"
	"fmt"

	"github.com/procman/procman/instance"
	"github.com/procman/procman/model"
	"github.com/procman/procman/payload"
	"github.com/procman/procman/security"
)

// NotFoundError indicates that a required entity does not exist.
type NotFoundError = instance.NotFoundError

// IllegalStateError indicates that an operation is not valid for the current
// state of an instance or node instance.
type IllegalStateError = instance.IllegalStateError

// PermissionDeniedError indicates that a principal does not hold a required
// permission.
type PermissionDeniedError = security.PermissionDeniedError

// StorageError indicates that the data-store failed while performing an
// engine operation.
//
// Any uncommitted work performed by the operation has been rolled back, and
// the affected cache entries have been invalidated.
type StorageError struct {
	// Op is the name of the engine operation, such as "finish task".
	Op    string
	Cause error
}

func (e StorageError) Error() string {
	return fmt.Sprintf("unable to %s: %s", e.Op, e.Cause)
}

// Unwrap returns the cause of the error.
func (e StorageError) Unwrap() error {
	return e.Cause
}

// boundary converts err into one of the engine's error kinds before it is
// returned to the caller.
//
// Errors that are already part of the engine's taxonomy are returned as-is,
// anything else originated in the data-store.
func boundary(op string, err error) error {
	if err == nil {
		return nil
	}

	var (
		notFound   NotFoundError
		illegal    IllegalStateError
		denied     *PermissionDeniedError
		invalid    *model.ValidationError
		undecoded  payload.DecodeError
		storageErr StorageError
	)

	switch {
	case errors.As(err, &notFound),
		errors.As(err, &illegal),
		errors.As(err, &denied),
		errors.As(err, &invalid),
		errors.As(err, &undecoded),
		errors.As(err, &storageErr),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	}

	return StorageError{op, err}
}
