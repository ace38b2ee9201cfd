package sqlx

// Recover recovers from a panic caused by Must() or any of the helpers that
// call it.
//
// It is intended to be used in a defer statement. The error that caused the
// panic is assigned to *err.
func Recover(err *error) {
	if err == nil {
		panic("err must be a non-nil pointer")
	}

	switch v := recover().(type) {
	case panicSentinel:
		*err = v.cause
	case nil:
		return
	default:
		panic(v)
	}
}

// panicSentinel is a wrapper value used to identify panics that are caused by
// Must().
type panicSentinel struct {
	cause error
}

// Must panics if err is non-nil.
func Must(err error) {
	if err != nil {
		panic(panicSentinel{err})
	}
}
