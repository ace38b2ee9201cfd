package payload

// Fragment is a named piece of a payload.
//
// Process instances record their inputs and outputs as fragments, and node
// instances record their results as fragments.
type Fragment struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// DecodeError indicates that a payload could not be split into fragments.
type DecodeError struct {
	Cause error
}

func (e DecodeError) Error() string {
	return "unable to decode payload: " + e.Cause.Error()
}

// Unwrap returns the cause of the error.
func (e DecodeError) Unwrap() error {
	return e.Cause
}

// Codec converts between opaque payloads and named fragments.
type Codec interface {
	// Decode splits a payload into fragments. It returns a DecodeError if the
	// payload is malformed.
	Decode(data []byte) ([]Fragment, error)

	// Encode combines fragments into a single payload.
	Encode(fragments []Fragment) ([]byte, error)
}

// Lookup returns the value of the first fragment with the given name.
func Lookup(fragments []Fragment, name string) (string, bool) {
	for _, f := range fragments {
		if f.Name == name {
			return f.Value, true
		}
	}

	return "", false
}

// Clone returns a copy of fragments.
func Clone(fragments []Fragment) []Fragment {
	if fragments == nil {
		return nil
	}

	return append([]Fragment(nil), fragments...)
}
