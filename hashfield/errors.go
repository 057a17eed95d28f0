package hashfield

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoSuchKey is returned when a whole-hash read or a delete targets a
	// key the store does not hold.
	ErrNoSuchKey = errors.New("hashfield: no such key")

	// ErrNoSuchField is returned when a field is absent from an existing hash.
	ErrNoSuchField = errors.New("hashfield: no such field")

	// ErrFieldExists is returned by HSetNX when the field is already set.
	ErrFieldExists = errors.New("hashfield: field already exists")

	// ErrNotNumber is returned by the arithmetic commands when the current
	// field value does not parse as a number.
	ErrNotNumber = errors.New("hashfield: value is not a number")

	// ErrWrongType is returned when the key holds something other than a
	// JSON object.
	ErrWrongType = errors.New("hashfield: key does not hold a hash")

	errKeyRequired = errors.New("hashfield: key is required")
)

// StoreError wraps a failure reported by the underlying store.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("hashfield: store %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// FieldErrors reports the fields HMSet could not apply. Applied holds the
// fields that were written before and after the failures.
type FieldErrors struct {
	Applied []FieldResult
	Errors  []error
}

func (e *FieldErrors) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("hashfield: %d field(s) failed: %s", len(e.Errors), strings.Join(msgs, "; "))
}

func (e *FieldErrors) Unwrap() []error { return e.Errors }

func noSuchKey(key string) error {
	return fmt.Errorf("%w: %q", ErrNoSuchKey, key)
}

func noSuchField(key, field string) error {
	return fmt.Errorf("%w: %q in %q", ErrNoSuchField, field, key)
}

func fmtFieldExists(key, field string) error {
	return fmt.Errorf("%w: %q in %q", ErrFieldExists, field, key)
}
