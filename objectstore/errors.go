package objectstore

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned (wrapped) when a requested object does not
// exist, distinguishable via errors.Is per section 4.2.
var ErrNotFound = errors.New("objectstore: object not found")

// Error is the typed, retryable error surfaced by any Object Store
// Adapter failure other than "not found", as required by section 7.
type Error struct {
	Op     string
	Bucket string
	Key    string
	Err    error
}

func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("objectstore: %s: %s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
	}
	return fmt.Sprintf("objectstore: %s: %s: %v", e.Op, e.Bucket, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrapErr(op, bucket, key string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Bucket: bucket, Key: key, Err: err}
}
