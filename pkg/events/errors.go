package events

import (
	"errors"
	"fmt"
)

// ErrStoreUnavailable is returned when the store cannot be reached.
var ErrStoreUnavailable = errors.New("event store unavailable")

// ErrWriteRejected is returned when the store refuses a record.
var ErrWriteRejected = errors.New("write rejected")

// ErrBlobStore is returned when an image blob cannot be stored.
var ErrBlobStore = errors.New("blob store failure")

// ErrInvalidFilter is returned for malformed queries.
var ErrInvalidFilter = errors.New("invalid filter")

// PersistError wraps a failed write.
type PersistError struct {
	Op  string
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

// QueryError wraps a failed read.
type QueryError struct {
	Op  string
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query %s: %v", e.Op, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// Persist wraps err as a *PersistError. It returns nil for a nil err.
func Persist(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistError{Op: op, Err: err}
}

// Query wraps err as a *QueryError. It returns nil for a nil err.
func Query(op string, err error) error {
	if err == nil {
		return nil
	}
	return &QueryError{Op: op, Err: err}
}
