package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrPersistence marks every failure to write a record.
	ErrPersistence = errors.New("storage: persistence failed")

	// ErrConnectionFailed indicates the backend could not be reached.
	ErrConnectionFailed = errors.New("storage: connection failed")

	// ErrClosed indicates the sink was already closed.
	ErrClosed = errors.New("storage: sink closed")
)

// Error wraps a storage failure with the operation and table involved.
type Error struct {
	Op    string
	Table string
	Err   error
}

func (e *Error) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("storage.%s(%s): %v", e.Op, e.Table, e.Err)
	}
	return fmt.Sprintf("storage.%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets every *Error match ErrPersistence.
func (e *Error) Is(target error) bool {
	return target == ErrPersistence
}

func NewError(op, table string, err error) *Error {
	return &Error{Op: op, Table: table, Err: err}
}

// IsPersistenceError reports whether err is a storage write failure.
func IsPersistenceError(err error) bool {
	return errors.Is(err, ErrPersistence)
}
