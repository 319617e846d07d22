package db

import (
	"errors"
	"fmt"
)

// Sentinel errors for use with errors.Is:
//
//	if errors.Is(err, db.ErrDuplicateName) {
//	    // name is taken by another customer
//	}
var (
	// ErrDuplicateName matches any *DuplicateNameError.
	ErrDuplicateName = errors.New("duplicate customer name")

	// ErrNotFound matches any *NotFoundError.
	ErrNotFound = errors.New("customer not found")

	// ErrDeletedID is returned when inserting an id that was deleted locally.
	// Deleted ids only come back through a full resync.
	ErrDeletedID = errors.New("customer id was deleted")

	// ErrDuplicateID is returned when inserting an id that already exists.
	ErrDuplicateID = errors.New("customer id already exists")
)

// DuplicateNameError is returned when a write would leave two customers
// with the same normalized name.
type DuplicateNameError struct {
	Name string
	// ExistingID is the id of the customer that already holds the name.
	// Empty when the collision was reported by the unique index.
	ExistingID string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("a customer with the name %q already exists", e.Name)
}

// Is reports whether target is ErrDuplicateName.
func (e *DuplicateNameError) Is(target error) bool {
	return target == ErrDuplicateName
}

// NotFoundError is returned when an update targets an id that doesn't exist.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("customer %s not found", e.ID)
}

// Is reports whether target is ErrNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// StorageError wraps a failure of the underlying database engine.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
