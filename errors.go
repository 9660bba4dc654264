package capcache

import (
	"errors"
	"fmt"

	"github.com/unkn0wn-root/capcache/backend"
	"github.com/unkn0wn-root/capcache/capacity"
	"github.com/unkn0wn-root/capcache/ident"
)

var (
	ErrInvalidIdentifier = ident.ErrInvalidIdentifier
	ErrInvalidTTL        = errors.New("capcache: invalid ttl")
	ErrCapacityExceeded  = capacity.ErrCapacityExceeded
	ErrNotFound          = errors.New("capcache: not found")
	ErrStorageFailure    = errors.New("capcache: storage failure")
	ErrInternalFault     = errors.New("capcache: internal consistency fault")
	ErrClosed            = errors.New("capcache: engine closed")
)

// CapacityError is returned by Store when every slot is taken.
type CapacityError = capacity.FullError

// NotFoundError carries the fully resolved storage key that missed.
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string { return "Resource Not Found: uuid " + e.Key }

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// StorageError wraps a backend or guard transport failure.
type StorageError struct {
	Op  string // reserve | put | get | delete | release | expired | count
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("capcache: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("capcache: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() []error { return []error{ErrStorageFailure, e.Err} }

// InternalFaultError means the guard and the backend disagree about what is
// stored. A backend ceiling hit also matches ErrCapacityExceeded.
type InternalFaultError struct {
	Key string
	Err error
}

func (e *InternalFaultError) Error() string {
	return fmt.Sprintf("capcache: internal fault on %q: %v", e.Key, e.Err)
}

func (e *InternalFaultError) Unwrap() []error {
	errs := []error{ErrInternalFault, e.Err}
	if errors.Is(e.Err, backend.ErrCeiling) {
		errs = append(errs, ErrCapacityExceeded)
	}
	return errs
}
