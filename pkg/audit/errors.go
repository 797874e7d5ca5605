package audit

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidEvent is returned for empty or unrecognised event names
	ErrInvalidEvent = errors.New("a valid audit event must be set")

	// ErrMissingEventHandler is returned when an auditable event has no diff strategy
	ErrMissingEventHandler = errors.New("missing audit event handler")

	// ErrInvalidResolver is returned when no usable actor resolver is configured
	ErrInvalidResolver = errors.New("invalid user resolver, callable expected")

	// ErrUnknownDriver is returned when a driver id is not registered
	ErrUnknownDriver = errors.New("unknown audit driver")

	// ErrStorage matches every *StorageError
	ErrStorage = errors.New("audit storage failure")

	// ErrInvalidThreshold is returned for negative retention thresholds
	ErrInvalidThreshold = errors.New("audit threshold must not be negative")

	// ErrUnknownEntityType is returned by Catalog for types without a policy
	ErrUnknownEntityType = errors.New("no audit policy for entity type")
)

// StorageError reports a sink failure for a single record or prune
type StorageError struct {
	Driver string
	Op     string
	Err    error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("audit driver %q failed to %s: %v", e.Driver, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrStorage) true for any StorageError
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

func storageError(driver, op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Driver: driver, Op: op, Err: err}
}
