package tender

import (
	"errors"
	"fmt"
	"time"
)

// FetchError reports a unit-local failure. It never aborts a run.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// TimeoutError reports a unit that did not return within its deadline.
type TimeoutError struct {
	Source  string
	Timeout time.Duration
	// Abandoned is set when the unit ignored cancellation and its goroutine
	// was left behind.
	Abandoned bool
}

func (e *TimeoutError) Error() string {
	if e.Abandoned {
		return fmt.Sprintf("fetch %s: timed out after %s (abandoned)", e.Source, e.Timeout)
	}
	return fmt.Sprintf("fetch %s: timed out after %s", e.Source, e.Timeout)
}

// StoreError reports a persistence failure that is fatal to the run.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// DeliveryError reports a failed digest delivery.
type DeliveryError struct {
	Provider string
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver via %s: %v", e.Provider, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// PartialError is returned by a unit alongside usable records when part of
// its work failed.
type PartialError struct {
	Errs []error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("partial result: %v", errors.Join(e.Errs...))
}

func (e *PartialError) Unwrap() []error { return e.Errs }

// NewPartialError returns nil when errs is empty.
func NewPartialError(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return &PartialError{Errs: append([]error(nil), errs...)}
}

// IsStoreError reports whether err carries a StoreError.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}

// IsPartial reports whether err carries a PartialError.
func IsPartial(err error) bool {
	var pe *PartialError
	return errors.As(err, &pe)
}
