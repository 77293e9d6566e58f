package domain

import "errors"

var (
	// ErrInvalidArgument is returned before any work starts when a bound,
	// chunk size or input is out of range.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrCancelled is returned when the caller asked a computation to stop.
	// A cancelled computation never carries a partial result.
	ErrCancelled = errors.New("cancelled")

	// ErrResourceExhausted is returned when a computation cannot get the
	// memory or the execution slot it needs.
	ErrResourceExhausted = errors.New("resource exhausted")

	ErrJobNotFound = errors.New("job not found")
)
