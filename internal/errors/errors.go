package errors

import (
	"errors"
)

// Sentinel errors for different categories
var (
	// ErrValidation - malformed input to a mutator (returned as a tagged failure, never thrown past the store boundary)
	ErrValidation = errors.New("validation error")

	// ErrNotFound - unknown capability, request, or run id
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition - state machine invariant breach; a defect if ever observed
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrPersistence - durable storage read/write failure
	ErrPersistence = errors.New("persistence error")

	// ErrSimulatedFailure - deliberate terminal-error outcome of an asynchronous operation
	ErrSimulatedFailure = errors.New("simulated failure")

	// ErrInternal - unexpected runtime failure
	ErrInternal = errors.New("internal error")
)
