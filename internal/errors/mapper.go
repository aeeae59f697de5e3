package errors

import (
	"errors"
	"fmt"
)

// Wrap wraps an error with context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%s: %w", message, err)
}

// IsCategory checks if error belongs to specific category
func IsCategory(err error, category error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, category)
}

// Validation wraps a message as a validation error
func Validation(message string) error {
	return fmt.Errorf("%s: %w", message, ErrValidation)
}

// NotFound wraps a message as not found
func NotFound(message string) error {
	return fmt.Errorf("%s: %w", message, ErrNotFound)
}

// InvalidTransition wraps a message as a state machine violation
func InvalidTransition(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInvalidTransition)
}

// Persistence wraps a message as a durable storage failure
func Persistence(message string) error {
	return fmt.Errorf("%s: %w", message, ErrPersistence)
}

// Simulated wraps a message as a simulated terminal failure
func Simulated(message string) error {
	return fmt.Errorf("%s: %w", message, ErrSimulatedFailure)
}

// Internal wraps a message as an internal error
func Internal(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInternal)
}

// Category returns the taxonomy category name for an error
func Category(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrValidation):
		return "ValidationError"
	case errors.Is(err, ErrNotFound):
		return "NotFoundError"
	case errors.Is(err, ErrInvalidTransition):
		return "InvalidTransition"
	case errors.Is(err, ErrPersistence):
		return "PersistenceError"
	case errors.Is(err, ErrSimulatedFailure):
		return "SimulatedFailure"
	case errors.Is(err, ErrInternal):
		return "InternalError"
	default:
		return "Unknown"
	}
}
