package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Wrap wraps an error with context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// InvalidInput wraps a message as invalid input.
func InvalidInput(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInvalidInput)
}

// NotFound wraps a message as not found.
func NotFound(message string) error {
	return fmt.Errorf("%s: %w", message, ErrNotFound)
}

// RateLimited wraps a message as rate limited.
func RateLimited(message string) error {
	return fmt.Errorf("%s: %w", message, ErrRateLimited)
}

// Transient wraps a message as transient.
func Transient(message string) error {
	return fmt.Errorf("%s: %w", message, ErrTransient)
}

// Firewall wraps an error as a firewall failure.
func Firewall(err error, message string) error {
	if err == nil {
		return fmt.Errorf("%s: %w", message, ErrFirewall)
	}
	return fmt.Errorf("%s: %v: %w", message, err, ErrFirewall)
}

// Internal wraps a message as internal.
func Internal(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInternal)
}

// InvalidOracleOutput wraps a message as unparseable oracle output.
func InvalidOracleOutput(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInvalidOracleOutput)
}

// IsRetryable reports whether the watchdog or caller should retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrConflict)
}

// HTTPStatus maps an error category to an HTTP status code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrTransient), errors.Is(err, ErrFirewall):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
