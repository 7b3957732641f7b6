package errors

import (
	"errors"
)

// Sentinel errors for different categories
var (
	// ErrInvalidInput - invalid client input (empty turn, malformed body)
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound - resource not found
	ErrNotFound = errors.New("not found")

	// ErrRateLimited - source address exhausted its admission window
	ErrRateLimited = errors.New("rate limited")

	// ErrTransient - transient error (oracle unreachable, timeout); retry later
	ErrTransient = errors.New("transient error")

	// ErrFirewall - firewall collaborator could not enact or tear down a posture
	ErrFirewall = errors.New("firewall command failed")

	// ErrInvalidOracleOutput - oracle returned output that could not be coerced into a verdict
	ErrInvalidOracleOutput = errors.New("invalid oracle output")

	// ErrConflict - mode transition conflicts with current state
	ErrConflict = errors.New("conflict")

	// ErrInternal - internal error
	ErrInternal = errors.New("internal error")
)
