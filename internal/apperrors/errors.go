// Package apperrors defines the error taxonomy shared across the service.
// Callers match with errors.Is; the helpers attach detail while keeping the
// sentinel in the chain.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks a missing character, user, or memory.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput marks malformed input such as empty content.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUpstreamTimeout marks an LLM oracle deadline hit.
	ErrUpstreamTimeout = errors.New("upstream timeout")

	// ErrUpstreamError marks an LLM oracle protocol or transport failure.
	ErrUpstreamError = errors.New("upstream error")

	// ErrContextOverflow marks an envelope that cannot fit the context
	// budget without dropping a non-truncatable block.
	ErrContextOverflow = errors.New("context overflow")

	// ErrInsufficientMessages marks a compression attempt below the minimum
	// active history size.
	ErrInsufficientMessages = errors.New("insufficient messages")

	// ErrHistoryChanged marks a compression pass that lost the race: the
	// oldest active block moved between summarisation and replacement.
	ErrHistoryChanged = errors.New("history changed")

	// ErrSchemaDrift marks a query that could not be satisfied against the
	// observed columns even after re-probing.
	ErrSchemaDrift = errors.New("schema drift")
)

// NotFoundf wraps ErrNotFound with formatted detail.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// InvalidInputf wraps ErrInvalidInput with formatted detail.
func InvalidInputf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
