// Package errs holds the error taxonomy shared by every quantum-shield component.
// Callers match with errors.Is; producers wrap with fmt.Errorf("%w: ...").
package errs

import (
	"errors"
	"fmt"
)

// #region sentinels
var (
	ErrInvalidArgument          = errors.New("invalid argument")
	ErrNotFound                 = errors.New("not found")
	ErrNotInitialized           = errors.New("not initialized")
	ErrIntegrityViolation       = errors.New("integrity violation")
	ErrCollapsed                = errors.New("superposition collapsed")
	ErrCircuitOpen              = errors.New("circuit open")
	ErrCircuitHalfOpenExhausted = errors.New("circuit half-open call budget exhausted")
	ErrDataProtectionFailed     = errors.New("data protection failed")
	ErrDataObservationFailed    = errors.New("data observation failed")
	ErrKeyNotFound              = fmt.Errorf("key %w", ErrNotFound)
)

// #endregion sentinels

// #region helpers

// InvalidArgument wraps a message as ErrInvalidArgument.
func InvalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// NotFound wraps a message as ErrNotFound.
func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// #endregion helpers
