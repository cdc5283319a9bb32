package telemetry

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidReading is wrapped by every ValidationError.
	ErrInvalidReading = errors.New("telemetry: invalid reading")

	// ErrSerialization indicates a reading could not be encoded.
	ErrSerialization = errors.New("telemetry: serialization failed")

	// ErrInvalidBounds indicates a Bounds value that cannot produce readings.
	ErrInvalidBounds = errors.New("telemetry: invalid bounds")
)

// ValidationError describes why an inbound payload was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrInvalidReading, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", ErrInvalidReading, e.Field, e.Reason)
}

// Unwrap allows errors.Is(err, ErrInvalidReading).
func (e *ValidationError) Unwrap() error {
	return ErrInvalidReading
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
