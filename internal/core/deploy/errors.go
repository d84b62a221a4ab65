package deploy

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Identity errors
	ErrMissingServiceName = errors.New("service name is required")
	ErrMissingSourceDir   = errors.New("source directory is required")
	ErrInvalidServiceName = errors.New("invalid service name")

	// Enumeration errors
	ErrInvalidSourceKind  = errors.New("invalid source kind")
	ErrInvalidAccessMode  = errors.New("invalid access mode")
	ErrInvalidIngressMode = errors.New("invalid ingress mode")

	// Port and retry errors
	ErrInvalidPort         = errors.New("port must be between 1 and 65535")
	ErrInvalidRetrySetting = errors.New("invalid retry setting")

	// Route errors
	ErrInvalidRoute   = errors.New("invalid route")
	ErrDuplicateRoute = errors.New("duplicate route")

	// Cross-field errors
	ErrConflictingSettings = errors.New("conflicting settings")
)

// ValidationError wraps errors with the request field that failed.
type ValidationError struct {
	Field   string // e.g., "routes[1]"
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string, err error) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Err:     err,
	}
}
