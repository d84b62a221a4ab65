package ingress

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Proxy requirement errors
	ErrProxyRequired  = errors.New("access mode requires an auth token, a domain, or explicit routes")
	ErrRoutesRequired = errors.New("ingress mode requires explicit routes for compose sources")

	// Upstream errors
	ErrAmbiguousUpstream   = errors.New("multiple services and no route or upstream override")
	ErrUpstreamNotServed   = errors.New("route upstream is not among the deployed services")
	ErrUpstreamUnreachable = errors.New("compose service names are not reachable from host nginx")
	ErrMissingUpstreamPort = errors.New("no upstream port configured or discoverable")

	// Route errors
	ErrRouteConflict    = errors.New("duplicate route")
	ErrInvalidRouteHost = errors.New("route host must be a resolvable domain when TLS is enabled")
)

// AccessConfigError wraps errors with the access setting that failed.
type AccessConfigError struct {
	Setting string // e.g., "routes[1]"
	Message string
	Err     error
}

func (e *AccessConfigError) Error() string {
	if e.Setting != "" {
		return fmt.Sprintf("%s: %s", e.Setting, e.Message)
	}
	return e.Message
}

func (e *AccessConfigError) Unwrap() error {
	return e.Err
}

// NewAccessConfigError creates a new AccessConfigError.
func NewAccessConfigError(setting, message string, err error) *AccessConfigError {
	return &AccessConfigError{
		Setting: setting,
		Message: message,
		Err:     err,
	}
}
