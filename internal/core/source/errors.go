// Package source classifies a deployment source directory as compose-backed
// or Dockerfile-backed and normalizes it into a single compose-equivalent
// deployment unit. It is part of the functional core: resolution walks an
// fs.FS and never touches the host directly, so the same code runs against
// a real directory or an in-memory fixture.
package source

import "errors"

// Resolution errors. All of them mean the request cannot proceed without
// the operator fixing the source directory or the request itself.
var (
	// ErrNoSourceFound indicates auto-detection found neither a compose
	// file nor a Dockerfile in the source directory.
	ErrNoSourceFound = errors.New("no compose file or Dockerfile found")

	// ErrComposeFileMissing indicates a compose source was requested but
	// no compose file exists at the expected location.
	ErrComposeFileMissing = errors.New("compose file missing")

	// ErrDockerfileMissing indicates a Dockerfile source was requested but
	// the source directory has no Dockerfile.
	ErrDockerfileMissing = errors.New("Dockerfile missing")

	// ErrEnvVarMissing indicates the compose file demands a non-empty
	// variable that neither .env nor the process environment provides.
	ErrEnvVarMissing = errors.New("required variable unset")
)

// SourceError wraps a resolution failure with the path that triggered it.
type SourceError struct {
	Path    string // path within the source directory, or the directory itself
	Message string
	Err     error
}

func (e *SourceError) Error() string {
	if e.Path != "" {
		return e.Path + ": " + e.Message
	}
	return e.Message
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// NewSourceError creates a SourceError with the given context.
func NewSourceError(path, message string, err error) *SourceError {
	return &SourceError{
		Path:    path,
		Message: message,
		Err:     err,
	}
}
