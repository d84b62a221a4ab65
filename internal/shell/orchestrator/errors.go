package orchestrator

import "fmt"

// DeploymentError reports a failed execution stage. TransientExhausted
// distinguishes a registry that kept flaking until the retry budget ran out
// from an immediately fatal failure such as a malformed definition, a
// missing image, or a port conflict.
type DeploymentError struct {
	TransientExhausted bool
	Attempts           int
	Err                error
}

func (e *DeploymentError) Error() string {
	if e.TransientExhausted {
		return fmt.Sprintf("deployment failed after %d attempts on a transient error: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("deployment failed: %v", e.Err)
}

func (e *DeploymentError) Unwrap() error {
	return e.Err
}
