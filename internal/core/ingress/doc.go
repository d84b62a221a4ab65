// Package ingress plans the reverse proxy layer for a deployment.
//
// This package contains the functional core logic for deciding whether a
// deployment needs nginx in front of it, which routes that proxy serves,
// and what configuration text to write. All functions are pure (no I/O,
// no side effects); the shell applies the resulting Plan to the host.
//
// # Functions
//
//   - BuildPlan: Validate access settings and derive the proxy plan
//   - GenerateNginxConf: Render the nginx server configuration
//   - GenerateProxyCompose: Render the managed proxy compose definition
//
// # Usage
//
// The orchestrator builds the plan after source resolution and before any
// host mutation, so misconfigured access settings fail fast:
//
//	plan, err := ingress.BuildPlan(req, resolved)
//	if err != nil {
//	    return err // nothing was touched yet
//	}
//	if plan.Mode == ingress.ModeNone {
//	    return nil // localhost-only deployment, no proxy
//	}
package ingress
