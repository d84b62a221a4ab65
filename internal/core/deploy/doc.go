// Package deploy defines the deployment request model and its validation.
//
// A Request captures everything the operator asked for: the service to
// deploy, where its source lives, how it should be reachable, and which
// ingress arrangement fronts it. All functions in this package are pure
// (no I/O, no side effects); the imperative shell builds a Request from
// flags or the interactive wizard, validates it here, and then hands it
// to the orchestrator.
//
// # Functions
//
//   - Validation: Field-level and cross-field rules (Validate, ParseRoute)
//   - Derivation: Values computed from the request (ProjectName, Paths,
//     EffectiveBindHost, CertDomains)
//   - Status: Terminal outcome of a deployment run
package deploy
