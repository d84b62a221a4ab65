// Package proxy applies an ingress plan to the host. The managed mode runs
// nginx (and certbot when TLS is on) as containers next to the application,
// the external mode feeds a site file to the nginx already running on the
// host, and takeover hands the host nginx over to managed routing entirely.
// Certificate issuance is the one stage allowed to fail without failing the
// deployment: the service stays reachable over HTTP and the caller reports
// a degraded result.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/artpar/berth/internal/core/deploy"
	"github.com/artpar/berth/internal/core/deployment"
	coredns "github.com/artpar/berth/internal/core/dns"
	"github.com/artpar/berth/internal/core/ingress"
	"github.com/artpar/berth/internal/shell/dns"
	"github.com/artpar/berth/internal/shell/docker"
	"github.com/artpar/berth/internal/shell/exec"
	"github.com/artpar/berth/internal/shell/workspace"
)

// =============================================================================
// Errors
// =============================================================================

// CertIssuanceError reports a failed certificate issuance. The HTTP-only
// configuration written before issuance stays in place, so callers downgrade
// the run to degraded instead of failing it.
type CertIssuanceError struct {
	Domain string
	Err    error
}

func (e *CertIssuanceError) Error() string {
	return fmt.Sprintf("certificate issuance for %s failed: %v", e.Domain, e.Err)
}

func (e *CertIssuanceError) Unwrap() error {
	return e.Err
}

// =============================================================================
// Configurator
// =============================================================================

// Runtime is what the managed mode needs from the container executor.
type Runtime interface {
	Apply(ctx context.Context, plan deployment.ProjectPlan, workDir string) error
	RunOneOff(ctx context.Context, spec docker.OneOffSpec) (docker.OneOffResult, error)
}

// DomainChecker resolves a domain for the pre-issuance check.
type DomainChecker interface {
	Lookup(ctx context.Context, domain string) coredns.LookupResult
}

// Configurator puts the reverse proxy arrangement a plan calls for in place.
type Configurator struct {
	runner   exec.Runner
	files    *workspace.Manager
	runtime  Runtime
	resolver DomainChecker
	logger   *slog.Logger
}

// NewConfigurator creates a configurator on top of the given runner and
// container runtime.
func NewConfigurator(runner exec.Runner, runtime Runtime, resolver DomainChecker, logger *slog.Logger) *Configurator {
	return &Configurator{
		runner:   runner,
		files:    workspace.NewManager(runner, logger),
		runtime:  runtime,
		resolver: resolver,
		logger:   logger.With("component", "proxy"),
	}
}

// Apply dispatches on the plan's mode, each arm with its own reconciliation
// rule: managed recreates its nginx container only when the generated
// configuration changed, external reloads the host nginx without ever
// stopping it, and takeover stops, rewrites, and starts it.
//
// appNetworks are the application project's networks; the managed proxy
// joins them so route upstreams naming compose services resolve.
//
// The returned error is a *CertIssuanceError when everything except
// certificate issuance succeeded.
func (c *Configurator) Apply(ctx context.Context, req deploy.Request, plan ingress.Plan, appNetworks []string) error {
	switch plan.Mode {
	case ingress.ModeManaged:
		return c.applyManaged(ctx, req, plan, appNetworks)
	case ingress.ModeExternal:
		return c.applyExternal(ctx, req, plan)
	case ingress.ModeTakeover:
		return c.applyTakeover(ctx, req, plan)
	case ingress.ModeNone, "":
		return nil
	default:
		return fmt.Errorf("unknown ingress mode %q", plan.Mode)
	}
}

// =============================================================================
// Certificate Issuance
// =============================================================================

// checkDomains verifies each certificate domain resolves to this host before
// the ACME client runs. A clear mismatch cannot pass HTTP-01, so issuance is
// skipped and reported as failed without bothering the CA; an inconclusive
// check proceeds and lets the ACME exchange be the judge.
func (c *Configurator) checkDomains(ctx context.Context, domains []string) error {
	hostAddrs := dns.HostAddresses(ctx, c.runner)

	for _, domain := range domains {
		verdict := coredns.Verify(c.resolver.Lookup(ctx, domain), hostAddrs)
		if !verdict.OK {
			return &CertIssuanceError{Domain: domain, Err: errors.New(verdict.Reason)}
		}
		if verdict.Reason != "" {
			c.logger.Warn("domain check inconclusive", "domain", domain, "reason", verdict.Reason)
		}
	}
	return nil
}

// certExists reports whether a certificate for the primary domain is already
// under the given letsencrypt directory, so re-runs activate TLS directly
// instead of re-issuing. Renewal is certbot's job, not ours.
func (c *Configurator) certExists(ctx context.Context, letsEncryptDir, primary string) bool {
	path := filepath.Join(letsEncryptDir, "live", primary, "fullchain.pem")
	_, err := c.runner.Run(ctx, "test", "-f", path)
	return err == nil
}

// certbotArgs builds the issuance command: webroot challenge answered by the
// proxy written moments ago, non-interactive, one -d per covered domain.
// Validation guarantees a contact email whenever TLS is on.
func certbotArgs(webroot string, plan ingress.Plan) []string {
	args := []string{
		"certonly",
		"--webroot", "-w", webroot,
		"--non-interactive", "--agree-tos",
		"--email", plan.CertEmail,
	}
	for _, d := range plan.CertDomains {
		args = append(args, "-d", d)
	}
	return args
}

// lastLines keeps error messages readable when certbot dumps its whole log.
func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) <= n {
		return strings.TrimSpace(s)
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
