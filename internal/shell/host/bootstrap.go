// Package host prepares the deployment target before anything is deployed:
// container runtime present and active, daemon tuned for flaky registries,
// firewall egress open for container traffic, tailnet joined when asked,
// and the proxy stack in place. Every step is idempotent and monotonic; a
// re-run never removes a capability an earlier run added.
package host

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/artpar/berth/internal/core/deploy"
	"github.com/artpar/berth/internal/core/ingress"
	"github.com/artpar/berth/internal/shell/exec"
	"github.com/artpar/berth/internal/shell/workspace"
)

// =============================================================================
// Errors
// =============================================================================

// BootstrapError reports which preparation step failed. Any failure aborts
// the run before the deployment executor touches the host.
type BootstrapError struct {
	Step string
	Err  error
}

func (e *BootstrapError) Error() string {
	return fmt.Sprintf("bootstrap step %q failed: %v", e.Step, e.Err)
}

func (e *BootstrapError) Unwrap() error {
	return e.Err
}

// =============================================================================
// Bootstrapper
// =============================================================================

// ImagePuller fetches container images ahead of time. Pre-pulling the
// managed proxy images during bootstrap makes a broken registry fail the
// run while the host is still untouched.
type ImagePuller interface {
	PullIfMissing(ctx context.Context, refs ...string) error
}

// Bootstrapper runs the ordered host preparation steps over an exec runner,
// so the same code prepares a local machine or a remote one over SSH.
type Bootstrapper struct {
	runner exec.Runner
	files  *workspace.Manager
	images ImagePuller
	logger *slog.Logger
}

// NewBootstrapper creates a bootstrapper on top of the given runner.
func NewBootstrapper(runner exec.Runner, images ImagePuller, logger *slog.Logger) *Bootstrapper {
	return &Bootstrapper{
		runner: runner,
		files:  workspace.NewManager(runner, logger),
		images: images,
		logger: logger.With("component", "bootstrap"),
	}
}

type step struct {
	name string
	skip bool
	run  func(context.Context) error
}

// Prepare brings the host to the state the deployment needs. Steps run in
// order and the first failure aborts; a half-prepared host must never reach
// execution.
func (b *Bootstrapper) Prepare(ctx context.Context, req deploy.Request, plan ingress.Plan) error {
	steps := []step{
		{name: "base packages", run: b.ensureBasePackages},
		{name: "container runtime", run: b.ensureDocker},
		{name: "daemon tuning", skip: !req.TuneDockerDaemon, run: b.tuneDaemon},
		{name: "firewall egress", run: b.ensureFirewall},
		{name: "tailscale", skip: req.AccessMode != deploy.AccessTailscale, run: b.ensureTailscale},
		{name: "proxy stack", skip: !plan.Active(), run: func(ctx context.Context) error {
			return b.ensureProxyStack(ctx, plan)
		}},
	}

	for _, s := range steps {
		if s.skip {
			b.logger.Debug("skipping bootstrap step", "step", s.name)
			continue
		}
		b.logger.Info("bootstrap step", "step", s.name)
		if err := s.run(ctx); err != nil {
			return &BootstrapError{Step: s.name, Err: err}
		}
	}
	return nil
}

// =============================================================================
// Steps
// =============================================================================

func (b *Bootstrapper) ensureBasePackages(ctx context.Context) error {
	if _, err := b.runner.Run(ctx, "sh", "-c",
		"export DEBIAN_FRONTEND=noninteractive; apt-get update -y"); err != nil {
		return err
	}
	_, err := b.runner.Run(ctx, "sh", "-c",
		"export DEBIAN_FRONTEND=noninteractive; apt-get install -y ca-certificates curl gnupg")
	return err
}

// ensureDocker verifies both that the daemon answers and that the compose
// plugin is installed; either one missing triggers the vendor install
// script.
func (b *Bootstrapper) ensureDocker(ctx context.Context) error {
	_, infoErr := b.runner.Run(ctx, "docker", "info")
	_, composeErr := b.runner.Run(ctx, "docker", "compose", "version")
	if infoErr == nil && composeErr == nil {
		return nil
	}

	b.logger.Info("installing container runtime")
	if _, err := b.runner.Run(ctx, "sh", "-c", "curl -fsSL https://get.docker.com | bash"); err != nil {
		return err
	}
	_, err := b.runner.Run(ctx, "systemctl", "enable", "--now", "docker")
	return err
}

// firewallRules are the egress allowances container traffic needs on hosts
// with restrictive filtering: DNS lookups and HTTPS to the registry.
var firewallRules = [][]string{
	{"DOCKER-USER", "-p", "udp", "--dport", "53", "-j", "ACCEPT"},
	{"DOCKER-USER", "-p", "tcp", "--dport", "53", "-j", "ACCEPT"},
	{"DOCKER-USER", "-p", "tcp", "--dport", "443", "-j", "ACCEPT"},
}

// ensureFirewall inserts each rule only when a check shows it absent, so
// repeated runs never stack duplicates.
func (b *Bootstrapper) ensureFirewall(ctx context.Context) error {
	for _, rule := range firewallRules {
		if _, err := b.runner.Run(ctx, "iptables", append([]string{"-C"}, rule...)...); err == nil {
			continue
		}
		b.logger.Info("inserting firewall rule", "rule", strings.Join(rule, " "))
		if _, err := b.runner.Run(ctx, "iptables", append([]string{"-I"}, rule...)...); err != nil {
			return err
		}
	}
	return nil
}

// ensureTailscale installs the client if needed and joins the tailnet. A
// host already joined reports healthy status and nothing runs.
func (b *Bootstrapper) ensureTailscale(ctx context.Context) error {
	if _, err := b.runner.Run(ctx, "tailscale", "status"); err == nil {
		return nil
	}

	if _, err := b.runner.Run(ctx, "sh", "-c", "command -v tailscale"); err != nil {
		b.logger.Info("installing tailscale")
		if _, err := b.runner.Run(ctx, "sh", "-c", "curl -fsSL https://tailscale.com/install.sh | sh"); err != nil {
			return err
		}
	}

	b.logger.Info("joining tailnet")
	_, err := b.runner.Run(ctx, "tailscale", "up")
	return err
}

// ensureProxyStack makes the proxy runnable: the managed mode pre-pulls its
// container images, the host modes install nginx and certbot packages.
func (b *Bootstrapper) ensureProxyStack(ctx context.Context, plan ingress.Plan) error {
	if plan.Mode == ingress.ModeManaged {
		images := []string{ingress.ProxyImage}
		if plan.TLS {
			images = append(images, ingress.CertbotImage)
		}
		return b.images.PullIfMissing(ctx, images...)
	}

	_, err := b.runner.Run(ctx, "sh", "-c",
		"export DEBIAN_FRONTEND=noninteractive; apt-get install -y nginx certbot")
	return err
}
