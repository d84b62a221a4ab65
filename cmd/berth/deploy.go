package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/artpar/berth/internal/core/deploy"
	"github.com/artpar/berth/internal/core/retry"
	"github.com/artpar/berth/internal/shell/docker"
	"github.com/artpar/berth/internal/shell/dns"
	"github.com/artpar/berth/internal/shell/exec"
	"github.com/artpar/berth/internal/shell/host"
	"github.com/artpar/berth/internal/shell/orchestrator"
	"github.com/artpar/berth/internal/shell/proxy"
	"github.com/artpar/berth/internal/shell/store"
	"github.com/artpar/berth/internal/shell/tui"
)

func deployCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy a service from a compose file or Dockerfile",
		Long: `Deploy a service to this host (or a remote one via --host).

The source directory must hold a compose file or a Dockerfile. Without
--name the command runs an interactive wizard when attached to a terminal;
with it, the deployment runs in batch mode from flags alone.

Examples:
  # Guided
  berth deploy

  # Compose project, loopback only
  berth deploy --source ./app --name myapp

  # Dockerfile source published on a chosen port
  berth deploy --source ./app --name myapp --host-port 8080 --container-port 3000

  # Public, behind the managed proxy with TLS
  berth deploy --source ./app --name myapp --access public \
    --domain app.example.com --email ops@example.com

  # Route two hostnames at compose services via the host nginx
  berth deploy --source ./app --name myapp --access public --ingress external-nginx \
    --route app.example.com=web:3000 --route api.example.com=api:9000`,
		Args:         cobra.NoArgs,
		RunE:         runDeploy,
		SilenceUsage: true,
	}

	// Source
	cmd.Flags().String("source", ".", "Source directory holding the compose file or Dockerfile")
	cmd.Flags().String("name", "", "Service name (required in batch mode)")
	cmd.Flags().String("kind", string(deploy.SourceAuto), "Source kind: auto, compose, dockerfile")
	cmd.Flags().String("compose-file", "", "Compose file path relative to the source directory (default: discovered)")
	cmd.Flags().StringArray("service", nil, "Compose service to deploy (repeatable; default: all)")

	// Publication
	cmd.Flags().Uint32("host-port", 0, "Host port to publish (dockerfile sources)")
	cmd.Flags().Uint32("container-port", 0, "Container port the image listens on (dockerfile sources)")
	cmd.Flags().String("bind", deploy.DefaultBindHost, "Interface published ports bind to")
	cmd.Flags().String("access", string(deploy.AccessLocalhost), "Access mode: localhost, tailscale, public")

	// Ingress
	cmd.Flags().String("ingress", string(deploy.IngressManaged), "Ingress mode: managed, external-nginx, takeover")
	cmd.Flags().String("domain", "", "Domain for TLS via Let's Encrypt HTTP-01")
	cmd.Flags().String("email", "", "Certificate registration email")
	cmd.Flags().StringArray("route", nil, "Hostname route as HOST[/PATH]=UPSTREAM:PORT (repeatable)")
	cmd.Flags().String("auth-token", "", "Require \"Authorization: Bearer <token>\" at the proxy")
	cmd.Flags().String("upstream-service", "", "Compose service the default route targets")
	cmd.Flags().Uint32("upstream-port", 0, "Port the default route targets")
	cmd.Flags().Uint32("proxy-http-port", 0, "Managed proxy HTTP port (default 80)")
	cmd.Flags().Uint32("proxy-https-port", 0, "Managed proxy HTTPS port (default 443)")

	// Host
	cmd.Flags().String("base-dir", deploy.DefaultBaseDir, "Root directory for managed service files")
	cmd.Flags().Int("registry-retries", deploy.DefaultRegistryRetries, "Retries for transient registry failures")
	cmd.Flags().Int("backoff-seconds", deploy.DefaultRetryBackoffSeconds, "Linear backoff unit between retries, in seconds")
	cmd.Flags().Bool("no-daemon-tuning", false, "Skip Docker daemon tuning during host bootstrap")
	cmd.Flags().String("host", "", "Remote deployment host as user@addr[:port] (default: the local machine)")
	cmd.Flags().String("ssh-key", "", "SSH private key for --host (default: probe ~/.ssh)")

	return cmd
}

func runDeploy(cmd *cobra.Command, _ []string) error {
	a := appFrom(cmd)

	req, missing, err := requestFromFlags(cmd, a.cfg)
	if err != nil {
		return err
	}

	if len(missing) > 0 {
		// Interactive mode requires a terminal.
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			return deploy.NewValidationError("name",
				fmt.Sprintf("missing required flag(s): %s (interactive mode requires a terminal)", strings.Join(missing, ", ")), nil)
		}
		final, err := tui.DeployForm(orchestrator.DirResolver{}, req)
		if err != nil {
			if errors.Is(err, tui.ErrAborted) {
				fmt.Fprintln(cmd.ErrOrStderr(), "Deployment cancelled.")
				return nil
			}
			return err
		}
		req = *final
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	runner, closeRunner, err := buildRunner(cmd, req, a.cfg, a.logger)
	if err != nil {
		return err
	}
	defer closeRunner()

	dockerClient, err := docker.NewClient()
	if err != nil {
		return err
	}
	defer dockerClient.Close()

	executor := docker.NewExecutor(dockerClient, a.logger, retry.Policy{
		Retries: req.RegistryRetries,
		Backoff: time.Duration(req.RetryBackoffSeconds) * time.Second,
	})
	bootstrapper := host.NewBootstrapper(runner, executor, a.logger)
	configurator := proxy.NewConfigurator(runner, executor, dns.NewResolver(a.logger), a.logger)

	history, closeHistory := openHistory(a.cfg, req.BaseDir, a.logger)
	defer closeHistory()

	orch := orchestrator.NewOrchestrator(
		orchestrator.DirResolver{}, bootstrapper, executor, configurator, runner, history, a.logger)

	res, err := orch.Deploy(ctx, req)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), res.Summary())
	return nil
}

// =============================================================================
// Request Assembly
// =============================================================================

// requestFromFlags merges configuration defaults and explicit flags into a
// deployment request. It returns the flags still missing for batch mode; the
// wizard collects those interactively.
func requestFromFlags(cmd *cobra.Command, cfg *Config) (deploy.Request, []string, error) {
	flags := cmd.Flags()

	sourceDir, _ := flags.GetString("source")
	name, _ := flags.GetString("name")
	req := deploy.NewRequest(strings.TrimSpace(name), sourceDir)

	// Config supplies defaults; explicit flags win.
	if cfg.Deploy.BaseDir != "" {
		req.BaseDir = cfg.Deploy.BaseDir
	}
	req.RegistryRetries = cfg.Deploy.RegistryRetries
	req.RetryBackoffSeconds = cfg.Deploy.BackoffSeconds
	if flags.Changed("base-dir") {
		req.BaseDir, _ = flags.GetString("base-dir")
	}
	if flags.Changed("registry-retries") {
		req.RegistryRetries, _ = flags.GetInt("registry-retries")
	}
	if flags.Changed("backoff-seconds") {
		req.RetryBackoffSeconds, _ = flags.GetInt("backoff-seconds")
	}

	kind, _ := flags.GetString("kind")
	req.SourceKind = deploy.SourceKind(kind)
	req.ComposeFile, _ = flags.GetString("compose-file")
	req.ComposeServices, _ = flags.GetStringArray("service")

	req.HostPort, _ = flags.GetUint32("host-port")
	req.ContainerPort, _ = flags.GetUint32("container-port")
	req.BindHost, _ = flags.GetString("bind")
	access, _ := flags.GetString("access")
	req.AccessMode = deploy.AccessMode(access)

	mode, _ := flags.GetString("ingress")
	req.IngressMode = deploy.IngressMode(mode)
	req.Domain, _ = flags.GetString("domain")
	req.CertbotEmail, _ = flags.GetString("email")
	req.AuthToken, _ = flags.GetString("auth-token")
	req.UpstreamService, _ = flags.GetString("upstream-service")
	req.UpstreamPort, _ = flags.GetUint32("upstream-port")
	req.ProxyHTTPPort, _ = flags.GetUint32("proxy-http-port")
	req.ProxyHTTPSPort, _ = flags.GetUint32("proxy-https-port")

	routeSpecs, _ := flags.GetStringArray("route")
	for _, spec := range routeSpecs {
		route, err := deploy.ParseRoute(spec)
		if err != nil {
			return req, nil, err
		}
		req.Routes = append(req.Routes, route)
	}

	if noTuning, _ := flags.GetBool("no-daemon-tuning"); noTuning {
		req.TuneDockerDaemon = false
	}
	req.RemoteHost, _ = flags.GetString("host")

	var missing []string
	if req.ServiceName == "" {
		missing = append(missing, "--name")
	}
	return req, missing, nil
}

// =============================================================================
// Wiring
// =============================================================================

// buildRunner picks local or SSH command execution. With --host, bootstrap,
// proxy, and certificate commands run remotely; the Docker API connection
// stays environment-driven, so DOCKER_HOST must point at the same machine.
func buildRunner(cmd *cobra.Command, req deploy.Request, cfg *Config, logger *slog.Logger) (exec.Runner, func(), error) {
	noop := func() {}
	if req.RemoteHost == "" {
		return exec.NewLocalRunner(logger), noop, nil
	}

	target, err := exec.ParseTarget(req.RemoteHost)
	if err != nil {
		return nil, nil, deploy.NewValidationError("host", err.Error(), err)
	}

	keyPath, _ := cmd.Flags().GetString("ssh-key")
	if keyPath == "" {
		keyPath = cfg.Deploy.SSHKey
	}
	key, resolved, err := loadSSHKey(keyPath)
	if err != nil {
		return nil, nil, err
	}

	runner, err := exec.NewSSHRunner(target, key, exec.SSHRunnerConfig{}, logger)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("executing host commands over SSH", "target", target.String(), "key", resolved)
	if os.Getenv("DOCKER_HOST") == "" {
		logger.Warn("DOCKER_HOST is not set; container operations target the local daemon", "remote", target.Host)
	}
	return runner, func() { _ = runner.Close() }, nil
}

// defaultKeyPaths are probed in order when no key is configured.
var defaultKeyPaths = []string{"~/.ssh/id_ed25519", "~/.ssh/id_rsa", "~/.ssh/id_ecdsa"}

// loadSSHKey reads the private key at path, or probes the standard locations
// when path is empty. It returns the key bytes and the path that supplied
// them.
func loadSSHKey(path string) ([]byte, string, error) {
	if path != "" {
		resolved := expandHome(path)
		key, err := os.ReadFile(resolved)
		if err != nil {
			return nil, "", fmt.Errorf("reading SSH key %s: %w", resolved, err)
		}
		return key, resolved, nil
	}
	for _, candidate := range defaultKeyPaths {
		resolved := expandHome(candidate)
		if key, err := os.ReadFile(resolved); err == nil {
			return key, resolved, nil
		}
	}
	return nil, "", errors.New("no SSH private key found; pass --ssh-key or set deploy.ssh_key")
}

// expandHome expands a leading ~/ to the user's home directory.
func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// openHistory opens the run store under the deployment base directory. A
// history failure never blocks a deployment; the run just goes unrecorded.
func openHistory(cfg *Config, baseDir string, logger *slog.Logger) (orchestrator.RunRecorder, func()) {
	noop := func() {}
	if !cfg.History.Enabled {
		return nil, noop
	}
	path := cfg.HistoryPath(baseDir)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		logger.Warn("run history disabled", "path", path, "error", err)
		return nil, noop
	}
	st, err := store.NewSQLiteStore(path)
	if err != nil {
		logger.Warn("run history disabled", "path", path, "error", err)
		return nil, noop
	}
	return st, func() {
		if err := st.Close(); err != nil {
			logger.Warn("closing run history failed", "error", err)
		}
	}
}
