package exec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/artpar/berth/internal/core/redact"
)

// =============================================================================
// SSH Target
// =============================================================================

// Target identifies a remote deployment host.
type Target struct {
	User string
	Host string
	Port int
}

// ParseTarget parses "user@host:port". User defaults to root and port to 22.
//
// Example:
//
//	ParseTarget("deploy@198.51.100.7:2222")
//	// Target{User: "deploy", Host: "198.51.100.7", Port: 2222}
func ParseTarget(s string) (Target, error) {
	t := Target{User: "root", Port: 22}

	rest := strings.TrimSpace(s)
	if rest == "" {
		return Target{}, errors.New("empty host")
	}

	if at := strings.LastIndex(rest, "@"); at >= 0 {
		t.User = rest[:at]
		rest = rest[at+1:]
		if t.User == "" {
			return Target{}, fmt.Errorf("invalid host %q: empty user", s)
		}
	}

	if colon := strings.LastIndex(rest, ":"); colon >= 0 {
		port, err := strconv.Atoi(rest[colon+1:])
		if err != nil || port < 1 || port > 65535 {
			return Target{}, fmt.Errorf("invalid host %q: bad port", s)
		}
		t.Port = port
		rest = rest[:colon]
	}

	if rest == "" {
		return Target{}, fmt.Errorf("invalid host %q: empty address", s)
	}
	t.Host = rest
	return t, nil
}

// Addr returns the dialable host:port.
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

func (t Target) String() string {
	return t.User + "@" + t.Addr()
}

// =============================================================================
// SSH Runner
// =============================================================================

// SSHRunnerConfig configures the SSH runner.
type SSHRunnerConfig struct {
	CommandTimeout time.Duration // Default: 10 minutes (package installs are slow)
	ConnectTimeout time.Duration // Default: 10 seconds
}

// SSHRunner executes commands on a remote host over SSH. The connection is
// established lazily and reused; each command runs in its own session.
type SSHRunner struct {
	target  Target
	signer  ssh.Signer
	timeout time.Duration
	dialTO  time.Duration
	logger  *slog.Logger

	mu     sync.Mutex // Protects client
	client *ssh.Client
}

// NewSSHRunner creates a runner for a remote host. privateKey is the
// unencrypted PEM key used for public-key auth.
func NewSSHRunner(target Target, privateKey []byte, config SSHRunnerConfig, logger *slog.Logger) (*SSHRunner, error) {
	signer, err := ssh.ParsePrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("parse SSH private key: %w", err)
	}

	if config.CommandTimeout == 0 {
		config.CommandTimeout = 10 * time.Minute
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &SSHRunner{
		target:  target,
		signer:  signer,
		timeout: config.CommandTimeout,
		dialTO:  config.ConnectTimeout,
		logger:  logger,
	}, nil
}

// connect establishes the SSH connection if not already connected.
func (r *SSHRunner) connect(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		// Check if connection is still alive
		_, _, err := r.client.SendRequest("keepalive@berth", true, nil)
		if err == nil {
			return nil
		}
		// Connection dead, reconnect
		r.client.Close()
		r.client = nil
	}

	config := &ssh.ClientConfig{
		User:            r.target.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(r.signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // TODO: verify against known_hosts
		Timeout:         r.dialTO,
	}

	client, err := ssh.Dial("tcp", r.target.Addr(), config)
	if err != nil {
		return fmt.Errorf("SSH dial %s: %w", r.target.Addr(), err)
	}

	r.client = client
	return nil
}

// Close closes the SSH connection.
func (r *SSHRunner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		err := r.client.Close()
		r.client = nil
		return err
	}
	return nil
}

func (r *SSHRunner) session() (*ssh.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == nil {
		return nil, errors.New("not connected")
	}
	return r.client.NewSession()
}

// Run executes a command on the remote host. A nonzero exit returns both
// the populated Result and a *CommandError.
func (r *SSHRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	cmdLine := commandLine(name, args)
	r.logger.Debug("running remote command", "host", r.target.String(), "cmd", redact.Redact(cmdLine))

	return r.run(ctx, shellCommand(name, args), nil, cmdLine)
}

// run executes a ready-built shell command string, optionally feeding stdin.
func (r *SSHRunner) run(ctx context.Context, cmdStr string, stdin []byte, display string) (Result, error) {
	if err := r.connect(ctx); err != nil {
		return Result{}, err
	}

	session, err := r.session()
	if err != nil {
		return Result{}, fmt.Errorf("create SSH session: %w", err)
	}
	defer session.Close()

	if stdin != nil {
		session.Stdin = bytes.NewReader(stdin)
	}

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmdStr)
	}()

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-time.After(r.timeout):
		return Result{}, fmt.Errorf("command %q timed out after %v", display, r.timeout)
	case err := <-done:
		result := Result{
			Stdout: stdout.String(),
			Stderr: stderr.String(),
		}
		if err != nil {
			var exitErr *ssh.ExitError
			if errors.As(err, &exitErr) {
				result.ExitCode = exitErr.ExitStatus()
				return result, &CommandError{
					Cmd:      display,
					ExitCode: result.ExitCode,
					Stderr:   result.Stderr,
				}
			}
			return result, err
		}
		return result, nil
	}
}

// ReadFile reads a remote file. A missing file maps to fs.ErrNotExist so
// callers behave the same against local and remote hosts.
func (r *SSHRunner) ReadFile(ctx context.Context, path string) ([]byte, error) {
	result, err := r.run(ctx, "cat "+shellQuote(path), nil, "cat "+path)
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) && strings.Contains(cmdErr.Stderr, "No such file") {
			return nil, fmt.Errorf("%s: %w", path, fs.ErrNotExist)
		}
		return nil, err
	}
	return []byte(result.Stdout), nil
}

// WriteFile writes a remote file through stdin, creating parent directories
// and setting the mode in the same session.
func (r *SSHRunner) WriteFile(ctx context.Context, path string, data []byte, perm fs.FileMode) error {
	dir := remoteDir(path)
	cmdStr := fmt.Sprintf("mkdir -p %s && cat > %s && chmod %o %s",
		shellQuote(dir), shellQuote(path), perm.Perm(), shellQuote(path))

	_, err := r.run(ctx, cmdStr, data, "write "+path)
	return err
}

// =============================================================================
// Shell Helpers
// =============================================================================

// shellCommand renders name and args as a single POSIX shell command.
func shellCommand(name string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, shellQuote(name))
	for _, a := range args {
		parts = append(parts, shellQuote(a))
	}
	return strings.Join(parts, " ")
}

// shellQuote single-quotes a string for POSIX shells.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n\"'`$\\&|;<>(){}[]*?~#") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// remoteDir returns the parent directory of a remote path without touching
// the local filepath separator rules.
func remoteDir(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return "/"
	}
	return path[:idx]
}
