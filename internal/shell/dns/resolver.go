// Package dns performs the lookups behind the pre-issuance domain check.
// The decision logic lives in core/dns; this package only talks to the
// resolver and to the deployment host.
package dns

import (
	"context"
	"log/slog"
	"net"
	"strings"

	coredns "github.com/artpar/berth/internal/core/dns"
	"github.com/artpar/berth/internal/shell/exec"
)

// Resolver looks up the addresses a domain currently points at.
type Resolver struct {
	resolver *net.Resolver
	logger   *slog.Logger
}

// NewResolver creates a resolver backed by the system resolver.
func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		resolver: net.DefaultResolver,
		logger:   logger.With("component", "dns"),
	}
}

// Lookup resolves domain to its addresses. LookupIPAddr follows CNAME
// chains, so the result covers both record types. Lookup failures are
// carried in the result rather than returned; the pure check decides what
// they mean.
func (r *Resolver) Lookup(ctx context.Context, domain string) coredns.LookupResult {
	addrs, err := r.resolver.LookupIPAddr(ctx, domain)
	if err != nil {
		r.logger.Debug("dns lookup failed", "domain", domain, "error", err)
		return coredns.LookupResult{Domain: domain, LookupError: err.Error()}
	}

	result := coredns.LookupResult{Domain: domain}
	for _, addr := range addrs {
		result.Addresses = append(result.Addresses, addr.IP)
	}
	return result
}

// HostAddresses enumerates the deployment host's own addresses through the
// runner, so a remote host reports its addresses rather than the operator
// machine's. Any failure returns nil, which makes the domain check
// inconclusive instead of failed.
func HostAddresses(ctx context.Context, runner exec.Runner) []net.IP {
	res, err := runner.Run(ctx, "hostname", "-I")
	if err != nil {
		return nil
	}
	return parseAddresses(res.Stdout)
}

func parseAddresses(s string) []net.IP {
	var addrs []net.IP
	for _, field := range strings.Fields(s) {
		if ip := net.ParseIP(field); ip != nil {
			addrs = append(addrs, ip)
		}
	}
	return addrs
}
