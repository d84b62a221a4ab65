// Package dns contains pure functions for the pre-issuance DNS check.
// Before requesting a certificate, each domain the certificate must cover
// is resolved and compared against the host's own addresses; a mismatch
// means the HTTP-01 challenge cannot succeed. All functions are pure, the
// shell performs the lookups.
package dns

import (
	"net"
	"strings"
)

// =============================================================================
// Check Types
// =============================================================================

// LookupResult carries DNS lookup output from the shell layer.
type LookupResult struct {
	Domain      string
	Addresses   []net.IP
	LookupError string
}

// Verdict is the outcome of checking one domain.
type Verdict struct {
	Domain string
	OK     bool
	Reason string
}

// =============================================================================
// Verification
// =============================================================================

// Verify decides whether a domain points at this host. Lookups follow
// CNAME chains, so comparing resolved addresses covers both record types.
//
// An empty host address list makes the check inconclusive rather than
// failed: issuance may still succeed, so the caller should proceed and let
// the ACME exchange be the judge.
func Verify(input LookupResult, hostAddrs []net.IP) Verdict {
	if input.LookupError != "" {
		return Verdict{
			Domain: input.Domain,
			Reason: "DNS lookup failed: " + input.LookupError,
		}
	}
	if len(input.Addresses) == 0 {
		return Verdict{
			Domain: input.Domain,
			Reason: "no DNS records found",
		}
	}
	if len(hostAddrs) == 0 {
		return Verdict{
			Domain: input.Domain,
			OK:     true,
			Reason: "host addresses unknown; check skipped",
		}
	}

	for _, addr := range input.Addresses {
		for _, host := range hostAddrs {
			if addr.Equal(host) {
				return Verdict{Domain: input.Domain, OK: true}
			}
		}
	}

	return Verdict{
		Domain: input.Domain,
		Reason: "resolves to " + joinIPs(input.Addresses) + ", none of which is this host",
	}
}

func joinIPs(addrs []net.IP) string {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		parts = append(parts, a.String())
	}
	return strings.Join(parts, ", ")
}
