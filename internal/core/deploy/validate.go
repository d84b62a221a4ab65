package deploy

import (
	"fmt"
	"regexp"
)

// =============================================================================
// Field Patterns
// =============================================================================

var (
	serviceNameRe  = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)
	domainRe       = regexp.MustCompile(`^(?:[A-Za-z0-9](?:[A-Za-z0-9-]{0,61}[A-Za-z0-9])?\.)+[A-Za-z]{2,63}$`)
	emailRe        = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	tokenRe        = regexp.MustCompile(`^[A-Za-z0-9._~+\-]{8,}$`)
	serverNameRe   = regexp.MustCompile(`^[A-Za-z0-9*_.-]+$`)
	upstreamHostRe = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
	pathPrefixRe   = regexp.MustCompile(`^/[A-Za-z0-9._~!$&'()*+,;=:@%/\-]*$`)
)

// IsValidDomain reports whether s is a usable DNS name: dot-separated
// labels of at most 63 characters, an alphabetic TLD, and at most 253
// characters overall.
func IsValidDomain(s string) bool {
	return len(s) <= 253 && domainRe.MatchString(s)
}

// IsValidServiceName reports whether s can name a deployment: it must start
// with a letter or digit and contain only letters, digits, '_', '.', '-'.
func IsValidServiceName(s string) bool {
	return serviceNameRe.MatchString(s)
}

// IsValidEmail reports whether s looks like a deliverable address.
func IsValidEmail(s string) bool {
	return emailRe.MatchString(s)
}

// IsValidAuthToken reports whether s is acceptable as a proxy bearer token:
// at least 8 characters of letters, digits, '.', '_', '~', '+', '-'.
func IsValidAuthToken(s string) bool {
	return tokenRe.MatchString(s)
}

func validPort(p uint32) bool {
	return p >= 1 && p <= 65535
}

// =============================================================================
// Request Validation
// =============================================================================

// Validate checks every field-level and cross-field rule that does not
// depend on the resolved service model. Rules that need to know which
// services the source actually defines (selection membership, upstream
// membership, access exposure for compose sources) are enforced by the
// source resolver and the ingress planner.
func (r Request) Validate() error {
	if r.ServiceName == "" {
		return NewValidationError("service_name", "service name is required", ErrMissingServiceName)
	}
	if !IsValidServiceName(r.ServiceName) {
		return NewValidationError("service_name",
			"service name must start with a letter or digit and contain only letters, digits, '_', '.', '-'",
			ErrInvalidServiceName)
	}
	if r.SourceDir == "" {
		return NewValidationError("source_dir", "source directory is required", ErrMissingSourceDir)
	}

	switch r.SourceKind {
	case SourceAuto, SourceCompose, SourceDockerfile:
	default:
		return NewValidationError("source_kind",
			fmt.Sprintf("source kind %q is not one of auto, compose, dockerfile", r.SourceKind),
			ErrInvalidSourceKind)
	}
	switch r.AccessMode {
	case AccessLocalhost, AccessTailscale, AccessPublic:
	default:
		return NewValidationError("access_mode",
			fmt.Sprintf("access mode %q is not one of localhost, tailscale, public", r.AccessMode),
			ErrInvalidAccessMode)
	}
	switch r.IngressMode {
	case IngressManaged, IngressExternal, IngressTakeover:
	default:
		return NewValidationError("ingress_mode",
			fmt.Sprintf("ingress mode %q is not one of managed, external-nginx, takeover", r.IngressMode),
			ErrInvalidIngressMode)
	}

	if err := r.validatePorts(); err != nil {
		return err
	}
	if err := r.validateRetries(); err != nil {
		return err
	}
	if err := r.validateSelection(); err != nil {
		return err
	}
	if err := r.validateTLS(); err != nil {
		return err
	}
	if err := r.validateRoutes(); err != nil {
		return err
	}
	return r.validateIngress()
}

func (r Request) validatePorts() error {
	if (r.HostPort == 0) != (r.ContainerPort == 0) {
		return NewValidationError("host_port",
			"host port and container port must be set together", ErrInvalidPort)
	}
	if r.HostPort != 0 && !validPort(r.HostPort) {
		return NewValidationError("host_port", "host port must be between 1 and 65535", ErrInvalidPort)
	}
	if r.ContainerPort != 0 && !validPort(r.ContainerPort) {
		return NewValidationError("container_port", "container port must be between 1 and 65535", ErrInvalidPort)
	}
	return nil
}

func (r Request) validateRetries() error {
	if r.RegistryRetries < 1 {
		return NewValidationError("registry_retries",
			"registry retries must be at least 1", ErrInvalidRetrySetting)
	}
	if r.RetryBackoffSeconds < 1 {
		return NewValidationError("backoff_seconds",
			"retry backoff must be at least 1 second", ErrInvalidRetrySetting)
	}
	return nil
}

func (r Request) validateSelection() error {
	seen := make(map[string]struct{}, len(r.ComposeServices))
	for i, name := range r.ComposeServices {
		if name == "" {
			return NewValidationError(fmt.Sprintf("services[%d]", i),
				"service selection must not contain empty names", ErrConflictingSettings)
		}
		if _, dup := seen[name]; dup {
			return NewValidationError(fmt.Sprintf("services[%d]", i),
				fmt.Sprintf("service %q selected more than once", name), ErrConflictingSettings)
		}
		seen[name] = struct{}{}
	}
	if r.SourceKind == SourceDockerfile {
		if len(r.ComposeServices) > 0 {
			return NewValidationError("services",
				"service selection only applies to compose sources", ErrConflictingSettings)
		}
		if r.UpstreamService != "" {
			return NewValidationError("upstream_service",
				"upstream service overrides only apply to compose sources", ErrConflictingSettings)
		}
	}
	return nil
}

func (r Request) validateTLS() error {
	if r.Domain != "" && !IsValidDomain(r.Domain) {
		return NewValidationError("domain",
			fmt.Sprintf("%q is not a valid domain name", r.Domain), ErrConflictingSettings)
	}
	if r.CertbotEmail != "" {
		if !IsValidEmail(r.CertbotEmail) {
			return NewValidationError("certbot_email",
				fmt.Sprintf("%q is not a valid email address", r.CertbotEmail), ErrConflictingSettings)
		}
		if r.Domain == "" {
			return NewValidationError("certbot_email",
				"certbot email requires a domain", ErrConflictingSettings)
		}
	}
	if r.TLSEnabled() {
		if r.CertbotEmail == "" {
			return NewValidationError("certbot_email",
				"TLS issuance requires a certbot email", ErrConflictingSettings)
		}
		if r.AccessMode != AccessPublic {
			return NewValidationError("domain",
				"a domain requires public access so HTTP-01 validation can reach the host",
				ErrConflictingSettings)
		}
	}
	if r.AuthToken != "" && !IsValidAuthToken(r.AuthToken) {
		return NewValidationError("auth_token",
			"auth token must be at least 8 characters of letters, digits, '.', '_', '~', '+', '-'",
			ErrConflictingSettings)
	}
	return nil
}

func (r Request) validateRoutes() error {
	keys := make(map[string]struct{}, len(r.Routes))
	for i, rt := range r.Routes {
		field := fmt.Sprintf("routes[%d]", i)
		if rt.Host == "" || !serverNameRe.MatchString(rt.Host) {
			return NewValidationError(field,
				fmt.Sprintf("%q is not a valid route host", rt.Host), ErrInvalidRoute)
		}
		if !pathPrefixRe.MatchString(rt.Path) {
			return NewValidationError(field,
				fmt.Sprintf("%q is not a valid route path", rt.Path), ErrInvalidRoute)
		}
		if rt.Upstream == "" || !upstreamHostRe.MatchString(rt.Upstream) {
			return NewValidationError(field,
				fmt.Sprintf("%q is not a valid route upstream", rt.Upstream), ErrInvalidRoute)
		}
		if !validPort(rt.Port) {
			return NewValidationError(field, "route port must be between 1 and 65535", ErrInvalidRoute)
		}
		if _, dup := keys[rt.Key()]; dup {
			return NewValidationError(field,
				fmt.Sprintf("route for %s%s is declared more than once", rt.Host, rt.Path),
				ErrDuplicateRoute)
		}
		keys[rt.Key()] = struct{}{}
	}
	if len(r.Routes) > 0 && (r.UpstreamService != "" || r.UpstreamPort != 0) {
		return NewValidationError("routes",
			"explicit routes replace the upstream service and port overrides", ErrConflictingSettings)
	}
	return nil
}

func (r Request) validateIngress() error {
	if (r.IngressMode == IngressExternal || r.IngressMode == IngressTakeover) && r.AccessMode != AccessPublic {
		return NewValidationError("ingress_mode",
			fmt.Sprintf("%s ingress requires public access", r.IngressMode), ErrConflictingSettings)
	}
	if r.ProxyHTTPSPort != 0 && !r.TLSEnabled() {
		return NewValidationError("proxy_https_port",
			"an HTTPS port requires a domain", ErrConflictingSettings)
	}
	if (r.ProxyHTTPPort != 0 || r.ProxyHTTPSPort != 0) && r.IngressMode != IngressManaged {
		return NewValidationError("proxy_http_port",
			"proxy port overrides only apply to managed ingress", ErrConflictingSettings)
	}
	if r.ProxyHTTPPort != 0 && !validPort(r.ProxyHTTPPort) {
		return NewValidationError("proxy_http_port", "proxy HTTP port must be between 1 and 65535", ErrInvalidPort)
	}
	if r.ProxyHTTPSPort != 0 && !validPort(r.ProxyHTTPSPort) {
		return NewValidationError("proxy_https_port", "proxy HTTPS port must be between 1 and 65535", ErrInvalidPort)
	}
	if r.IngressMode == IngressManaged && r.TLSEnabled() && r.EffectiveHTTPPort() == r.EffectiveHTTPSPort() {
		return NewValidationError("proxy_https_port",
			"managed TLS needs distinct HTTP and HTTPS ports", ErrConflictingSettings)
	}

	if !r.ReverseProxyEnabled() {
		if r.UpstreamService != "" || r.UpstreamPort != 0 {
			return NewValidationError("upstream_service",
				"upstream overrides require a reverse proxy (domain, auth token, or routes)",
				ErrConflictingSettings)
		}
		if r.ProxyHTTPPort != 0 || r.ProxyHTTPSPort != 0 {
			return NewValidationError("proxy_http_port",
				"proxy ports require a reverse proxy (domain, auth token, or routes)",
				ErrConflictingSettings)
		}
		if r.IngressMode != IngressManaged {
			return NewValidationError("ingress_mode",
				"ingress mode requires a reverse proxy (domain, auth token, or routes)",
				ErrConflictingSettings)
		}
	}
	if r.UpstreamPort != 0 && !validPort(r.UpstreamPort) {
		return NewValidationError("upstream_port", "upstream port must be between 1 and 65535", ErrInvalidPort)
	}
	return nil
}
