package deploy

import (
	"path/filepath"
	"strings"
)

// =============================================================================
// Derived Values
// =============================================================================

// ManagedPaths are the files a deployment owns under its service directory.
type ManagedPaths struct {
	// ServiceDir is BaseDir/ServiceName.
	ServiceDir string

	// ComposeFile is the synthesized compose file written in dockerfile mode.
	ComposeFile string

	// ProxyComposeFile runs the managed nginx (and certbot) containers.
	ProxyComposeFile string

	// NginxConfDir holds the generated nginx configuration.
	NginxConfDir string

	// NginxConf is the generated server configuration mounted into nginx.
	NginxConf string

	// CertbotWebroot serves HTTP-01 challenge files for host nginx ingress.
	CertbotWebroot string

	// CertbotDir is bind-mounted into the managed proxy containers as the
	// ACME webroot.
	CertbotDir string

	// LetsEncryptDir holds issued certificates for the managed proxy.
	LetsEncryptDir string
}

// Paths returns the managed file layout for this request.
func (r Request) Paths() ManagedPaths {
	dir := filepath.Join(r.BaseDir, r.ServiceName)
	return ManagedPaths{
		ServiceDir:       dir,
		ComposeFile:      filepath.Join(dir, "docker-compose.generated.yml"),
		ProxyComposeFile: filepath.Join(dir, "docker-compose.proxy.yml"),
		NginxConfDir:     filepath.Join(dir, "nginx"),
		NginxConf:        filepath.Join(dir, "nginx", "default.conf"),
		CertbotWebroot:   filepath.Join(dir, "certbot-www-host"),
		CertbotDir:       filepath.Join(dir, "certbot-www"),
		LetsEncryptDir:   filepath.Join(dir, "letsencrypt"),
	}
}

// ProjectName derives the compose project name from the service name:
// lowercased, with every character outside [a-z0-9_-] replaced by '-' and
// leading or trailing '-'/'_' stripped. An empty result falls back to
// "service".
//
// Example:
//
//	Request{ServiceName: "My App!"}.ProjectName() // returns "my-app"
func (r Request) ProjectName() string {
	var b strings.Builder
	for _, c := range strings.ToLower(r.ServiceName) {
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '_' || c == '-' {
			b.WriteRune(c)
		} else {
			b.WriteByte('-')
		}
	}
	name := strings.Trim(b.String(), "-_")
	if name == "" {
		return "service"
	}
	return name
}

// HostSiteName is the nginx site file written for external-nginx and
// takeover ingress, placed under /etc/nginx/sites-available.
func (r Request) HostSiteName() string {
	return "berth_" + r.ProjectName() + ".conf"
}

// TLSEnabled reports whether certificate issuance and HTTPS termination
// are requested.
func (r Request) TLSEnabled() bool {
	return r.Domain != ""
}

// ReverseProxyEnabled reports whether any setting requires fronting the
// service with nginx.
func (r Request) ReverseProxyEnabled() bool {
	return r.TLSEnabled() || r.AuthToken != "" || len(r.Routes) > 0
}

// EffectiveBindHost is the interface published ports bind to. Public access
// always exposes on all interfaces; otherwise the configured bind host
// applies, defaulting to loopback.
func (r Request) EffectiveBindHost() string {
	if r.AccessMode == AccessPublic {
		return "0.0.0.0"
	}
	if r.BindHost == "" {
		return DefaultBindHost
	}
	return r.BindHost
}

// EffectiveHTTPPort is the managed proxy's published HTTP port.
func (r Request) EffectiveHTTPPort() uint32 {
	if r.ProxyHTTPPort != 0 {
		return r.ProxyHTTPPort
	}
	return DefaultHTTPPort
}

// EffectiveHTTPSPort is the managed proxy's published HTTPS port.
func (r Request) EffectiveHTTPSPort() uint32 {
	if r.ProxyHTTPSPort != 0 {
		return r.ProxyHTTPSPort
	}
	return DefaultHTTPSPort
}

// CertDomains lists the names a certificate must cover: the primary domain
// followed by every route host that is itself a valid domain, deduplicated
// in order of appearance. Wildcard and bare-label route hosts are skipped
// because HTTP-01 cannot validate them here. The ingress planner calls this
// with the planned routes, which may include a synthesized default.
func CertDomains(domain string, routes []Route) []string {
	var names []string
	seen := make(map[string]struct{})
	add := func(name string) {
		if name == "" || !IsValidDomain(name) {
			return
		}
		if _, dup := seen[name]; dup {
			return
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	add(domain)
	for _, rt := range routes {
		add(rt.Host)
	}
	return names
}
