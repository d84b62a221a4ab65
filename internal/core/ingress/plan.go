package ingress

import (
	"fmt"
	"slices"
	"strings"

	"github.com/artpar/berth/internal/core/compose"
	"github.com/artpar/berth/internal/core/deploy"
	"github.com/artpar/berth/internal/core/source"
)

// =============================================================================
// Plan Types
// =============================================================================

// Mode is the concrete proxy arrangement a plan calls for.
type Mode string

const (
	// ModeNone means the deployment runs without a reverse proxy.
	ModeNone Mode = "none"

	// ModeManaged runs nginx (and certbot when TLS is on) as containers in
	// the deployment's own project.
	ModeManaged Mode = "managed"

	// ModeExternal writes a site file for the nginx already running on the
	// host and reloads it. The host nginx is never stopped.
	ModeExternal Mode = "external-nginx"

	// ModeTakeover stops the host nginx, rewrites the site file, and starts
	// it again.
	ModeTakeover Mode = "takeover"
)

// Plan is everything the shell needs to put a reverse proxy in front of a
// deployment.
type Plan struct {
	// Mode selects the proxy arrangement. ModeNone means no proxy at all
	// and leaves every other field zero.
	Mode Mode

	// Routes maps each (host, path) pair to its upstream, already
	// normalized and checked for conflicts.
	Routes []deploy.Route

	// TLS enables certificate issuance and HTTPS termination.
	TLS bool

	// CertDomains are the names the certificate must cover, primary first.
	CertDomains []string

	// CertEmail is the ACME registration contact.
	CertEmail string

	// AuthToken, when set, makes every proxied location require
	// "Authorization: Bearer <token>".
	AuthToken string

	// BindHost is the interface the managed proxy publishes on.
	BindHost string

	// HTTPPort and HTTPSPort are the managed proxy's published host ports.
	// HTTPSPort stays zero unless TLS is on; both stay zero outside
	// ModeManaged because the host nginx owns its own listeners.
	HTTPPort  uint32
	HTTPSPort uint32
}

// Active reports whether the plan calls for a proxy.
func (p Plan) Active() bool {
	return p.Mode != ModeNone && p.Mode != ""
}

// =============================================================================
// Plan Construction
// =============================================================================

// BuildPlan decides whether the deployment needs a reverse proxy and, if so,
// which routes it serves. It assumes req passed deploy.Validate and that src
// came from source.Resolve on the same request.
//
// The plan is built before any host mutation, so a misconfigured access
// setup fails while the host is still untouched.
//
// A proxy is required whenever the service would otherwise be reachable
// without one: public access always needs an auth token, a domain, or
// routes, and compose sources need the same for anything beyond localhost.
// A Dockerfile source on a tailnet may run bare because the tailnet itself
// gates who can reach it.
func BuildPlan(req deploy.Request, src *source.ResolvedSource) (Plan, error) {
	if !req.ReverseProxyEnabled() {
		if req.AccessMode == deploy.AccessPublic {
			return Plan{}, NewAccessConfigError("access_mode",
				"public access requires an auth token, a domain, or explicit routes", ErrProxyRequired)
		}
		if req.AccessMode != deploy.AccessLocalhost && src.Kind == deploy.SourceCompose {
			return Plan{}, NewAccessConfigError("access_mode",
				fmt.Sprintf("%s access for compose sources requires an auth token, a domain, or explicit routes", req.AccessMode), ErrProxyRequired)
		}
		return Plan{Mode: ModeNone}, nil
	}

	if req.UpstreamService != "" {
		if src.Kind == deploy.SourceDockerfile {
			return Plan{}, NewAccessConfigError("upstream_service",
				"upstream service overrides apply only to compose sources", deploy.ErrConflictingSettings)
		}
		if err := checkServiceUpstream(req.UpstreamService, "upstream_service", src); err != nil {
			return Plan{}, err
		}
	}

	mode := modeFor(req.IngressMode)

	routes, err := planRoutes(req, src, mode)
	if err != nil {
		return Plan{}, err
	}

	p := Plan{
		Mode:      mode,
		Routes:    routes,
		TLS:       req.TLSEnabled(),
		CertEmail: req.CertbotEmail,
		AuthToken: req.AuthToken,
		BindHost:  req.EffectiveBindHost(),
	}
	if mode == ModeManaged {
		p.HTTPPort = req.EffectiveHTTPPort()
		if p.TLS {
			p.HTTPSPort = req.EffectiveHTTPSPort()
		}
	}
	if p.TLS {
		p.CertDomains = deploy.CertDomains(req.Domain, routes)
	}
	return p, nil
}

func modeFor(m deploy.IngressMode) Mode {
	switch m {
	case deploy.IngressExternal:
		return ModeExternal
	case deploy.IngressTakeover:
		return ModeTakeover
	default:
		return ModeManaged
	}
}

// =============================================================================
// Route Planning
// =============================================================================

func planRoutes(req deploy.Request, src *source.ResolvedSource, mode Mode) ([]deploy.Route, error) {
	if len(req.Routes) > 0 {
		return normalizeRoutes(req, src, mode)
	}
	if mode == ModeManaged {
		rt, err := defaultManagedRoute(req, src)
		if err != nil {
			return nil, err
		}
		return []deploy.Route{rt}, nil
	}
	return defaultHostRoute(req, src)
}

func normalizeRoutes(req deploy.Request, src *source.ResolvedSource, mode Mode) ([]deploy.Route, error) {
	seen := make(map[string]int, len(req.Routes))
	out := make([]deploy.Route, 0, len(req.Routes))

	for i, rt := range req.Routes {
		setting := fmt.Sprintf("routes[%d]", i)
		norm := deploy.Route{
			Host:     strings.ToLower(strings.TrimSpace(rt.Host)),
			Path:     deploy.NormalizeRoutePath(rt.Path),
			Upstream: rt.Upstream,
			Port:     rt.Port,
		}
		if norm.Port == 0 {
			return nil, NewAccessConfigError(setting, "route needs an upstream port", ErrMissingUpstreamPort)
		}
		if req.TLSEnabled() && !deploy.IsValidDomain(norm.Host) {
			return nil, NewAccessConfigError(setting,
				fmt.Sprintf("host %q cannot be covered by a certificate", norm.Host), ErrInvalidRouteHost)
		}
		if err := checkRouteUpstream(norm, setting, src, mode); err != nil {
			return nil, err
		}
		if j, dup := seen[norm.Key()]; dup {
			return nil, NewAccessConfigError(setting,
				fmt.Sprintf("host and path already used by routes[%d]", j), ErrRouteConflict)
		}
		seen[norm.Key()] = i
		out = append(out, norm)
	}
	return out, nil
}

// checkRouteUpstream rejects upstreams that name a compose service the run
// will not serve. Upstreams outside the compose file pass through untouched:
// managed nginx can proxy to anything resolvable from its network, and host
// nginx to anything resolvable from the host.
func checkRouteUpstream(rt deploy.Route, setting string, src *source.ResolvedSource, mode Mode) error {
	if !slices.Contains(src.AllServices, rt.Upstream) {
		return nil
	}
	if !slices.Contains(src.Services, rt.Upstream) {
		return NewAccessConfigError(setting,
			fmt.Sprintf("upstream %q is not among the selected services", rt.Upstream), ErrUpstreamNotServed)
	}
	if mode != ModeManaged {
		return NewAccessConfigError(setting,
			fmt.Sprintf("host nginx cannot resolve %q; use a host-reachable upstream like 127.0.0.1:<published-port>", rt.Upstream), ErrUpstreamUnreachable)
	}
	return nil
}

func checkServiceUpstream(name, setting string, src *source.ResolvedSource) error {
	if !slices.Contains(src.AllServices, name) {
		return NewAccessConfigError(setting,
			fmt.Sprintf("service %q is not defined in the compose file", name), compose.ErrUnknownService)
	}
	if !slices.Contains(src.Services, name) {
		return NewAccessConfigError(setting,
			fmt.Sprintf("service %q is not among the selected services", name), ErrUpstreamNotServed)
	}
	return nil
}

// =============================================================================
// Default Route Synthesis
// =============================================================================

// defaultManagedRoute derives the single route "domain (or any host) -> the
// one unambiguous service" used when no explicit routes were given.
func defaultManagedRoute(req deploy.Request, src *source.ResolvedSource) (deploy.Route, error) {
	host := req.Domain
	if host == "" {
		host = "_"
	}

	svc, err := defaultUpstreamService(req, src)
	if err != nil {
		return deploy.Route{}, err
	}

	port, err := defaultUpstreamPort(req, src, svc)
	if err != nil {
		return deploy.Route{}, err
	}

	return deploy.Route{Host: strings.ToLower(host), Path: "/", Upstream: svc, Port: port}, nil
}

func defaultUpstreamService(req deploy.Request, src *source.ResolvedSource) (string, error) {
	if src.Kind == deploy.SourceDockerfile {
		return src.Services[0], nil
	}
	if req.UpstreamService != "" {
		return req.UpstreamService, nil
	}
	if len(src.Services) == 1 {
		return src.Services[0], nil
	}
	return "", NewAccessConfigError("upstream_service",
		fmt.Sprintf("%d services deployed; set an upstream service or explicit routes", len(src.Services)), ErrAmbiguousUpstream)
}

func defaultUpstreamPort(req deploy.Request, src *source.ResolvedSource, service string) (uint32, error) {
	if req.UpstreamPort != 0 {
		return req.UpstreamPort, nil
	}
	if req.ContainerPort != 0 {
		return req.ContainerPort, nil
	}
	if svc := src.Spec.FindService(service); svc != nil {
		for _, p := range svc.Ports {
			if p.Target != 0 {
				return p.Target, nil
			}
		}
	}
	return 0, NewAccessConfigError("upstream_port",
		fmt.Sprintf("service %q declares no ports; set an upstream port", service), ErrMissingUpstreamPort)
}

// defaultHostRoute covers external-nginx and takeover ingress, where nginx
// runs on the host and can only reach published ports. Compose sources have
// no single obvious published port, so they must spell their routes out.
func defaultHostRoute(req deploy.Request, src *source.ResolvedSource) ([]deploy.Route, error) {
	if src.Kind != deploy.SourceDockerfile {
		return nil, NewAccessConfigError("routes",
			fmt.Sprintf("%s ingress for compose sources requires explicit routes mapping each host to 127.0.0.1:<published-port>", req.IngressMode), ErrRoutesRequired)
	}

	host := req.Domain
	if host == "" {
		host = "_"
	}

	port := publishedPort(src)
	if port == 0 {
		return nil, NewAccessConfigError("host_port", "no published port to route to", ErrMissingUpstreamPort)
	}

	return []deploy.Route{{Host: strings.ToLower(host), Path: "/", Upstream: "127.0.0.1", Port: port}}, nil
}

func publishedPort(src *source.ResolvedSource) uint32 {
	for _, svc := range src.Spec.Services {
		for _, p := range svc.Ports {
			if p.Published != 0 {
				return p.Published
			}
		}
	}
	return 0
}
