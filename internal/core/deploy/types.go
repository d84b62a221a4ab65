package deploy

// =============================================================================
// Enumerations
// =============================================================================

// SourceKind selects how the service definition is discovered.
type SourceKind string

const (
	// SourceAuto probes the source directory: a compose file wins over a
	// bare Dockerfile.
	SourceAuto SourceKind = "auto"

	// SourceCompose requires a compose file in the source directory.
	SourceCompose SourceKind = "compose"

	// SourceDockerfile requires a Dockerfile and synthesizes a single-service
	// compose definition around it.
	SourceDockerfile SourceKind = "dockerfile"
)

// AccessMode controls how the deployed service is reachable.
type AccessMode string

const (
	// AccessLocalhost keeps published ports bound to the loopback interface.
	AccessLocalhost AccessMode = "localhost"

	// AccessTailscale joins the host to a tailnet; ports stay on the
	// configured bind host.
	AccessTailscale AccessMode = "tailscale"

	// AccessPublic exposes published ports on all interfaces.
	AccessPublic AccessMode = "public"
)

// IngressMode selects which nginx arrangement fronts the service.
type IngressMode string

const (
	// IngressManaged runs nginx (and certbot when TLS is on) as containers
	// alongside the service.
	IngressManaged IngressMode = "managed"

	// IngressExternal writes a site file for an nginx already running on the
	// host and reloads it. The host nginx is never stopped.
	IngressExternal IngressMode = "external-nginx"

	// IngressTakeover stops the host nginx, rewrites the site file, and
	// starts it again.
	IngressTakeover IngressMode = "takeover"
)

// =============================================================================
// Defaults
// =============================================================================

const (
	DefaultBaseDir             = "/opt/services"
	DefaultBindHost            = "127.0.0.1"
	DefaultRegistryRetries     = 4
	DefaultRetryBackoffSeconds = 5
	DefaultHTTPPort            = 80
	DefaultHTTPSPort           = 443
)

// =============================================================================
// Request
// =============================================================================

// Route maps an incoming (host, path) pair to an upstream target.
// Path is always normalized: it starts with "/" and has no trailing slash
// except for the root path itself.
type Route struct {
	Host     string
	Path     string
	Upstream string
	Port     uint32
}

// Key identifies a route for uniqueness checks. Two routes with the same
// host and path conflict regardless of their upstreams.
func (rt Route) Key() string {
	return rt.Host + rt.Path
}

// Request is a fully specified deployment request. Zero values mean "unset";
// NewRequest fills in the defaults.
type Request struct {
	// ServiceName names the deployment. It seeds the compose project name,
	// the service directory, and all generated resource names.
	ServiceName string

	// SourceDir is the directory holding the compose file or Dockerfile.
	SourceDir string

	// SourceKind selects discovery behavior. See SourceAuto.
	SourceKind SourceKind

	// BaseDir is the root under which per-service directories are created.
	BaseDir string

	// HostPort and ContainerPort publish a single port in dockerfile mode.
	// Both must be set together; zero means unset.
	HostPort      uint32
	ContainerPort uint32

	// BindHost is the interface published ports bind to. Public access
	// overrides it to 0.0.0.0.
	BindHost string

	// AccessMode controls reachability. See AccessLocalhost.
	AccessMode AccessMode

	// ComposeFile overrides compose file discovery with an explicit path
	// relative to SourceDir.
	ComposeFile string

	// ComposeServices restricts the deployment to a subset of the services
	// defined in the compose file. Empty means all services.
	ComposeServices []string

	// IngressMode selects the nginx arrangement. See IngressManaged.
	IngressMode IngressMode

	// Domain enables TLS via HTTP-01 issuance for that name.
	Domain string

	// CertbotEmail is the registration contact for certificate issuance.
	CertbotEmail string

	// AuthToken, when set, makes the proxy require
	// "Authorization: Bearer <token>" on every request.
	AuthToken string

	// Routes are explicit hostname routes. When set they replace the
	// synthesized default route and the upstream overrides below.
	Routes []Route

	// UpstreamService and UpstreamPort override the default proxy target.
	UpstreamService string
	UpstreamPort    uint32

	// ProxyHTTPPort and ProxyHTTPSPort override the managed proxy's
	// published ports. Zero means 80 and 443.
	ProxyHTTPPort  uint32
	ProxyHTTPSPort uint32

	// RegistryRetries bounds retries of transient registry failures.
	// The total number of attempts is RegistryRetries + 1.
	RegistryRetries int

	// RetryBackoffSeconds is the linear backoff unit between attempts:
	// attempt n sleeps n * RetryBackoffSeconds before retrying.
	RetryBackoffSeconds int

	// TuneDockerDaemon enables the daemon.json merge during host bootstrap.
	TuneDockerDaemon bool

	// RemoteHost targets a remote machine as "user@host". Empty means the
	// local machine.
	RemoteHost string
}

// NewRequest returns a Request for the given service with all defaults
// applied.
func NewRequest(serviceName, sourceDir string) Request {
	return Request{
		ServiceName:         serviceName,
		SourceDir:           sourceDir,
		SourceKind:          SourceAuto,
		BaseDir:             DefaultBaseDir,
		BindHost:            DefaultBindHost,
		AccessMode:          AccessLocalhost,
		IngressMode:         IngressManaged,
		RegistryRetries:     DefaultRegistryRetries,
		RetryBackoffSeconds: DefaultRetryBackoffSeconds,
		TuneDockerDaemon:    true,
	}
}
