// Package tui collects a deployment request interactively. The deploy
// command falls back to it when it runs on a terminal without the flags a
// batch invocation would carry.
package tui

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/huh/spinner"
	"golang.org/x/sync/errgroup"

	"github.com/artpar/berth/internal/core/compose"
	"github.com/artpar/berth/internal/core/deploy"
	"github.com/artpar/berth/internal/core/source"
)

// ErrAborted is returned when the user cancels the wizard.
var ErrAborted = errors.New("deployment aborted by user")

// Resolver narrows a source directory to its deployment unit. The
// orchestrator's resolver satisfies it.
type Resolver interface {
	Resolve(req deploy.Request) (*source.ResolvedSource, error)
}

// inspection is what the pre-flight gathers once the source directory is
// known, so the groups that follow can offer real choices instead of free
// text.
type inspection struct {
	composeFile   string
	hasDockerfile bool
	services      []string
	busy          map[uint32]string // default proxy ports already bound, port -> reason
}

// DeployForm walks the user through a deployment request. prefill carries
// whatever flags were already given; their values become the form defaults
// and already-answered questions are skipped.
func DeployForm(resolver Resolver, prefill deploy.Request) (*deploy.Request, error) {
	accessible := os.Getenv("ACCESSIBLE") != ""

	req := prefill
	req.Routes = append([]deploy.Route(nil), prefill.Routes...)
	if req.SourceDir == "" {
		if wd, err := os.Getwd(); err == nil {
			req.SourceDir = wd
		}
	}

	// --- Source directory + service name ---

	dirField := huh.NewInput().
		Title("Source directory").
		Description("Must hold a compose file or a Dockerfile.").
		Value(&req.SourceDir).
		Validate(validateSourceDir)

	nameField := huh.NewInput().
		Title("Service name").
		Value(&req.ServiceName).
		Validate(func(value string) error {
			if !deploy.IsValidServiceName(strings.TrimSpace(value)) {
				return errors.New("name must start with a letter or digit and use only letters, digits, '_', '.', '-'")
			}
			return nil
		})

	if err := runForm(accessible, huh.NewGroup(dirField, nameField)); err != nil {
		return nil, err
	}
	req.SourceDir = expandPath(strings.TrimSpace(req.SourceDir))
	req.ServiceName = strings.TrimSpace(req.ServiceName)

	// --- Compose variables ---

	// Must happen before the pre-flight parses the compose file, so the
	// collected values take part in interpolation.
	if err := collectComposeEnv(accessible, req.SourceDir); err != nil {
		return nil, err
	}

	// --- Pre-flight: source contents and proxy port probes ---

	var insp inspection
	inspectErr := spinner.New().
		Title("Inspecting source directory...").
		Accessible(accessible).
		Output(os.Stderr).
		ActionWithErr(func(ctx context.Context) error {
			var err error
			insp, err = inspect(ctx, resolver, req)
			return err
		}).
		Run()
	if inspectErr != nil {
		if errors.Is(inspectErr, huh.ErrUserAborted) || errors.Is(inspectErr, context.Canceled) {
			return nil, ErrAborted
		}
		return nil, inspectErr
	}

	// --- Source kind ---

	if req.SourceKind == deploy.SourceAuto || req.SourceKind == "" {
		switch {
		case insp.composeFile != "" && insp.hasDockerfile:
			kindField := huh.NewSelect[deploy.SourceKind]().
				Title("Deploy from").
				Options(
					huh.NewOption("Compose file ("+insp.composeFile+")", deploy.SourceCompose),
					huh.NewOption("Dockerfile (generate a managed compose file)", deploy.SourceDockerfile),
				).
				Value(&req.SourceKind)
			if err := runForm(accessible, huh.NewGroup(kindField)); err != nil {
				return nil, err
			}
		case insp.composeFile != "":
			req.SourceKind = deploy.SourceCompose
		default:
			req.SourceKind = deploy.SourceDockerfile
		}
	}

	// --- Service selection for multi-service compose files ---

	if req.SourceKind == deploy.SourceCompose && len(insp.services) > 1 && len(req.ComposeServices) == 0 {
		svcField := huh.NewMultiSelect[string]().
			Title("Services").
			Description("Leave empty to deploy every service.").
			Options(huh.NewOptions(insp.services...)...).
			Value(&req.ComposeServices).
			Height(selectHeight(len(insp.services), 10))
		if err := runForm(accessible, huh.NewGroup(svcField)); err != nil {
			return nil, err
		}
	}

	// --- Access mode ---

	accessField := huh.NewSelect[deploy.AccessMode]().
		Title("Access mode").
		Options(
			huh.NewOption("Localhost only - reachable from this machine", deploy.AccessLocalhost),
			huh.NewOption("Tailscale - reachable from the tailnet", deploy.AccessTailscale),
			huh.NewOption("Public - reachable from the internet", deploy.AccessPublic),
		).
		Value(&req.AccessMode)
	if err := runForm(accessible, huh.NewGroup(accessField)); err != nil {
		return nil, err
	}

	// --- Port publication for Dockerfile sources ---

	if req.SourceKind == deploy.SourceDockerfile && req.HostPort == 0 {
		publish := false
		publishField := huh.NewConfirm().
			Title("Publish a host port for this service?").
			Value(&publish)
		if err := runForm(accessible, huh.NewGroup(publishField)); err != nil {
			return nil, err
		}
		if publish {
			if err := collectPortMapping(accessible, &req); err != nil {
				return nil, err
			}
		}
	}

	// --- TLS ---

	if req.Domain == "" {
		enableTLS := false
		tlsField := huh.NewConfirm().
			Title("Serve over HTTPS with Let's Encrypt?").
			Description("Needs a domain already pointing at this host.").
			Value(&enableTLS)
		if err := runForm(accessible, huh.NewGroup(tlsField)); err != nil {
			return nil, err
		}
		if enableTLS {
			domainField := huh.NewInput().
				Title("Domain").
				Placeholder("api.example.com").
				Value(&req.Domain).
				Validate(validateDomain)
			emailField := huh.NewInput().
				Title("Let's Encrypt email").
				Value(&req.CertbotEmail).
				Validate(validateEmail)
			if err := runForm(accessible, huh.NewGroup(domainField, emailField)); err != nil {
				return nil, err
			}
			req.Domain = strings.ToLower(strings.TrimSpace(req.Domain))
			req.CertbotEmail = strings.ToLower(strings.TrimSpace(req.CertbotEmail))
			// HTTP-01 validation must be able to reach the host.
			req.AccessMode = deploy.AccessPublic
		}
	}

	// --- Bearer token ---

	if req.AuthToken == "" {
		wantToken := false
		tokenField := huh.NewConfirm().
			Title("Require a bearer token at the proxy?").
			Value(&wantToken)
		if err := runForm(accessible, huh.NewGroup(tokenField)); err != nil {
			return nil, err
		}
		if wantToken {
			if err := promptToken(accessible, &req.AuthToken); err != nil {
				return nil, err
			}
		}
	}

	// Compose services publish their own ports, so anything beyond localhost
	// would be reachable bare. Force a choice the validator will accept.
	if req.SourceKind == deploy.SourceCompose && req.AccessMode != deploy.AccessLocalhost && !req.ReverseProxyEnabled() {
		addToken := true
		guardField := huh.NewConfirm().
			Title(fmt.Sprintf("Compose services with %s access need a proxy. Protect them with a bearer token?", req.AccessMode)).
			Description("Choosing no falls back to localhost-only access.").
			Value(&addToken)
		if err := runForm(accessible, huh.NewGroup(guardField)); err != nil {
			return nil, err
		}
		if addToken {
			if err := promptToken(accessible, &req.AuthToken); err != nil {
				return nil, err
			}
		} else {
			req.AccessMode = deploy.AccessLocalhost
		}
	}

	// --- Ingress arrangement ---

	if req.ReverseProxyEnabled() {
		if err := collectIngress(accessible, &req, insp); err != nil {
			return nil, err
		}
	}

	// --- Summary + confirm ---

	confirm := false
	summaryNote := huh.NewNote().
		Title("Summary").
		DescriptionFunc(func() string {
			return requestSummary(req)
		}, &req)
	confirmField := huh.NewConfirm().
		Title("Deploy this service?").
		Value(&confirm)

	if err := runForm(accessible, huh.NewGroup(summaryNote, confirmField)); err != nil {
		return nil, err
	}
	if !confirm {
		return nil, ErrAborted
	}

	return &req, nil
}

// collectComposeEnv prompts for compose placeholders that neither the
// source's .env nor the process environment covers, and writes the answers
// back to .env so later runs need no prompting. Comments and unrelated
// lines in an existing .env survive the update.
func collectComposeEnv(accessible bool, dir string) error {
	name, ok := source.FindComposeFile(os.DirFS(dir))
	if !ok {
		return nil
	}
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return nil
	}
	env, err := source.InterpolationEnv(os.DirFS(dir), os.Environ())
	if err != nil {
		return err
	}
	missing := compose.MissingVariables(string(data), env)
	if len(missing) == 0 {
		return nil
	}

	values := make([]string, len(missing))
	fields := make([]huh.Field, 0, len(missing)+1)
	fields = append(fields, huh.NewNote().
		Title("Compose variables").
		Description(fmt.Sprintf("%s uses variables that are unset or empty. Values are saved to %s in the source directory.", name, source.DotenvFile)))
	for i, v := range missing {
		fields = append(fields, huh.NewInput().
			Title(v.Name).
			Value(&values[i]).
			Validate(func(s string) error {
				if strings.TrimSpace(s) == "" {
					return errors.New("value must not be empty")
				}
				return nil
			}))
	}
	if err := runForm(accessible, huh.NewGroup(fields...)); err != nil {
		return err
	}

	pairs := make([]source.EnvValue, len(missing))
	for i, v := range missing {
		pairs[i] = source.EnvValue{Name: v.Name, Value: strings.TrimSpace(values[i])}
	}
	dotenvPath := filepath.Join(dir, source.DotenvFile)
	existing, _ := os.ReadFile(dotenvPath)
	if err := os.WriteFile(dotenvPath, source.UpsertDotenv(existing, pairs), 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", dotenvPath, err)
	}
	return nil
}

// runForm runs a huh form, translating a user abort into ErrAborted.
func runForm(accessible bool, groups ...*huh.Group) error {
	if err := huh.NewForm(groups...).WithAccessible(accessible).Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return ErrAborted
		}
		return err
	}
	return nil
}

// inspect looks inside the source directory and probes the default proxy
// ports, concurrently, before any choice depends on the answers.
func inspect(ctx context.Context, resolver Resolver, req deploy.Request) (inspection, error) {
	insp := inspection{busy: map[uint32]string{}}
	g, _ := errgroup.WithContext(ctx)

	g.Go(func() error {
		name, ok := source.FindComposeFile(os.DirFS(req.SourceDir))
		if ok {
			insp.composeFile = name
		}
		if st, err := os.Stat(filepath.Join(req.SourceDir, "Dockerfile")); err == nil && !st.IsDir() {
			insp.hasDockerfile = true
		}
		if !ok {
			return nil
		}
		probe := req
		probe.SourceKind = deploy.SourceCompose
		probe.ComposeServices = nil
		src, err := resolver.Resolve(probe)
		if err != nil {
			return fmt.Errorf("reading %s: %w", name, err)
		}
		insp.services = src.AllServices
		return nil
	})

	g.Go(func() error {
		for _, port := range []uint32{deploy.DefaultHTTPPort, deploy.DefaultHTTPSPort} {
			if ok, reason := portAvailable(req.EffectiveBindHost(), port); !ok {
				insp.busy[port] = reason
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return inspection{}, err
	}
	return insp, nil
}

// collectPortMapping asks for the container port, the bind host, and a host
// port checked against what is currently listening.
func collectPortMapping(accessible bool, req *deploy.Request) error {
	containerPort, err := promptPort(accessible, "Container port", source.DefaultAppPort)
	if err != nil {
		return err
	}
	req.ContainerPort = containerPort

	bind := req.EffectiveBindHost()
	bindField := huh.NewInput().
		Title("Bind host").
		Value(&bind).
		Validate(validateBindHost)
	if err := runForm(accessible, huh.NewGroup(bindField)); err != nil {
		return err
	}
	req.BindHost = strings.TrimSpace(bind)

	hostPort, err := pickPort(accessible, "Host port", req.EffectiveBindHost(), containerPort)
	if err != nil {
		return err
	}
	req.HostPort = hostPort
	return nil
}

// collectIngress picks the nginx arrangement, routes, and the managed
// proxy's published ports.
func collectIngress(accessible bool, req *deploy.Request, insp inspection) error {
	modeOptions := []huh.Option[deploy.IngressMode]{
		huh.NewOption("Managed - nginx and certbot run as containers", deploy.IngressManaged),
	}
	// Host nginx arrangements only make sense for publicly reachable hosts.
	if req.AccessMode == deploy.AccessPublic {
		modeOptions = append(modeOptions,
			huh.NewOption("External nginx - write a site file for the host nginx", deploy.IngressExternal),
			huh.NewOption("Takeover - host nginx owns ports 80 and 443", deploy.IngressTakeover),
		)
	}
	if len(modeOptions) > 1 {
		modeField := huh.NewSelect[deploy.IngressMode]().
			Title("Ingress mode").
			Options(modeOptions...).
			Value(&req.IngressMode)
		if err := runForm(accessible, huh.NewGroup(modeField)); err != nil {
			return err
		}
	} else {
		req.IngressMode = deploy.IngressManaged
	}

	// Host nginx can only reach published ports, so a bare Dockerfile
	// service gets a loopback mapping for it to proxy to.
	if req.IngressMode != deploy.IngressManaged && req.SourceKind == deploy.SourceDockerfile && req.HostPort == 0 {
		if req.ContainerPort == 0 {
			containerPort, err := promptPort(accessible, "Application container port", source.DefaultAppPort)
			if err != nil {
				return err
			}
			req.ContainerPort = containerPort
		}
		req.BindHost = deploy.DefaultBindHost
		hostPort, err := pickPort(accessible, "Local upstream host port", req.BindHost, req.ContainerPort)
		if err != nil {
			return err
		}
		req.HostPort = hostPort
	}

	if len(req.Routes) == 0 {
		if err := collectRoutes(accessible, req); err != nil {
			return err
		}
	}

	if req.IngressMode == deploy.IngressManaged {
		if err := collectProxyPorts(accessible, req, insp); err != nil {
			return err
		}
	}
	return nil
}

// collectRoutes reads route specs, one per line. Managed ingress can leave
// them empty and get the synthesized default route; host nginx ingress for
// compose sources cannot.
func collectRoutes(accessible bool, req *deploy.Request) error {
	required := req.IngressMode != deploy.IngressManaged && req.SourceKind == deploy.SourceCompose

	desc := "One HOST[/PATH]=UPSTREAM:PORT per line. Leave empty for the default route."
	if required {
		desc = "One HOST[/PATH]=UPSTREAM:PORT per line. Host nginx cannot resolve compose service names; point upstreams at 127.0.0.1:<published-port>."
	}

	var raw string
	routesField := huh.NewText().
		Title("Routes").
		Description(desc).
		Value(&raw).
		Validate(func(value string) error {
			routes, err := parseRouteLines(value)
			if err != nil {
				return err
			}
			if required && len(routes) == 0 {
				return fmt.Errorf("%s ingress for compose sources needs at least one route", req.IngressMode)
			}
			return nil
		})
	if err := runForm(accessible, huh.NewGroup(routesField)); err != nil {
		return err
	}

	routes, err := parseRouteLines(raw)
	if err != nil {
		return err
	}
	req.Routes = routes
	return nil
}

// collectProxyPorts asks for the managed proxy's published ports, starting
// from a free suggestion when the pre-flight found the default taken.
func collectProxyPorts(accessible bool, req *deploy.Request, insp inspection) error {
	bind := req.EffectiveBindHost()

	httpDefault := req.EffectiveHTTPPort()
	if _, taken := insp.busy[httpDefault]; taken && req.ProxyHTTPPort == 0 {
		if next := suggestPort(bind, httpDefault); next != 0 {
			httpDefault = next
		}
	}
	httpPort, err := pickPort(accessible, "Proxy HTTP port", bind, httpDefault)
	if err != nil {
		return err
	}
	if httpPort != deploy.DefaultHTTPPort {
		req.ProxyHTTPPort = httpPort
	}

	if !req.TLSEnabled() {
		return nil
	}

	httpsDefault := req.EffectiveHTTPSPort()
	if _, taken := insp.busy[httpsDefault]; taken && req.ProxyHTTPSPort == 0 {
		if next := suggestPort(bind, httpsDefault); next != 0 {
			httpsDefault = next
		}
	}
	httpsPort, err := pickPort(accessible, "Proxy HTTPS port", bind, httpsDefault)
	if err != nil {
		return err
	}
	if httpsPort != deploy.DefaultHTTPSPort {
		req.ProxyHTTPSPort = httpsPort
	}
	return nil
}

func promptToken(accessible bool, value *string) error {
	field := huh.NewInput().
		Title("Bearer token").
		EchoMode(huh.EchoModePassword).
		Value(value).
		Validate(func(v string) error {
			if !deploy.IsValidAuthToken(strings.TrimSpace(v)) {
				return errors.New("token must be at least 8 characters of letters, digits, '.', '_', '~', '+', '-'")
			}
			return nil
		})
	if err := runForm(accessible, huh.NewGroup(field)); err != nil {
		return err
	}
	*value = strings.TrimSpace(*value)
	return nil
}

// promptPort asks for a port with no availability probe.
func promptPort(accessible bool, title string, def uint32) (uint32, error) {
	value := strconv.FormatUint(uint64(def), 10)
	field := huh.NewInput().
		Title(title).
		Value(&value).
		Validate(validatePortString)
	if err := runForm(accessible, huh.NewGroup(field)); err != nil {
		return 0, err
	}
	port, _ := strconv.ParseUint(strings.TrimSpace(value), 10, 32)
	return uint32(port), nil
}

// pickPort asks for a port and probes it on bindHost. A busy port asks for
// confirmation, suggesting the next free one on refusal.
func pickPort(accessible bool, title, bindHost string, def uint32) (uint32, error) {
	for {
		port, err := promptPort(accessible, title, def)
		if err != nil {
			return 0, err
		}
		ok, reason := portAvailable(bindHost, port)
		if ok {
			return port, nil
		}

		useAnyway := false
		busyField := huh.NewConfirm().
			Title(fmt.Sprintf("Port %d looks busy on %s. Use it anyway?", port, bindHost)).
			Description(reason).
			Value(&useAnyway)
		if err := runForm(accessible, huh.NewGroup(busyField)); err != nil {
			return 0, err
		}
		if useAnyway {
			return port, nil
		}
		if next := suggestPort(bindHost, port+1); next != 0 {
			def = next
		}
	}
}

// =============================================================================
// Probing
// =============================================================================

// portAvailable reports whether bindHost:port can be bound right now, with
// the refusal reason when it cannot.
func portAvailable(bindHost string, port uint32) (bool, string) {
	l, err := net.Listen("tcp", net.JoinHostPort(bindHost, strconv.FormatUint(uint64(port), 10)))
	if err != nil {
		return false, err.Error()
	}
	l.Close()
	return true, ""
}

// suggestPort scans for a free port at or above start, preferring the usual
// app ports. Zero means nothing nearby was free.
func suggestPort(bindHost string, start uint32) uint32 {
	for _, candidate := range []uint32{8080, 8081, 8088, 8888, 9000, 9443} {
		if candidate < start {
			continue
		}
		if ok, _ := portAvailable(bindHost, candidate); ok {
			return candidate
		}
	}

	from := start
	if from < 1024 {
		from = 1024
	}
	upper := from + 500
	if upper > 65535 {
		upper = 65535
	}
	for candidate := from; candidate <= upper; candidate++ {
		if ok, _ := portAvailable(bindHost, candidate); ok {
			return candidate
		}
	}
	return 0
}

// =============================================================================
// Validation
// =============================================================================

func validateSourceDir(value string) error {
	dir := expandPath(strings.TrimSpace(value))
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return errors.New("directory does not exist")
	}
	if _, ok := source.FindComposeFile(os.DirFS(dir)); ok {
		return nil
	}
	if st, err := os.Stat(filepath.Join(dir, "Dockerfile")); err == nil && !st.IsDir() {
		return nil
	}
	return errors.New("no compose file or Dockerfile found here")
}

func validateDomain(value string) error {
	if !deploy.IsValidDomain(strings.ToLower(strings.TrimSpace(value))) {
		return errors.New("enter a domain like api.example.com")
	}
	return nil
}

func validateEmail(value string) error {
	if !deploy.IsValidEmail(strings.TrimSpace(value)) {
		return errors.New("enter a valid email address")
	}
	return nil
}

func validateBindHost(value string) error {
	if net.ParseIP(strings.TrimSpace(value)) == nil {
		return errors.New("enter an IP address like 127.0.0.1 or 0.0.0.0")
	}
	return nil
}

func validatePortString(value string) error {
	port, err := strconv.ParseUint(strings.TrimSpace(value), 10, 32)
	if err != nil || port < 1 || port > 65535 {
		return errors.New("enter a port between 1 and 65535")
	}
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

// parseRouteLines parses one route spec per line, skipping blanks.
func parseRouteLines(raw string) ([]deploy.Route, error) {
	var routes []deploy.Route
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		rt, err := deploy.ParseRoute(line)
		if err != nil {
			return nil, err
		}
		routes = append(routes, rt)
	}
	return routes, nil
}

// expandPath resolves a leading "~" the way the shell would have.
func expandPath(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

func requestSummary(req deploy.Request) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Service: %s\n", req.ServiceName)
	fmt.Fprintf(&b, "Source: %s (%s)\n", req.SourceDir, req.SourceKind)
	fmt.Fprintf(&b, "Project: %s\n", req.ProjectName())
	fmt.Fprintf(&b, "Service dir: %s\n", req.Paths().ServiceDir)
	fmt.Fprintf(&b, "Access: %s\n", req.AccessMode)

	if len(req.ComposeServices) > 0 {
		fmt.Fprintf(&b, "Services: %s\n", strings.Join(req.ComposeServices, ", "))
	}
	if req.HostPort != 0 {
		fmt.Fprintf(&b, "Port: %s:%d->%d\n", req.EffectiveBindHost(), req.HostPort, req.ContainerPort)
	}

	if req.ReverseProxyEnabled() {
		fmt.Fprintf(&b, "Ingress: %s\n", req.IngressMode)
		if req.IngressMode == deploy.IngressManaged {
			if req.TLSEnabled() {
				fmt.Fprintf(&b, "Proxy ports: %d->%d\n", req.EffectiveHTTPPort(), req.EffectiveHTTPSPort())
			} else {
				fmt.Fprintf(&b, "Proxy port: %d\n", req.EffectiveHTTPPort())
			}
		}
		if req.TLSEnabled() {
			fmt.Fprintf(&b, "Domain: %s (%s)\n", req.Domain, req.CertbotEmail)
		}
		if req.AuthToken != "" {
			b.WriteString("Auth token: enabled\n")
		} else {
			b.WriteString("Auth token: disabled\n")
		}
		for _, rt := range req.Routes {
			fmt.Fprintf(&b, "Route: %s%s -> %s:%d\n", rt.Host, rt.Path, rt.Upstream, rt.Port)
		}
	}

	return strings.TrimSpace(b.String())
}

func selectHeight(optionCount, max int) int {
	if optionCount < max {
		return optionCount
	}
	return max
}
