package source

import (
	"fmt"
	"io/fs"
	"strings"

	"github.com/artpar/berth/internal/core/compose"
	"github.com/artpar/berth/internal/core/deploy"
)

// DefaultAppPort is assumed for Dockerfile sources when the request names
// no explicit port mapping.
const DefaultAppPort uint32 = 8080

// ComposeFileCandidates lists the file names probed in a source directory,
// in preference order.
var ComposeFileCandidates = []string{
	"docker-compose.yml",
	"docker-compose.yaml",
	"compose.yml",
	"compose.yaml",
}

// ResolvedSource is the normalized deployment unit every downstream stage
// consumes. It is recomputed on every run and never partially reused.
type ResolvedSource struct {
	// Kind is the concrete source kind after auto-detection.
	Kind deploy.SourceKind

	// ComposePath locates the effective compose definition: the existing
	// file relative to the source directory, or the managed generated
	// path for Dockerfile sources.
	ComposePath string

	// ComposeYAML is the content of the effective compose definition.
	ComposeYAML string

	// Generated reports whether ComposeYAML was synthesized and must be
	// written to ComposePath before the runtime can use it.
	Generated bool

	// Spec is the parsed model, already narrowed to the selected services
	// and their dependencies.
	Spec *compose.ParsedSpec

	// Services is the concrete service set this run deploys. An empty
	// selection in the request resolves to all services here, so
	// downstream stages never re-interpret "all".
	Services []string

	// AllServices lists every service the compose definition declares,
	// before selection narrowed it. Ingress planning uses this to tell a
	// deselected service apart from an unknown upstream.
	AllServices []string

	// MissingVariables lists interpolation placeholders that resolved to
	// empty because neither .env nor the process environment covers them.
	// The orchestrator warns about them; the wizard prompts instead.
	MissingVariables []compose.Variable
}

// Resolve classifies the source directory and produces the deployment unit.
//
// auto prefers an existing compose file and falls back to a Dockerfile;
// compose requires a compose file; dockerfile requires a Dockerfile and
// synthesizes a single-service definition. fsys must be rooted at the
// request's source directory. procEnv carries os.Environ-style entries that
// override the source's .env during compose interpolation.
func Resolve(fsys fs.FS, req deploy.Request, procEnv []string) (*ResolvedSource, error) {
	if req.ComposeFile != "" && req.SourceKind != deploy.SourceDockerfile {
		if !isRegularFile(fsys, req.ComposeFile) {
			return nil, NewSourceError(req.ComposeFile, "requested compose file not found in source directory", ErrComposeFileMissing)
		}
		return resolveCompose(fsys, req, req.ComposeFile, procEnv)
	}

	switch req.SourceKind {
	case deploy.SourceCompose:
		name, ok := FindComposeFile(fsys)
		if !ok {
			return nil, NewSourceError(req.SourceDir, "source kind compose requires one of "+strings.Join(ComposeFileCandidates, ", "), ErrComposeFileMissing)
		}
		return resolveCompose(fsys, req, name, procEnv)

	case deploy.SourceDockerfile:
		if !isRegularFile(fsys, "Dockerfile") {
			return nil, NewSourceError(req.SourceDir, "source kind dockerfile requires a Dockerfile", ErrDockerfileMissing)
		}
		return resolveDockerfile(req)

	default:
		if name, ok := FindComposeFile(fsys); ok {
			return resolveCompose(fsys, req, name, procEnv)
		}
		if isRegularFile(fsys, "Dockerfile") {
			return resolveDockerfile(req)
		}
		return nil, NewSourceError(req.SourceDir, "expected one of "+strings.Join(ComposeFileCandidates, ", ")+" or a Dockerfile", ErrNoSourceFound)
	}
}

// FindComposeFile returns the first compose candidate present in fsys.
func FindComposeFile(fsys fs.FS) (string, bool) {
	for _, name := range ComposeFileCandidates {
		if isRegularFile(fsys, name) {
			return name, true
		}
	}
	return "", false
}

func isRegularFile(fsys fs.FS, name string) bool {
	info, err := fs.Stat(fsys, name)
	return err == nil && info.Mode().IsRegular()
}

func resolveCompose(fsys fs.FS, req deploy.Request, name string, procEnv []string) (*ResolvedSource, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, NewSourceError(name, "reading compose file", err)
	}

	env, err := InterpolationEnv(fsys, procEnv)
	if err != nil {
		return nil, err
	}

	// ${VAR:?} placeholders reject an empty value, so catch them here with
	// a pointer at .env instead of letting the loader produce its own
	// error. Plain ${VAR} resolves to empty; the caller decides whether to
	// warn or prompt.
	missing := compose.MissingVariables(string(data), env)
	for _, v := range missing {
		if v.RequireNonEmpty {
			return nil, NewSourceError(name,
				fmt.Sprintf("variable %s must be set; add it to %s or export it", v.Name, DotenvFile),
				ErrEnvVarMissing)
		}
	}

	parsed, err := compose.ParseComposeSpecEnv(string(data), env)
	if err != nil {
		return nil, err
	}

	selected, err := parsed.Select(req.ComposeServices)
	if err != nil {
		return nil, err
	}

	return &ResolvedSource{
		Kind:             deploy.SourceCompose,
		ComposePath:      name,
		ComposeYAML:      string(data),
		Spec:             selected,
		Services:         selected.ServiceNames(),
		AllServices:      parsed.ServiceNames(),
		MissingVariables: missing,
	}, nil
}

func resolveDockerfile(req deploy.Request) (*ResolvedSource, error) {
	content := GenerateCompose(req)

	parsed, err := compose.ParseComposeSpec(content)
	if err != nil {
		return nil, NewSourceError("Dockerfile", "generated compose definition did not parse", err)
	}

	return &ResolvedSource{
		Kind:        deploy.SourceDockerfile,
		ComposePath: req.Paths().ComposeFile,
		ComposeYAML: content,
		Generated:   true,
		Spec:        parsed,
		Services:    parsed.ServiceNames(),
		AllServices: parsed.ServiceNames(),
	}, nil
}

// GenerateCompose synthesizes the compose definition for a Dockerfile
// source. Output is byte-for-byte stable for identical requests; the file
// is fully regenerated on every run, never edited in place.
//
// Layout:
//
//	services:
//	  <project>:
//	    build:
//	      context: <source_dir>
//	      dockerfile: Dockerfile
//	    image: <project>:local
//	    container_name: <project>
//	    restart: unless-stopped
//	    ports:
//	      - "<bind_host>:<host_port>:<container_port>"
func GenerateCompose(req deploy.Request) string {
	key := req.ProjectName()

	bindHost := req.BindHost
	if bindHost == "" {
		bindHost = deploy.DefaultBindHost
	}
	containerPort := req.ContainerPort
	if containerPort == 0 {
		containerPort = DefaultAppPort
	}
	hostPort := req.HostPort
	if hostPort == 0 {
		hostPort = containerPort
	}

	var b strings.Builder
	b.WriteString("services:\n")
	fmt.Fprintf(&b, "  %s:\n", key)
	b.WriteString("    build:\n")
	fmt.Fprintf(&b, "      context: %s\n", req.SourceDir)
	b.WriteString("      dockerfile: Dockerfile\n")
	fmt.Fprintf(&b, "    image: %s:local\n", key)
	fmt.Fprintf(&b, "    container_name: %s\n", key)
	b.WriteString("    restart: unless-stopped\n")
	b.WriteString("    ports:\n")
	fmt.Fprintf(&b, "      - %q\n", fmt.Sprintf("%s:%d:%d", bindHost, hostPort, containerPort))
	return b.String()
}
