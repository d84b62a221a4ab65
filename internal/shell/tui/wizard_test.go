package tui

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/berth/internal/core/deploy"
)

func TestParseRouteLines(t *testing.T) {
	routes, err := parseRouteLines("api.example.com=web:8080\n\n  wiki.example.com/docs=wiki:3000  \n")
	require.NoError(t, err)
	require.Len(t, routes, 2)
	assert.Equal(t, deploy.Route{Host: "api.example.com", Path: "/", Upstream: "web", Port: 8080}, routes[0])
	assert.Equal(t, "/docs", routes[1].Path)
}

func TestParseRouteLines_Empty(t *testing.T) {
	routes, err := parseRouteLines("\n  \n")
	require.NoError(t, err)
	assert.Empty(t, routes)
}

func TestParseRouteLines_BadSpec(t *testing.T) {
	_, err := parseRouteLines("api.example.com=web:8080\nnot-a-route")
	require.Error(t, err)
}

func TestPortAvailable(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := uint32(l.Addr().(*net.TCPAddr).Port)

	ok, reason := portAvailable("127.0.0.1", port)
	assert.False(t, ok)
	assert.NotEmpty(t, reason)

	require.NoError(t, l.Close())
	ok, reason = portAvailable("127.0.0.1", port)
	assert.True(t, ok)
	assert.Empty(t, reason)
}

func TestSuggestPort_SkipsBusyPort(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	busy := uint32(l.Addr().(*net.TCPAddr).Port)

	got := suggestPort("127.0.0.1", busy)
	assert.NotZero(t, got)
	assert.NotEqual(t, busy, got)

	ok, _ := portAvailable("127.0.0.1", got)
	assert.True(t, ok)
}

func TestValidateSourceDir(t *testing.T) {
	dir := t.TempDir()
	require.Error(t, validateSourceDir(dir), "empty directory holds nothing deployable")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte("FROM alpine\n"), 0o644))
	assert.NoError(t, validateSourceDir(dir))

	compose := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(compose, "compose.yaml"), []byte("services: {}\n"), 0o644))
	assert.NoError(t, validateSourceDir(compose))

	assert.Error(t, validateSourceDir(filepath.Join(dir, "missing")))
}

func TestValidatePortString(t *testing.T) {
	assert.NoError(t, validatePortString("8080"))
	assert.NoError(t, validatePortString(" 443 "))
	assert.Error(t, validatePortString("0"))
	assert.Error(t, validatePortString("65536"))
	assert.Error(t, validatePortString("http"))
	assert.Error(t, validatePortString(""))
}

func TestValidateBindHost(t *testing.T) {
	assert.NoError(t, validateBindHost("127.0.0.1"))
	assert.NoError(t, validateBindHost("0.0.0.0"))
	assert.Error(t, validateBindHost("localhost"))
	assert.Error(t, validateBindHost(""))
}

func TestValidateDomainAndEmail(t *testing.T) {
	assert.NoError(t, validateDomain("API.Example.com"))
	assert.Error(t, validateDomain("not a domain"))
	assert.NoError(t, validateEmail("ops@example.com"))
	assert.Error(t, validateEmail("ops"))
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "src"), expandPath("~/src"))
	assert.Equal(t, home, expandPath("~"))
	assert.Equal(t, "/opt/services", expandPath("/opt/services"))
	assert.Equal(t, "~user/src", expandPath("~user/src"), "only the bare ~ prefix expands")
}

func TestRequestSummary_ManagedTLS(t *testing.T) {
	req := deploy.NewRequest("My.App", "/src/my-app")
	req.AccessMode = deploy.AccessPublic
	req.Domain = "app.example.com"
	req.CertbotEmail = "ops@example.com"
	req.AuthToken = "super-secret-token"
	req.Routes = []deploy.Route{{Host: "app.example.com", Path: "/", Upstream: "web", Port: 8080}}

	out := requestSummary(req)

	assert.Contains(t, out, "Service: My.App")
	assert.Contains(t, out, "Project: my-app")
	assert.Contains(t, out, "Service dir: /opt/services/My.App")
	assert.Contains(t, out, "Ingress: managed")
	assert.Contains(t, out, "Proxy ports: 80->443")
	assert.Contains(t, out, "Domain: app.example.com (ops@example.com)")
	assert.Contains(t, out, "Route: app.example.com/ -> web:8080")
	assert.Contains(t, out, "Auth token: enabled")
	assert.NotContains(t, out, "super-secret-token")
}

func TestRequestSummary_LocalhostPort(t *testing.T) {
	req := deploy.NewRequest("api", "/src/api")
	req.SourceKind = deploy.SourceDockerfile
	req.HostPort = 9000
	req.ContainerPort = 8080

	out := requestSummary(req)

	assert.Contains(t, out, "Source: /src/api (dockerfile)")
	assert.Contains(t, out, "Port: 127.0.0.1:9000->8080")
	assert.NotContains(t, out, "Ingress:")
	assert.NotContains(t, out, "Auth token")
}

func TestSelectHeight(t *testing.T) {
	assert.Equal(t, 3, selectHeight(3, 10))
	assert.Equal(t, 10, selectHeight(24, 10))
}

func TestPickPortDefaults(t *testing.T) {
	// promptPort seeds the input with the default; make sure the rendering
	// round-trips numerically for the ports we suggest.
	for _, port := range []uint32{80, 443, 8080, 65535} {
		s := strconv.FormatUint(uint64(port), 10)
		require.NoError(t, validatePortString(s), fmt.Sprintf("port %d", port))
	}
}
