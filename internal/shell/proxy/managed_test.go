package proxy

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/berth/internal/core/deploy"
	"github.com/artpar/berth/internal/core/deployment"
	"github.com/artpar/berth/internal/core/ingress"
	"github.com/artpar/berth/internal/shell/docker"
)

func managedPlan() ingress.Plan {
	return ingress.Plan{
		Mode:     ingress.ModeManaged,
		Routes:   []deploy.Route{{Host: "_", Path: "/", Upstream: "web", Port: 8080}},
		BindHost: "127.0.0.1",
		HTTPPort: 80,
	}
}

func managedTLSPlan() ingress.Plan {
	return ingress.Plan{
		Mode:        ingress.ModeManaged,
		Routes:      []deploy.Route{{Host: "api.example.com", Path: "/", Upstream: "web", Port: 8080}},
		TLS:         true,
		CertDomains: []string{"api.example.com"},
		CertEmail:   "ops@example.com",
		BindHost:    "0.0.0.0",
		HTTPPort:    80,
		HTTPSPort:   443,
	}
}

func TestManaged_AppliesProxyProject(t *testing.T) {
	r := newScriptRunner()
	c, runtime, _ := newTestConfigurator(r)
	req := testRequest()
	paths := req.Paths()

	err := c.Apply(context.Background(), req, managedPlan(), []string{"demo_default"})
	require.NoError(t, err)

	require.Contains(t, r.files, paths.NginxConf)
	assert.Contains(t, string(r.files[paths.NginxConf]), "proxy_pass http://web:8080;")
	assert.NotContains(t, string(r.files[paths.NginxConf]), "listen 443")

	require.Contains(t, r.files, paths.ProxyComposeFile)
	assert.Contains(t, string(r.files[paths.ProxyComposeFile]), "container_name: demo_nginx")

	require.Len(t, runtime.applied, 1)
	applied := runtime.applied[0]
	assert.Equal(t, "demo", applied.Project)
	assert.Equal(t, deployment.RoleProxy, applied.Role)
	assert.Equal(t, paths.ServiceDir, runtime.workDirs[0])

	require.Len(t, applied.Containers, 1)
	nginx := applied.Containers[0]
	assert.Equal(t, "demo_nginx", nginx.Name)
	assert.NotEmpty(t, nginx.Labels[labelConfHash])
	assert.Equal(t, deployment.PlanHash(nginx), nginx.Labels[deployment.LabelConfigHash])

	assert.Empty(t, runtime.oneOffs)
}

// The conf digest is part of the container's desired state, so changing the
// routes recreates nginx through ordinary reconciliation while identical
// re-runs leave it alone.
func TestManaged_ConfChangeChangesDesiredState(t *testing.T) {
	r := newScriptRunner()
	c, runtime, _ := newTestConfigurator(r)
	req := testRequest()
	ctx := context.Background()

	require.NoError(t, c.Apply(ctx, req, managedPlan(), nil))

	changed := managedPlan()
	changed.Routes[0].Port = 9090
	require.NoError(t, c.Apply(ctx, req, changed, nil))
	require.NoError(t, c.Apply(ctx, req, changed, nil))

	require.Len(t, runtime.applied, 3)
	first := runtime.applied[0].Containers[0].Labels[deployment.LabelConfigHash]
	second := runtime.applied[1].Containers[0].Labels[deployment.LabelConfigHash]
	third := runtime.applied[2].Containers[0].Labels[deployment.LabelConfigHash]

	assert.NotEqual(t, first, second)
	assert.Equal(t, second, third)
}

func TestManaged_JoinsAppNetworks(t *testing.T) {
	r := newScriptRunner()
	c, runtime, _ := newTestConfigurator(r)

	appNets := []string{"demo_default", "demo_backend"}
	err := c.Apply(context.Background(), testRequest(), managedPlan(), appNets)
	require.NoError(t, err)

	applied := runtime.applied[0]
	nginx := applied.Containers[0]
	assert.Equal(t, []string{"demo_default", "demo_backend"}, nginx.Networks)

	// The app-created network is verified, never created, and the shared
	// default network is planned exactly once.
	defaults, externals := 0, 0
	for _, n := range applied.Networks {
		switch n.Name {
		case "demo_default":
			defaults++
		case "demo_backend":
			externals++
			assert.True(t, n.External)
		}
	}
	assert.Equal(t, 1, defaults)
	assert.Equal(t, 1, externals)
}

func TestManaged_EnsuresArtifactDirectories(t *testing.T) {
	r := newScriptRunner()
	r.failOn("test -f")
	c, runtime, _ := newTestConfigurator(r)
	runtime.oneOffRes = docker.OneOffResult{ExitCode: 0}
	paths := testRequest().Paths()

	err := c.Apply(context.Background(), testRequest(), managedTLSPlan(), nil)
	require.NoError(t, err)

	assert.True(t, r.called("mkdir -p "+paths.NginxConfDir))
	assert.True(t, r.called("mkdir -p "+paths.CertbotDir))
	assert.True(t, r.called("mkdir -p "+paths.LetsEncryptDir))
}

func TestManaged_FirstIssuanceRunsTwoPasses(t *testing.T) {
	r := newScriptRunner()
	r.failOn("test -f") // no certificate on disk yet
	c, runtime, _ := newTestConfigurator(r)
	runtime.oneOffRes = docker.OneOffResult{ExitCode: 0}
	req := testRequest()
	paths := req.Paths()

	err := c.Apply(context.Background(), req, managedTLSPlan(), nil)
	require.NoError(t, err)

	// HTTP-only pass to answer challenges, then the HTTPS pass.
	require.Len(t, runtime.applied, 2)
	require.Len(t, runtime.oneOffs, 1)

	issue := runtime.oneOffs[0]
	assert.Equal(t, "demo_certbot_issue", issue.Name)
	assert.Equal(t, ingress.CertbotImage, issue.Image)
	assert.Contains(t, issue.Command, "certonly")
	assert.Contains(t, issue.Command, "api.example.com")

	require.Len(t, issue.Mounts, 2)
	assert.Equal(t, paths.CertbotDir, issue.Mounts[0].Source)
	assert.Equal(t, ingress.ManagedACMEWebroot, issue.Mounts[0].Target)
	assert.Equal(t, paths.LetsEncryptDir, issue.Mounts[1].Source)
	assert.Equal(t, "/etc/letsencrypt", issue.Mounts[1].Target)

	// The final configuration serves HTTPS; the backup holds the HTTP-only
	// first pass.
	assert.Contains(t, string(r.files[paths.NginxConf]), "listen 443 ssl;")
	assert.NotContains(t, string(r.files[paths.NginxConf+".bak"]), "listen 443")
}

func TestManaged_ExistingCertActivatesDirectly(t *testing.T) {
	r := newScriptRunner() // "test -f" succeeds: certificate already on disk
	c, runtime, _ := newTestConfigurator(r)
	req := testRequest()
	paths := req.Paths()

	err := c.Apply(context.Background(), req, managedTLSPlan(), nil)
	require.NoError(t, err)

	assert.True(t, r.called("test -f "+paths.LetsEncryptDir+"/live/api.example.com/fullchain.pem"))
	require.Len(t, runtime.applied, 1)
	assert.Empty(t, runtime.oneOffs)
	assert.Contains(t, string(r.files[paths.NginxConf]), "listen 443 ssl;")
}

func TestManaged_DNSMismatchSkipsACMEClient(t *testing.T) {
	r := newScriptRunner()
	r.failOn("test -f")
	c, runtime, resolver := newTestConfigurator(r)
	resolver.addrs["api.example.com"] = []net.IP{net.ParseIP("198.51.100.9")}
	req := testRequest()

	err := c.Apply(context.Background(), req, managedTLSPlan(), nil)

	var certErr *CertIssuanceError
	require.ErrorAs(t, err, &certErr)
	assert.Equal(t, "api.example.com", certErr.Domain)

	// The ACME client never ran and the HTTP-only configuration stays.
	assert.Empty(t, runtime.oneOffs)
	require.Len(t, runtime.applied, 1)
	assert.NotContains(t, string(r.files[req.Paths().NginxConf]), "listen 443")
}

func TestManaged_CertbotFailureIsDegraded(t *testing.T) {
	r := newScriptRunner()
	r.failOn("test -f")
	c, runtime, _ := newTestConfigurator(r)
	runtime.oneOffRes = docker.OneOffResult{
		ExitCode: 1,
		Output:   "Saving debug log\nChallenge failed for domain api.example.com",
	}
	req := testRequest()

	err := c.Apply(context.Background(), req, managedTLSPlan(), nil)

	var certErr *CertIssuanceError
	require.ErrorAs(t, err, &certErr)
	assert.Contains(t, certErr.Error(), "Challenge failed")

	// No HTTPS activation pass after a failed issuance.
	require.Len(t, runtime.applied, 1)
	assert.NotContains(t, string(r.files[req.Paths().NginxConf]), "listen 443")
}
