package proxy

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/berth/internal/core/deploy"
	"github.com/artpar/berth/internal/core/ingress"
)

const siteAvailable = "/etc/nginx/sites-available/berth_demo.conf"
const siteEnabled = "/etc/nginx/sites-enabled/berth_demo.conf"

func (r *scriptRunner) countCalls(prefix string) int {
	n := 0
	for _, c := range r.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func externalPlan() ingress.Plan {
	return ingress.Plan{
		Mode:   ingress.ModeExternal,
		Routes: []deploy.Route{{Host: "_", Path: "/", Upstream: "127.0.0.1", Port: 8080}},
	}
}

func externalTLSPlan() ingress.Plan {
	return ingress.Plan{
		Mode:        ingress.ModeExternal,
		Routes:      []deploy.Route{{Host: "api.example.com", Path: "/", Upstream: "127.0.0.1", Port: 8080}},
		TLS:         true,
		CertDomains: []string{"api.example.com"},
		CertEmail:   "ops@example.com",
	}
}

func takeoverPlan() ingress.Plan {
	p := externalPlan()
	p.Mode = ingress.ModeTakeover
	return p
}

// =============================================================================
// External Nginx
// =============================================================================

func TestExternal_WritesSiteAndReloads(t *testing.T) {
	r := newScriptRunner()
	c, runtime, _ := newTestConfigurator(r)

	err := c.Apply(context.Background(), testRequest(), externalPlan(), nil)
	require.NoError(t, err)

	require.Contains(t, r.files, siteAvailable)
	assert.Contains(t, string(r.files[siteAvailable]), "proxy_pass http://127.0.0.1:8080;")

	assert.True(t, r.called("ln -sfn "+siteAvailable+" "+siteEnabled))
	assert.Less(t, r.callIndex("nginx -t"), r.callIndex("systemctl reload nginx"))

	// The host nginx is never stopped and no containers are involved.
	assert.False(t, r.called("systemctl stop"))
	assert.Empty(t, runtime.applied)
}

func TestExternal_BadConfigAbortsBeforeReload(t *testing.T) {
	r := newScriptRunner()
	r.failOn("nginx -t")
	c, _, _ := newTestConfigurator(r)

	err := c.Apply(context.Background(), testRequest(), externalPlan(), nil)
	require.Error(t, err)

	var certErr *CertIssuanceError
	assert.False(t, errors.As(err, &certErr), "a broken config is a real failure, not a degraded run")
	assert.False(t, r.called("systemctl reload nginx"))
}

func TestExternal_FirstIssuanceViaHostCertbot(t *testing.T) {
	r := newScriptRunner()
	r.failOn("test -f") // no certificate on disk yet
	c, _, _ := newTestConfigurator(r)
	req := testRequest()
	webroot := req.Paths().CertbotWebroot

	err := c.Apply(context.Background(), req, externalTLSPlan(), nil)
	require.NoError(t, err)

	assert.True(t, r.called("mkdir -p "+webroot))
	assert.True(t, r.called("certbot certonly --webroot -w "+webroot))

	// HTTP-only reload first, TLS reload after issuance.
	assert.Equal(t, 2, r.countCalls("systemctl reload nginx"))
	assert.Contains(t, string(r.files[siteAvailable]), "listen 443 ssl;")
	assert.False(t, r.called("systemctl stop"))
}

func TestExternal_ExistingCertActivatesDirectly(t *testing.T) {
	r := newScriptRunner() // "test -f" succeeds: certificate already on disk
	c, _, _ := newTestConfigurator(r)

	err := c.Apply(context.Background(), testRequest(), externalTLSPlan(), nil)
	require.NoError(t, err)

	assert.False(t, r.called("certbot"))
	assert.Equal(t, 1, r.countCalls("systemctl reload nginx"))
	assert.Contains(t, string(r.files[siteAvailable]), "listen 443 ssl;")
}

func TestExternal_CertbotFailureIsDegraded(t *testing.T) {
	r := newScriptRunner()
	r.failOn("test -f")
	r.failOn("certbot")
	c, _, _ := newTestConfigurator(r)

	err := c.Apply(context.Background(), testRequest(), externalTLSPlan(), nil)

	var certErr *CertIssuanceError
	require.ErrorAs(t, err, &certErr)
	assert.Equal(t, "api.example.com", certErr.Domain)

	// The HTTP-only site stays in place and was reloaded exactly once.
	assert.NotContains(t, string(r.files[siteAvailable]), "listen 443")
	assert.Equal(t, 1, r.countCalls("systemctl reload nginx"))
}

// =============================================================================
// Takeover
// =============================================================================

func TestTakeover_StopsRewritesStarts(t *testing.T) {
	r := newScriptRunner()
	c, _, _ := newTestConfigurator(r)

	err := c.Apply(context.Background(), testRequest(), takeoverPlan(), nil)
	require.NoError(t, err)

	stop := r.callIndex("systemctl stop nginx")
	link := r.callIndex("ln -sfn " + siteAvailable)
	start := r.callIndex("systemctl start nginx")

	require.GreaterOrEqual(t, stop, 0)
	require.GreaterOrEqual(t, start, 0)
	assert.Less(t, stop, link)
	assert.Less(t, link, start)
}

func TestTakeover_IssuesAgainstFreshInstance(t *testing.T) {
	r := newScriptRunner()
	r.failOn("test -f")
	c, _, _ := newTestConfigurator(r)

	plan := externalTLSPlan()
	plan.Mode = ingress.ModeTakeover
	err := c.Apply(context.Background(), testRequest(), plan, nil)
	require.NoError(t, err)

	// Issuance happens after nginx is back up to answer challenges.
	start := r.callIndex("systemctl start nginx")
	issue := r.callIndex("certbot certonly")
	require.GreaterOrEqual(t, issue, 0)
	assert.Less(t, start, issue)

	assert.Contains(t, string(r.files[siteAvailable]), "listen 443 ssl;")
}
