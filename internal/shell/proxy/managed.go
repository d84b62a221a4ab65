package proxy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"

	"github.com/artpar/berth/internal/core/compose"
	"github.com/artpar/berth/internal/core/deploy"
	"github.com/artpar/berth/internal/core/deployment"
	"github.com/artpar/berth/internal/core/ingress"
	"github.com/artpar/berth/internal/shell/docker"
)

// =============================================================================
// Managed Mode
// =============================================================================

// labelConfHash records which rendered nginx configuration the container was
// created for. The bind-mounted file is invisible to the container's config
// hash, so the digest rides along as a label: a changed configuration changes
// the desired state and reconciliation recreates nginx with the new file,
// while an unchanged re-run touches nothing.
const labelConfHash = "com.berth.proxy-conf"

// applyManaged runs the proxy as containers in the deployment's own project.
//
// The final nginx configuration is decided up front: TLS off or an already
// issued certificate means one pass, a first-time issuance means two. The
// first pass stays HTTP-only so nginx can start and answer challenges before
// any certificate exists; if issuance fails, that configuration simply stays
// in place and the deployment remains reachable over HTTP.
func (c *Configurator) applyManaged(ctx context.Context, req deploy.Request, plan ingress.Plan, appNetworks []string) error {
	paths := req.Paths()

	if err := c.files.EnsureDir(ctx, paths.NginxConfDir); err != nil {
		return err
	}
	if plan.TLS {
		for _, dir := range []string{paths.CertbotDir, paths.LetsEncryptDir} {
			if err := c.files.EnsureDir(ctx, dir); err != nil {
				return err
			}
		}
	}

	params := ingress.ConfParams{ACMEWebroot: ingress.ManagedACMEWebroot}
	needIssuance := false
	if plan.TLS {
		if c.certExists(ctx, paths.LetsEncryptDir, plan.CertDomains[0]) {
			params.ActiveTLS = true
		} else {
			needIssuance = true
		}
	}

	if err := c.applyProxyProject(ctx, req, plan, params, appNetworks); err != nil {
		return err
	}

	if !needIssuance {
		return nil
	}

	if err := c.checkDomains(ctx, plan.CertDomains); err != nil {
		return err
	}
	if err := c.issueManagedCert(ctx, plan, req.ProjectName(), paths); err != nil {
		return &CertIssuanceError{Domain: plan.CertDomains[0], Err: err}
	}

	// Certificate landed; switch HTTPS on.
	params.ActiveTLS = true
	return c.applyProxyProject(ctx, req, plan, params, appNetworks)
}

// applyProxyProject writes the nginx configuration and the proxy compose
// file, then converges the runtime on the resulting plan. The proxy runs
// under the same project name as the application but with its own role, so
// reconciliation of one never prunes the other.
func (c *Configurator) applyProxyProject(ctx context.Context, req deploy.Request, plan ingress.Plan, params ingress.ConfParams, appNetworks []string) error {
	paths := req.Paths()

	conf := ingress.GenerateNginxConf(plan, params)
	if _, err := c.files.WriteIfChanged(ctx, paths.NginxConf, []byte(conf), 0o644); err != nil {
		return err
	}

	content := ingress.GenerateProxyCompose(plan, req.ProjectName())
	if _, err := c.files.WriteIfChanged(ctx, paths.ProxyComposeFile, []byte(content), 0o644); err != nil {
		return err
	}

	spec, err := compose.ParseComposeSpec(content)
	if err != nil {
		return fmt.Errorf("parsing generated proxy compose: %w", err)
	}

	proxyPlan := deployment.BuildProjectPlan(req.ProjectName(), spec, deployment.RoleProxy)
	stampProxyPlan(&proxyPlan, contentHash(conf), appNetworks)

	return c.runtime.Apply(ctx, proxyPlan, paths.ServiceDir)
}

// stampProxyPlan adjusts the generated proxy plan for its place next to the
// application: the nginx container carries the configuration digest and
// joins the application's networks so route upstreams naming compose
// services resolve through their aliases. Those networks were created by
// the application's own apply, so the proxy plan lists them as external and
// only verifies them. The config hash is restamped because both adjustments
// are part of the desired state.
func stampProxyPlan(plan *deployment.ProjectPlan, confDigest string, appNetworks []string) {
	for _, name := range appNetworks {
		if !slices.ContainsFunc(plan.Networks, func(n deployment.NetworkPlan) bool { return n.Name == name }) {
			plan.Networks = append(plan.Networks, deployment.NetworkPlan{Name: name, External: true})
		}
	}

	for i := range plan.Containers {
		cp := &plan.Containers[i]
		if cp.Service != "nginx" {
			continue
		}
		cp.Labels[labelConfHash] = confDigest
		for _, name := range appNetworks {
			if !slices.Contains(cp.Networks, name) {
				cp.Networks = append(cp.Networks, name)
			}
		}
		cp.Labels[deployment.LabelConfigHash] = deployment.PlanHash(*cp)
	}
}

// contentHash digests a rendered configuration for the conf label.
func contentHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// issueManagedCert runs certbot once to completion against the proxy's
// shared webroot. The certificate directory is bind-mounted read-write here
// and read-only into nginx.
func (c *Configurator) issueManagedCert(ctx context.Context, plan ingress.Plan, project string, paths deploy.ManagedPaths) error {
	res, err := c.runtime.RunOneOff(ctx, docker.OneOffSpec{
		Name:    project + "_certbot_issue",
		Image:   ingress.CertbotImage,
		Command: certbotArgs(ingress.ManagedACMEWebroot, plan),
		Mounts: []docker.Mount{
			{Type: docker.MountBind, Source: paths.CertbotDir, Target: ingress.ManagedACMEWebroot},
			{Type: docker.MountBind, Source: paths.LetsEncryptDir, Target: "/etc/letsencrypt"},
		},
		Labels: map[string]string{
			deployment.LabelManaged: "true",
			deployment.LabelProject: project,
			deployment.LabelRole:    deployment.RoleProxy,
		},
	})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("certbot exited with status %d: %s", res.ExitCode, lastLines(res.Output, 5))
	}

	c.logger.Info("certificate issued", "domains", plan.CertDomains)
	return nil
}
