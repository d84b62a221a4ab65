package proxy

import (
	"context"
	"path/filepath"

	"github.com/artpar/berth/internal/core/deploy"
	"github.com/artpar/berth/internal/core/ingress"
)

// =============================================================================
// Host Nginx Modes
// =============================================================================

const (
	sitesAvailableDir  = "/etc/nginx/sites-available"
	sitesEnabledDir    = "/etc/nginx/sites-enabled"
	hostLetsEncryptDir = "/etc/letsencrypt"
)

// applyExternal feeds the nginx already running on the host: write the site
// file, enable it, validate, reload. The host nginx is never stopped, so
// routes owned by other sites keep working throughout.
func (c *Configurator) applyExternal(ctx context.Context, req deploy.Request, plan ingress.Plan) error {
	params, needIssuance, err := c.prepareHostSite(ctx, req, plan)
	if err != nil {
		return err
	}
	if err := c.reloadHostNginx(ctx); err != nil {
		return err
	}

	if !needIssuance {
		return nil
	}
	return c.issueAndActivate(ctx, req, plan, params)
}

// applyTakeover hands the host nginx over to managed routing: stop it,
// replace the site configuration, start it again, then issue certificates
// against the fresh instance.
func (c *Configurator) applyTakeover(ctx context.Context, req deploy.Request, plan ingress.Plan) error {
	if _, err := c.runner.Run(ctx, "systemctl", "stop", "nginx"); err != nil {
		return err
	}

	params, needIssuance, err := c.prepareHostSite(ctx, req, plan)
	if err != nil {
		return err
	}
	if _, err := c.runner.Run(ctx, "systemctl", "start", "nginx"); err != nil {
		return err
	}

	if !needIssuance {
		return nil
	}
	return c.issueAndActivate(ctx, req, plan, params)
}

// prepareHostSite writes the site file in its final form when possible: TLS
// off or a certificate already on disk needs one pass, a first-time issuance
// starts HTTP-only and reports that issuance is still owed.
func (c *Configurator) prepareHostSite(ctx context.Context, req deploy.Request, plan ingress.Plan) (ingress.ConfParams, bool, error) {
	paths := req.Paths()

	params := ingress.ConfParams{ACMEWebroot: paths.CertbotWebroot}
	needIssuance := false
	if plan.TLS {
		if err := c.files.EnsureDir(ctx, paths.CertbotWebroot); err != nil {
			return params, false, err
		}
		if c.certExists(ctx, hostLetsEncryptDir, plan.CertDomains[0]) {
			params.ActiveTLS = true
		} else {
			needIssuance = true
		}
	}

	if err := c.writeHostSite(ctx, req, plan, params); err != nil {
		return params, false, err
	}
	return params, needIssuance, nil
}

// issueAndActivate runs the host certbot and, on success, rewrites the site
// with HTTPS termination and reloads. A failed issuance leaves the HTTP-only
// site in place and is reported as degraded.
func (c *Configurator) issueAndActivate(ctx context.Context, req deploy.Request, plan ingress.Plan, params ingress.ConfParams) error {
	if err := c.checkDomains(ctx, plan.CertDomains); err != nil {
		return err
	}

	if _, err := c.runner.Run(ctx, "certbot", certbotArgs(req.Paths().CertbotWebroot, plan)...); err != nil {
		return &CertIssuanceError{Domain: plan.CertDomains[0], Err: err}
	}
	c.logger.Info("certificate issued", "domains", plan.CertDomains)

	params.ActiveTLS = true
	if err := c.writeHostSite(ctx, req, plan, params); err != nil {
		return err
	}
	return c.reloadHostNginx(ctx)
}

// writeHostSite writes the generated site under sites-available and points
// the sites-enabled symlink at it.
func (c *Configurator) writeHostSite(ctx context.Context, req deploy.Request, plan ingress.Plan, params ingress.ConfParams) error {
	name := req.HostSiteName()
	site := filepath.Join(sitesAvailableDir, name)

	content := ingress.GenerateNginxConf(plan, params)
	if _, err := c.files.WriteIfChanged(ctx, site, []byte(content), 0o644); err != nil {
		return err
	}
	return c.files.EnsureSymlink(ctx, site, filepath.Join(sitesEnabledDir, name))
}

// reloadHostNginx validates the full configuration before reloading, so a
// bad generated site never takes down routes that already work.
func (c *Configurator) reloadHostNginx(ctx context.Context) error {
	if _, err := c.runner.Run(ctx, "nginx", "-t"); err != nil {
		return err
	}
	_, err := c.runner.Run(ctx, "systemctl", "reload", "nginx")
	return err
}
