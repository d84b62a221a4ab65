package orchestrator

import (
	"fmt"
	"strings"

	"github.com/artpar/berth/internal/core/deploy"
	"github.com/artpar/berth/internal/core/ingress"
)

const summaryWidth = 54

// Summary renders the closing human-readable report: what was deployed,
// where its artifacts live, how to reach it, and the compose commands that
// operate it afterwards.
func (r *Result) Summary() string {
	var b strings.Builder

	headline := "Deployment complete"
	if r.Status == deploy.StatusDeployedDegraded {
		headline = "Deployment complete (degraded: TLS unavailable)"
	}
	box(&b, headline)
	b.WriteString("\n")

	kv(&b, "Service name", r.Request.ServiceName)
	kv(&b, "Run ID", r.RunID)
	kv(&b, "Status", string(r.Status))
	kv(&b, "Source kind", string(r.Kind))
	kv(&b, "Access mode", string(r.Request.AccessMode))
	kv(&b, "Ingress mode", string(r.Request.IngressMode))
	kv(&b, "Project", r.Project)
	kv(&b, "Service dir", r.Paths.ServiceDir)
	kv(&b, "Compose file", r.ComposePath)

	if r.Ingress.Active() && r.Ingress.Mode == ingress.ModeManaged {
		kv(&b, "Proxy file", r.Paths.ProxyComposeFile)
		if r.Ingress.TLS {
			kv(&b, "Proxy ports", fmt.Sprintf("%d->%d", r.Ingress.HTTPPort, r.Ingress.HTTPSPort))
		} else {
			kv(&b, "Proxy port", fmt.Sprintf("%d", r.Ingress.HTTPPort))
		}
	} else if r.Ingress.Active() {
		kv(&b, "Nginx site", "/etc/nginx/sites-available/"+r.Request.HostSiteName())
		if r.Ingress.TLS {
			kv(&b, "Proxy ports", "80->443 (host nginx)")
		} else {
			kv(&b, "Proxy port", "80 (host nginx)")
		}
	}

	if r.Ingress.TLS {
		kv(&b, "Domain", r.Request.Domain)
		if len(r.Ingress.CertDomains) > 1 {
			kv(&b, "TLS domains", strings.Join(r.Ingress.CertDomains, ", "))
		}
		if r.CertError != nil {
			kv(&b, "Certificate", "issuance failed, serving plain HTTP")
		}
	}
	if r.Ingress.Active() {
		if r.Ingress.AuthToken != "" {
			kv(&b, "Auth token", "enabled")
		} else {
			kv(&b, "Auth token", "disabled")
		}
	}

	if len(r.Services) > 0 {
		kv(&b, "Services", strings.Join(r.Services, ", "))
	}
	if len(r.Containers) > 0 {
		kv(&b, "Containers", describeStates(r.Containers))
	}
	for i, rt := range r.Ingress.Routes {
		label := "Routes"
		if i > 0 {
			label = ""
		}
		kv(&b, label, fmt.Sprintf("%s%s -> %s:%d", rt.Host, rt.Path, rt.Upstream, rt.Port))
	}
	for i, u := range r.urls() {
		label := "URLs"
		if i > 0 {
			label = ""
		}
		kv(&b, label, u)
	}
	if r.Attempts > 1 {
		kv(&b, "Attempts", fmt.Sprintf("%d", r.Attempts))
	}

	b.WriteString("\nUseful commands:\n")
	files := r.composeFileArgs()
	fmt.Fprintf(&b, "  docker compose -p %s %s ps\n", r.Project, files)
	fmt.Fprintf(&b, "  docker compose -p %s %s logs -f\n", r.Project, files)
	if r.Ingress.TLS && r.Ingress.Mode == ingress.ModeManaged && r.CertError == nil {
		fmt.Fprintf(&b, "  docker compose -p %s %s exec -T nginx nginx -s reload\n", r.Project, files)
	}
	if r.Ingress.TLS && r.Ingress.Mode != ingress.ModeManaged && r.Ingress.Active() {
		fmt.Fprintf(&b, "  certbot renew && nginx -t && systemctl reload nginx  # site: %s\n", r.Request.HostSiteName())
	}

	return b.String()
}

// urls lists where each route is reachable once the run settled. Catch-all
// routes are shown against the bind address.
func (r *Result) urls() []string {
	if !r.Ingress.Active() {
		return nil
	}

	scheme := "http"
	if r.Ingress.TLS && r.CertError == nil {
		scheme = "https"
	}

	port := ""
	if r.Ingress.Mode == ingress.ModeManaged {
		p := r.Ingress.HTTPPort
		if scheme == "https" {
			p = r.Ingress.HTTPSPort
		}
		if (scheme == "http" && p != 80) || (scheme == "https" && p != 443) {
			port = fmt.Sprintf(":%d", p)
		}
	}

	urls := make([]string, 0, len(r.Ingress.Routes))
	for _, rt := range r.Ingress.Routes {
		host := rt.Host
		if host == "_" {
			host = r.Ingress.BindHost
			if host == "" || host == "0.0.0.0" {
				host = "localhost"
			}
		}
		urls = append(urls, fmt.Sprintf("%s://%s%s%s", scheme, host, port, rt.Path))
	}
	return urls
}

func (r *Result) composeFileArgs() string {
	files := []string{r.ComposePath}
	if r.Ingress.Active() && r.Ingress.Mode == ingress.ModeManaged {
		files = append(files, r.Paths.ProxyComposeFile)
	}
	parts := make([]string, len(files))
	for i, f := range files {
		parts[i] = "-f " + f
	}
	return strings.Join(parts, " ")
}

func kv(b *strings.Builder, key, value string) {
	fmt.Fprintf(b, "%-12s : %s\n", key, value)
}

func box(b *strings.Builder, text string) {
	border := "+" + strings.Repeat("-", summaryWidth-2) + "+"
	b.WriteString(border + "\n")
	fmt.Fprintf(b, "| %-*s |\n", summaryWidth-4, text)
	b.WriteString(border + "\n")
}
