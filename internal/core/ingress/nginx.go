package ingress

import (
	"fmt"
	"strings"

	"github.com/artpar/berth/internal/core/deploy"
)

// =============================================================================
// Nginx Configuration Generation
// =============================================================================

// ManagedACMEWebroot is the path the managed nginx container serves HTTP-01
// challenge files from. The proxy compose definition bind-mounts the
// deployment's certbot directory there.
const ManagedACMEWebroot = "/var/www/certbot"

// ConfParams control how GenerateNginxConf renders a plan.
type ConfParams struct {
	// ACMEWebroot is the directory nginx serves HTTP-01 challenge files
	// from, as nginx itself sees it: ManagedACMEWebroot for the managed
	// proxy, the deployment's certbot-www-host directory for host nginx.
	ACMEWebroot string

	// ActiveTLS includes the HTTPS server blocks and the HTTP-to-HTTPS
	// redirect. The first pass keeps it off so nginx can start and answer
	// challenges before any certificate exists; if issuance fails, the
	// HTTP-only configuration simply stays in place.
	ActiveTLS bool
}

// GenerateNginxConf renders the nginx server configuration for a plan.
// Output is byte-for-byte stable for identical inputs: one server block per
// route host in first-appearance order, one location per route in plan
// order.
//
// Example (single route, no TLS, no auth token):
//
//	GenerateNginxConf(plan, ConfParams{})
//	// # Managed by berth; regenerated on every deploy.
//	//
//	// server {
//	//     listen 80;
//	//     server_name example.com;
//	//
//	//     location / {
//	//         proxy_pass http://web:8080;
//	//         ...
//	//     }
//	// }
func GenerateNginxConf(p Plan, params ConfParams) string {
	var b strings.Builder
	b.WriteString("# Managed by berth; regenerated on every deploy.\n")

	hosts, byHost := groupRoutes(p.Routes)
	tlsActive := p.TLS && params.ActiveTLS

	for _, host := range hosts {
		b.WriteString("\n")
		writeHTTPServer(&b, p, params, host, byHost[host], tlsActive)
		if tlsActive {
			b.WriteString("\n")
			writeTLSServer(&b, p, host, byHost[host])
		}
	}
	return b.String()
}

// groupRoutes splits routes by host, preserving first-appearance order of
// hosts and plan order of paths within each host.
func groupRoutes(routes []deploy.Route) ([]string, map[string][]deploy.Route) {
	var hosts []string
	byHost := make(map[string][]deploy.Route)
	for _, rt := range routes {
		if _, ok := byHost[rt.Host]; !ok {
			hosts = append(hosts, rt.Host)
		}
		byHost[rt.Host] = append(byHost[rt.Host], rt)
	}
	return hosts, byHost
}

func writeHTTPServer(b *strings.Builder, p Plan, params ConfParams, host string, routes []deploy.Route, tlsActive bool) {
	b.WriteString("server {\n")
	if host == "_" {
		b.WriteString("    listen 80 default_server;\n")
	} else {
		b.WriteString("    listen 80;\n")
	}
	fmt.Fprintf(b, "    server_name %s;\n", host)

	if p.TLS {
		b.WriteString("\n")
		b.WriteString("    location /.well-known/acme-challenge/ {\n")
		fmt.Fprintf(b, "        root %s;\n", params.ACMEWebroot)
		b.WriteString("    }\n")
	}

	if tlsActive {
		b.WriteString("\n")
		b.WriteString("    location / {\n")
		b.WriteString("        return 301 https://$host$request_uri;\n")
		b.WriteString("    }\n")
	} else {
		for _, rt := range routes {
			b.WriteString("\n")
			writeLocation(b, p, rt)
		}
	}
	b.WriteString("}\n")
}

func writeTLSServer(b *strings.Builder, p Plan, host string, routes []deploy.Route) {
	primary := p.CertDomains[0]

	b.WriteString("server {\n")
	b.WriteString("    listen 443 ssl;\n")
	fmt.Fprintf(b, "    server_name %s;\n", host)
	b.WriteString("\n")
	fmt.Fprintf(b, "    ssl_certificate /etc/letsencrypt/live/%s/fullchain.pem;\n", primary)
	fmt.Fprintf(b, "    ssl_certificate_key /etc/letsencrypt/live/%s/privkey.pem;\n", primary)

	for _, rt := range routes {
		b.WriteString("\n")
		writeLocation(b, p, rt)
	}
	b.WriteString("}\n")
}

// writeLocation proxies one route. The request URI is passed through
// unchanged; nginx picks the longest matching prefix regardless of the
// order the locations appear in.
func writeLocation(b *strings.Builder, p Plan, rt deploy.Route) {
	fmt.Fprintf(b, "    location %s {\n", rt.Path)
	if p.AuthToken != "" {
		fmt.Fprintf(b, "        if ($http_authorization != \"Bearer %s\") {\n", p.AuthToken)
		b.WriteString("            return 401;\n")
		b.WriteString("        }\n")
		b.WriteString("\n")
	}
	fmt.Fprintf(b, "        proxy_pass http://%s:%d;\n", rt.Upstream, rt.Port)
	b.WriteString("        proxy_http_version 1.1;\n")
	b.WriteString("        proxy_set_header Host $host;\n")
	b.WriteString("        proxy_set_header X-Real-IP $remote_addr;\n")
	b.WriteString("        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;\n")
	b.WriteString("        proxy_set_header X-Forwarded-Proto $scheme;\n")
	b.WriteString("    }\n")
}
