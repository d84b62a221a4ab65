package ingress

import (
	"fmt"
	"strings"
)

// =============================================================================
// Managed Proxy Compose Generation
// =============================================================================

// ProxyImage runs the managed reverse proxy.
const ProxyImage = "nginx:1.27-alpine"

// CertbotImage issues and renews certificates for the managed proxy.
const CertbotImage = "certbot/certbot"

// GenerateProxyCompose renders the compose definition for the managed proxy
// containers. The file lives in the deployment's service directory, so every
// bind mount is relative to it. Output is byte-for-byte stable for identical
// inputs and the file is fully regenerated on every run, never edited in
// place.
//
// Layout (TLS off):
//
//	services:
//	  nginx:
//	    image: nginx:1.27-alpine
//	    container_name: <project>_nginx
//	    restart: unless-stopped
//	    ports:
//	      - "<bind_host>:<http_port>:80"
//	    volumes:
//	      - ./nginx:/etc/nginx/conf.d:ro
//
// With TLS on, nginx also publishes the HTTPS port, mounts the ACME webroot
// and certificate directories, and reloads itself every six hours so renewed
// certificates get picked up. A certbot companion renews them every twelve
// hours.
func GenerateProxyCompose(p Plan, project string) string {
	var b strings.Builder
	b.WriteString("services:\n")
	b.WriteString("  nginx:\n")
	fmt.Fprintf(&b, "    image: %s\n", ProxyImage)
	fmt.Fprintf(&b, "    container_name: %s_nginx\n", project)
	b.WriteString("    restart: unless-stopped\n")
	if p.TLS {
		b.WriteString("    command: \"/bin/sh -c 'while :; do sleep 6h & wait $${!}; nginx -s reload; done & nginx -g \\\"daemon off;\\\"'\"\n")
	}
	b.WriteString("    ports:\n")
	fmt.Fprintf(&b, "      - %q\n", fmt.Sprintf("%s:%d:80", p.BindHost, p.HTTPPort))
	if p.TLS {
		fmt.Fprintf(&b, "      - %q\n", fmt.Sprintf("%s:%d:443", p.BindHost, p.HTTPSPort))
	}
	b.WriteString("    volumes:\n")
	b.WriteString("      - ./nginx:/etc/nginx/conf.d:ro\n")
	if p.TLS {
		b.WriteString("      - ./certbot-www:/var/www/certbot:ro\n")
		b.WriteString("      - ./letsencrypt:/etc/letsencrypt:ro\n")
		b.WriteString("  certbot:\n")
		fmt.Fprintf(&b, "    image: %s\n", CertbotImage)
		fmt.Fprintf(&b, "    container_name: %s_certbot\n", project)
		b.WriteString("    restart: unless-stopped\n")
		b.WriteString("    entrypoint: \"/bin/sh -c 'trap exit TERM; while :; do certbot renew; sleep 12h & wait $${!}; done'\"\n")
		b.WriteString("    volumes:\n")
		b.WriteString("      - ./certbot-www:/var/www/certbot\n")
		b.WriteString("      - ./letsencrypt:/etc/letsencrypt\n")
	}
	return b.String()
}
