package deploy

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// =============================================================================
// Route Parsing
// =============================================================================

var slashRunRe = regexp.MustCompile(`/{2,}`)

// ParseRoute parses a route argument of the form "HOST[/PATH]=UPSTREAM:PORT".
// The host is lowercased, the path is normalized to start with "/" and lose
// any trailing slash, and the port must be in 1-65535.
//
// Example:
//
//	ParseRoute("API.example.com/v1/=web:8080")
//	// returns Route{Host: "api.example.com", Path: "/v1", Upstream: "web", Port: 8080}
func ParseRoute(spec string) (Route, error) {
	raw := strings.TrimSpace(spec)
	if raw == "" {
		return Route{}, NewValidationError("route", "route must not be empty", ErrInvalidRoute)
	}

	left, right, found := strings.Cut(raw, "=")
	if !found {
		return Route{}, NewValidationError("route",
			fmt.Sprintf("%q must look like HOST[/PATH]=UPSTREAM:PORT", raw), ErrInvalidRoute)
	}
	left = strings.TrimSpace(left)
	right = strings.TrimSpace(right)

	host := left
	path := "/"
	if i := strings.Index(left, "/"); i >= 0 {
		host = left[:i]
		path = NormalizeRoutePath(left[i:])
	}
	host = strings.ToLower(host)
	if host == "" || !serverNameRe.MatchString(host) {
		return Route{}, NewValidationError("route",
			fmt.Sprintf("%q is not a valid route host", host), ErrInvalidRoute)
	}
	if !pathPrefixRe.MatchString(path) {
		return Route{}, NewValidationError("route",
			fmt.Sprintf("%q is not a valid route path", path), ErrInvalidRoute)
	}

	idx := strings.LastIndex(right, ":")
	if idx <= 0 || idx == len(right)-1 {
		return Route{}, NewValidationError("route",
			fmt.Sprintf("%q must look like UPSTREAM:PORT", right), ErrInvalidRoute)
	}
	upstream := right[:idx]
	if !upstreamHostRe.MatchString(upstream) {
		return Route{}, NewValidationError("route",
			fmt.Sprintf("%q is not a valid route upstream", upstream), ErrInvalidRoute)
	}
	port, err := strconv.ParseUint(right[idx+1:], 10, 32)
	if err != nil || !validPort(uint32(port)) {
		return Route{}, NewValidationError("route",
			fmt.Sprintf("%q is not a valid route port", right[idx+1:]), ErrInvalidRoute)
	}

	return Route{Host: host, Path: path, Upstream: upstream, Port: uint32(port)}, nil
}

// NormalizeRoutePath folds repeated slashes and trims the trailing slash so
// equivalent spellings of a path produce the same route key. The root path
// stays "/".
func NormalizeRoutePath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	p = slashRunRe.ReplaceAllString(p, "/")
	for len(p) > 1 && strings.HasSuffix(p, "/") {
		p = p[:len(p)-1]
	}
	return p
}
