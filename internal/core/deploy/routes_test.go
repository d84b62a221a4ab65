package deploy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Route Parsing Tests
// =============================================================================

func TestParseRoute_HostOnly(t *testing.T) {
	rt, err := ParseRoute("api.example.com=web:8080")
	require.NoError(t, err)
	assert.Equal(t, "api.example.com", rt.Host)
	assert.Equal(t, "/", rt.Path)
	assert.Equal(t, "web", rt.Upstream)
	assert.Equal(t, uint32(8080), rt.Port)
}

func TestParseRoute_HostIsLowercased(t *testing.T) {
	rt, err := ParseRoute("API.Example.COM=web:8080")
	require.NoError(t, err)
	assert.Equal(t, "api.example.com", rt.Host)
}

func TestParseRoute_WithPath(t *testing.T) {
	rt, err := ParseRoute("api.example.com/v1=web:8080")
	require.NoError(t, err)
	assert.Equal(t, "/v1", rt.Path)
}

func TestParseRoute_PathNormalization(t *testing.T) {
	tests := []struct {
		name string
		spec string
		want string
	}{
		{"trailing slash stripped", "h.example.com/v1/=web:80", "/v1"},
		{"double slashes folded", "h.example.com//v1//a=web:80", "/v1/a"},
		{"root stays root", "h.example.com/=web:80", "/"},
		{"nested path kept", "h.example.com/v1/users=web:80", "/v1/users"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt, err := ParseRoute(tt.spec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rt.Path)
		})
	}
}

func TestParseRoute_CatchAllHost(t *testing.T) {
	rt, err := ParseRoute("_=web:8080")
	require.NoError(t, err)
	assert.Equal(t, "_", rt.Host)
}

func TestParseRoute_UpstreamWithDots(t *testing.T) {
	rt, err := ParseRoute("api.example.com=127.0.0.1:18080")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", rt.Upstream)
	assert.Equal(t, uint32(18080), rt.Port)
}

func TestParseRoute_Invalid(t *testing.T) {
	tests := []struct {
		name string
		spec string
	}{
		{"empty", ""},
		{"no separator", "api.example.com"},
		{"no port", "api.example.com=web"},
		{"empty port", "api.example.com=web:"},
		{"port zero", "api.example.com=web:0"},
		{"port too large", "api.example.com=web:99999"},
		{"port not a number", "api.example.com=web:http"},
		{"empty host", "=web:8080"},
		{"host bad characters", "api_exam ple=web:8080"},
		{"empty upstream", "api.example.com=:8080"},
		{"upstream bad characters", "api.example.com=we b:8080"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRoute(tt.spec)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidRoute)
		})
	}
}

func TestNormalizeRoutePath_Empty(t *testing.T) {
	assert.Equal(t, "/", NormalizeRoutePath(""))
}

func TestNormalizeRoutePath_MissingLeadingSlash(t *testing.T) {
	assert.Equal(t, "/v1", NormalizeRoutePath("v1"))
}

func TestRouteKey_DistinguishesPaths(t *testing.T) {
	a := Route{Host: "h.example.com", Path: "/"}
	b := Route{Host: "h.example.com", Path: "/v1"}
	assert.NotEqual(t, a.Key(), b.Key())
}
