package ingress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/berth/internal/core/compose"
)

func TestGenerateProxyCompose_PlainHTTP(t *testing.T) {
	content := GenerateProxyCompose(singleRoutePlan(), "myapp")

	want := `services:
  nginx:
    image: nginx:1.27-alpine
    container_name: myapp_nginx
    restart: unless-stopped
    ports:
      - "0.0.0.0:80:80"
    volumes:
      - ./nginx:/etc/nginx/conf.d:ro
`
	assert.Equal(t, want, content)
}

func TestGenerateProxyCompose_TLSAddsCertbotCompanion(t *testing.T) {
	content := GenerateProxyCompose(tlsPlan(), "myapp")

	assert.Contains(t, content, "container_name: myapp_certbot")
	assert.Contains(t, content, "image: certbot/certbot")
	assert.Contains(t, content, `"0.0.0.0:443:443"`)
	assert.Contains(t, content, "- ./certbot-www:/var/www/certbot:ro")
	assert.Contains(t, content, "- ./letsencrypt:/etc/letsencrypt:ro")
	assert.Contains(t, content, "certbot renew")
	assert.Contains(t, content, "nginx -s reload")
}

func TestGenerateProxyCompose_CustomPortsAndBindHost(t *testing.T) {
	p := tlsPlan()
	p.BindHost = "127.0.0.1"
	p.HTTPPort = 8081
	p.HTTPSPort = 8443

	content := GenerateProxyCompose(p, "myapp")

	assert.Contains(t, content, `"127.0.0.1:8081:80"`)
	assert.Contains(t, content, `"127.0.0.1:8443:443"`)
}

// The executor runs the proxy through the same compose pipeline as the
// application, so the generated definition must survive a round trip.
func TestGenerateProxyCompose_ParsesAsCompose(t *testing.T) {
	content := GenerateProxyCompose(tlsPlan(), "myapp")

	spec, err := compose.ParseComposeSpec(content)

	require.NoError(t, err)
	assert.Equal(t, []string{"certbot", "nginx"}, spec.ServiceNames())

	nginx := spec.FindService("nginx")
	require.NotNil(t, nginx)
	assert.Equal(t, "nginx:1.27-alpine", nginx.Image)
	require.Len(t, nginx.Ports, 2)
	assert.Equal(t, uint32(80), nginx.Ports[0].Target)
	assert.Equal(t, uint32(80), nginx.Ports[0].Published)
	assert.Equal(t, "0.0.0.0", nginx.Ports[0].HostIP)
	assert.Equal(t, uint32(443), nginx.Ports[1].Target)

	require.Len(t, nginx.Volumes, 3)
	assert.Equal(t, compose.VolumeMountTypeBind, nginx.Volumes[0].Type)
	assert.Equal(t, "/etc/nginx/conf.d", nginx.Volumes[0].Target)
	assert.True(t, nginx.Volumes[0].ReadOnly)

	certbot := spec.FindService("certbot")
	require.NotNil(t, certbot)
	assert.Equal(t, "certbot/certbot", certbot.Image)
	require.Len(t, certbot.Volumes, 2)
	assert.False(t, certbot.Volumes[0].ReadOnly)
}

func TestGenerateProxyCompose_Deterministic(t *testing.T) {
	p := tlsPlan()

	assert.Equal(t, GenerateProxyCompose(p, "myapp"), GenerateProxyCompose(p, "myapp"))
}
