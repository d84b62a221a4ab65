package source

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/berth/internal/core/compose"
	"github.com/artpar/berth/internal/core/deploy"
)

// =============================================================================
// Test Fixtures
// =============================================================================

const webWorkerCompose = `
services:
  web:
    image: myapp-web:1.0
    ports:
      - "8080:8080"

  worker:
    image: myapp-worker:1.0
`

const dockerfileContent = "FROM alpine:3.20\nCMD [\"./app\"]\n"

func dirWithCompose() fstest.MapFS {
	return fstest.MapFS{
		"docker-compose.yml": &fstest.MapFile{Data: []byte(webWorkerCompose)},
	}
}

func dirWithDockerfile() fstest.MapFS {
	return fstest.MapFS{
		"Dockerfile": &fstest.MapFile{Data: []byte(dockerfileContent)},
	}
}

func testRequest() deploy.Request {
	return deploy.NewRequest("myapp", "/srv/src/myapp")
}

// =============================================================================
// Kind Resolution Tests
// =============================================================================

func TestResolve_AutoPrefersCompose(t *testing.T) {
	fsys := dirWithCompose()
	fsys["Dockerfile"] = &fstest.MapFile{Data: []byte(dockerfileContent)}

	resolved, err := Resolve(fsys, testRequest(), nil)
	require.NoError(t, err)

	assert.Equal(t, deploy.SourceCompose, resolved.Kind)
	assert.Equal(t, "docker-compose.yml", resolved.ComposePath)
	assert.False(t, resolved.Generated)
}

func TestResolve_CandidateOrder(t *testing.T) {
	fsys := fstest.MapFS{
		"compose.yaml":        &fstest.MapFile{Data: []byte(webWorkerCompose)},
		"docker-compose.yaml": &fstest.MapFile{Data: []byte(webWorkerCompose)},
	}

	resolved, err := Resolve(fsys, testRequest(), nil)
	require.NoError(t, err)
	assert.Equal(t, "docker-compose.yaml", resolved.ComposePath)
}

func TestResolve_AutoFallsBackToDockerfile(t *testing.T) {
	req := testRequest()
	req.HostPort = 18080
	req.ContainerPort = 8080

	resolved, err := Resolve(dirWithDockerfile(), req, nil)
	require.NoError(t, err)

	assert.Equal(t, deploy.SourceDockerfile, resolved.Kind)
	assert.True(t, resolved.Generated)
	assert.Equal(t, req.Paths().ComposeFile, resolved.ComposePath)
	assert.Equal(t, []string{"myapp"}, resolved.Services)
}

func TestResolve_AutoNothingFound(t *testing.T) {
	fsys := fstest.MapFS{
		"README.md": &fstest.MapFile{Data: []byte("# app")},
	}

	_, err := Resolve(fsys, testRequest(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoSourceFound)
}

func TestResolve_ComposeKindRequiresComposeFile(t *testing.T) {
	req := testRequest()
	req.SourceKind = deploy.SourceCompose

	_, err := Resolve(dirWithDockerfile(), req, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrComposeFileMissing)
}

func TestResolve_DockerfileKindRequiresDockerfile(t *testing.T) {
	req := testRequest()
	req.SourceKind = deploy.SourceDockerfile

	_, err := Resolve(dirWithCompose(), req, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDockerfileMissing)
}

func TestResolve_DockerfileKindIgnoresComposeFile(t *testing.T) {
	fsys := dirWithCompose()
	fsys["Dockerfile"] = &fstest.MapFile{Data: []byte(dockerfileContent)}

	req := testRequest()
	req.SourceKind = deploy.SourceDockerfile

	resolved, err := Resolve(fsys, req, nil)
	require.NoError(t, err)
	assert.Equal(t, deploy.SourceDockerfile, resolved.Kind)
	assert.True(t, resolved.Generated)
}

func TestResolve_ExplicitComposeFile(t *testing.T) {
	fsys := fstest.MapFS{
		"deploy/stack.yml": &fstest.MapFile{Data: []byte(webWorkerCompose)},
	}

	req := testRequest()
	req.ComposeFile = "deploy/stack.yml"

	resolved, err := Resolve(fsys, req, nil)
	require.NoError(t, err)
	assert.Equal(t, "deploy/stack.yml", resolved.ComposePath)
	assert.Equal(t, deploy.SourceCompose, resolved.Kind)
}

func TestResolve_ExplicitComposeFileMissing(t *testing.T) {
	// An explicit compose file must not silently fall back to the
	// Dockerfile, even under auto detection.
	req := testRequest()
	req.ComposeFile = "deploy/stack.yml"

	_, err := Resolve(dirWithDockerfile(), req, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrComposeFileMissing)
}

// =============================================================================
// Service Selection Tests
// =============================================================================

func TestResolve_EmptySelectionResolvesToAllServices(t *testing.T) {
	resolved, err := Resolve(dirWithCompose(), testRequest(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"web", "worker"}, resolved.Services)
}

func TestResolve_SelectionNarrowsServices(t *testing.T) {
	req := testRequest()
	req.ComposeServices = []string{"web"}

	resolved, err := Resolve(dirWithCompose(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"web"}, resolved.Services)
	assert.Nil(t, resolved.Spec.FindService("worker"))
}

func TestResolve_SelectionUnknownService(t *testing.T) {
	req := testRequest()
	req.ComposeServices = []string{"web", "missing"}

	_, err := Resolve(dirWithCompose(), req, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, compose.ErrUnknownService)
}

func TestResolve_InvalidComposeContent(t *testing.T) {
	fsys := fstest.MapFS{
		"docker-compose.yml": &fstest.MapFile{Data: []byte("services: {}")},
	}

	_, err := Resolve(fsys, testRequest(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, compose.ErrNoServices)
}

// =============================================================================
// Generated Compose Tests
// =============================================================================

func TestGenerateCompose_ExactOutput(t *testing.T) {
	req := testRequest()
	req.SourceKind = deploy.SourceDockerfile
	req.HostPort = 18080
	req.ContainerPort = 8080

	want := `services:
  myapp:
    build:
      context: /srv/src/myapp
      dockerfile: Dockerfile
    image: myapp:local
    container_name: myapp
    restart: unless-stopped
    ports:
      - "127.0.0.1:18080:8080"
`
	assert.Equal(t, want, GenerateCompose(req))
}

func TestGenerateCompose_DefaultPorts(t *testing.T) {
	content := GenerateCompose(testRequest())
	assert.Contains(t, content, `- "127.0.0.1:8080:8080"`)
}

func TestGenerateCompose_HostPortDefaultsToContainerPort(t *testing.T) {
	req := testRequest()
	req.HostPort = 9000
	req.ContainerPort = 9000

	content := GenerateCompose(req)
	assert.Contains(t, content, `- "127.0.0.1:9000:9000"`)
}

func TestGenerateCompose_ProjectNameNormalized(t *testing.T) {
	req := deploy.NewRequest("My App", "/srv/src/app")

	content := GenerateCompose(req)
	assert.Contains(t, content, "  my-app:\n")
	assert.Contains(t, content, "image: my-app:local")
	assert.Contains(t, content, "container_name: my-app")
}

func TestGenerateCompose_Deterministic(t *testing.T) {
	req := testRequest()
	req.HostPort = 18080
	req.ContainerPort = 8080

	assert.Equal(t, GenerateCompose(req), GenerateCompose(req))
}

func TestResolve_DockerfileParsesGeneratedDefinition(t *testing.T) {
	req := testRequest()
	req.SourceKind = deploy.SourceDockerfile
	req.HostPort = 18080
	req.ContainerPort = 8080

	resolved, err := Resolve(dirWithDockerfile(), req, nil)
	require.NoError(t, err)
	require.NotNil(t, resolved.Spec)

	svc := resolved.Spec.FindService("myapp")
	require.NotNil(t, svc)
	assert.Equal(t, "myapp:local", svc.Image)
	require.NotNil(t, svc.Build)
	assert.Equal(t, "/srv/src/myapp", svc.Build.Context)

	require.Len(t, svc.Ports, 1)
	assert.Equal(t, uint32(8080), svc.Ports[0].Target)
	assert.Equal(t, uint32(18080), svc.Ports[0].Published)
	assert.Equal(t, "127.0.0.1", svc.Ports[0].HostIP)
}

// =============================================================================
// Error Type Tests
// =============================================================================

func TestSourceError_Error(t *testing.T) {
	withPath := NewSourceError("compose.yml", "not found", ErrComposeFileMissing)
	assert.Equal(t, "compose.yml: not found", withPath.Error())

	withoutPath := NewSourceError("", "nothing to deploy", ErrNoSourceFound)
	assert.Equal(t, "nothing to deploy", withoutPath.Error())
}

func TestSourceError_Unwrap(t *testing.T) {
	err := NewSourceError("/srv/src/myapp", "message", ErrNoSourceFound)
	assert.ErrorIs(t, err, ErrNoSourceFound)
}
