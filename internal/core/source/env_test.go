package source

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/berth/internal/core/compose"
)

const variableCompose = `
services:
  web:
    image: myapp-web:${TAG:-1.0}
    environment:
      DB_PASSWORD: ${DB_PASSWORD}
`

func dirWithVariableCompose(dotenv string) fstest.MapFS {
	fsys := fstest.MapFS{
		"docker-compose.yml": &fstest.MapFile{Data: []byte(variableCompose)},
	}
	if dotenv != "" {
		fsys[DotenvFile] = &fstest.MapFile{Data: []byte(dotenv)}
	}
	return fsys
}

// =============================================================================
// Interpolation Environment
// =============================================================================

func TestInterpolationEnv_ReadsDotenv(t *testing.T) {
	fsys := dirWithVariableCompose("DB_PASSWORD=s3cret\n# comment\nexport TAG=2.0\n")

	env, err := InterpolationEnv(fsys, nil)
	require.NoError(t, err)

	assert.Equal(t, "s3cret", env["DB_PASSWORD"])
	assert.Equal(t, "2.0", env["TAG"])
}

func TestInterpolationEnv_ProcessOverridesDotenv(t *testing.T) {
	fsys := dirWithVariableCompose("DB_PASSWORD=from-file\n")

	env, err := InterpolationEnv(fsys, []string{"DB_PASSWORD=from-process"})
	require.NoError(t, err)

	assert.Equal(t, "from-process", env["DB_PASSWORD"])
}

func TestInterpolationEnv_NoDotenvFile(t *testing.T) {
	env, err := InterpolationEnv(dirWithVariableCompose(""), []string{"A=1"})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"A": "1"}, env)
}

// =============================================================================
// Resolution with Variables
// =============================================================================

func TestResolve_DotenvValuesReachServiceEnvironment(t *testing.T) {
	fsys := dirWithVariableCompose("DB_PASSWORD=s3cret\n")

	resolved, err := Resolve(fsys, testRequest(), nil)
	require.NoError(t, err)

	web := resolved.Spec.FindService("web")
	require.NotNil(t, web)
	assert.Equal(t, "s3cret", web.Environment["DB_PASSWORD"])
	assert.Empty(t, resolved.MissingVariables)
}

func TestResolve_UnsetVariablesReported(t *testing.T) {
	resolved, err := Resolve(dirWithVariableCompose(""), testRequest(), nil)
	require.NoError(t, err)

	assert.Equal(t, []compose.Variable{{Name: "DB_PASSWORD"}}, resolved.MissingVariables)
}

func TestResolve_RequiredNonEmptyVariableFails(t *testing.T) {
	fsys := fstest.MapFS{
		"docker-compose.yml": &fstest.MapFile{Data: []byte(`
services:
  web:
    image: myapp-web:1.0
    environment:
      DB_PASSWORD: ${DB_PASSWORD:?database password}
`)},
	}

	_, err := Resolve(fsys, testRequest(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEnvVarMissing)

	var srcErr *SourceError
	require.ErrorAs(t, err, &srcErr)
	assert.Contains(t, srcErr.Message, "DB_PASSWORD")
}

func TestResolve_ProcessEnvSatisfiesRequiredVariable(t *testing.T) {
	fsys := fstest.MapFS{
		"docker-compose.yml": &fstest.MapFile{Data: []byte(`
services:
  web:
    image: myapp-web:1.0
    environment:
      DB_PASSWORD: ${DB_PASSWORD:?database password}
`)},
	}

	resolved, err := Resolve(fsys, testRequest(), []string{"DB_PASSWORD=s3cret"})
	require.NoError(t, err)
	assert.Empty(t, resolved.MissingVariables)
}

// =============================================================================
// Dotenv Upsert
// =============================================================================

func TestUpsertDotenv_AppendsToEmptyFile(t *testing.T) {
	out := UpsertDotenv(nil, []EnvValue{{Name: "A", Value: "1"}, {Name: "B", Value: "two"}})

	assert.Equal(t, "A=1\nB=two\n", string(out))
}

func TestUpsertDotenv_RewritesInPlaceKeepingComments(t *testing.T) {
	existing := []byte("# database\nDB_PASSWORD=old\n\nexport TAG=1.0\n")

	out := UpsertDotenv(existing, []EnvValue{
		{Name: "DB_PASSWORD", Value: "new"},
		{Name: "TAG", Value: "2.0"},
	})

	assert.Equal(t, "# database\nDB_PASSWORD=new\n\nexport TAG=2.0\n", string(out))
}

func TestUpsertDotenv_AppendsNewKeysAfterBlankLine(t *testing.T) {
	existing := []byte("A=1\n")

	out := UpsertDotenv(existing, []EnvValue{{Name: "B", Value: "2"}})

	assert.Equal(t, "A=1\n\nB=2\n", string(out))
}

func TestUpsertDotenv_QuotesValuesWithSpaces(t *testing.T) {
	out := UpsertDotenv(nil, []EnvValue{{Name: "MSG", Value: `hello "world"`}})

	assert.Equal(t, "MSG=\"hello \\\"world\\\"\"\n", string(out))
}
