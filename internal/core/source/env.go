package source

import (
	"errors"
	"io/fs"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
)

// DotenvFile is the per-source file merged into compose interpolation. It
// sits next to the compose file, where docker compose would look for it.
const DotenvFile = ".env"

// InterpolationEnv builds the environment compose placeholders resolve
// against: values from the source's .env file, overridden by the process
// environment. procEnv takes os.Environ-style KEY=VALUE entries.
func InterpolationEnv(fsys fs.FS, procEnv []string) (map[string]string, error) {
	env := map[string]string{}

	data, err := fs.ReadFile(fsys, DotenvFile)
	switch {
	case err == nil:
		values, perr := godotenv.UnmarshalBytes(data)
		if perr != nil {
			return nil, NewSourceError(DotenvFile, "parsing env file", perr)
		}
		for k, v := range values {
			env[k] = v
		}
	case !errors.Is(err, fs.ErrNotExist):
		return nil, NewSourceError(DotenvFile, "reading env file", err)
	}

	for _, kv := range procEnv {
		if key, value, ok := strings.Cut(kv, "="); ok && key != "" {
			env[key] = value
		}
	}
	return env, nil
}

// EnvValue is one KEY=VALUE assignment destined for a .env file.
type EnvValue struct {
	Name  string
	Value string
}

// dotenvPlainRe matches values safe to write without quoting.
var dotenvPlainRe = regexp.MustCompile(`^[A-Za-z0-9_./:@+\-]+$`)

// UpsertDotenv sets pairs in existing .env content: lines assigning a
// listed key are rewritten in place, everything else, comments included,
// passes through untouched, and keys with no existing line are appended.
func UpsertDotenv(existing []byte, pairs []EnvValue) []byte {
	remaining := make(map[string]string, len(pairs))
	for _, p := range pairs {
		remaining[p.Name] = p.Value
	}

	var lines []string
	if len(existing) > 0 {
		lines = strings.Split(strings.TrimSuffix(string(existing), "\n"), "\n")
	}

	var out []string
	for _, line := range lines {
		stripped := strings.TrimSpace(line)
		if stripped == "" || strings.HasPrefix(stripped, "#") || !strings.Contains(stripped, "=") {
			out = append(out, line)
			continue
		}
		candidate := stripped
		prefix := ""
		if rest, ok := strings.CutPrefix(candidate, "export "); ok {
			prefix = "export "
			candidate = strings.TrimSpace(rest)
		}
		key := strings.TrimSpace(candidate[:strings.Index(candidate, "=")])
		if value, ok := remaining[key]; ok {
			out = append(out, prefix+key+"="+dotenvQuote(value))
			delete(remaining, key)
			continue
		}
		out = append(out, line)
	}

	if len(remaining) > 0 {
		if len(out) > 0 && strings.TrimSpace(out[len(out)-1]) != "" {
			out = append(out, "")
		}
		for _, p := range pairs {
			if _, ok := remaining[p.Name]; ok {
				out = append(out, p.Name+"="+dotenvQuote(p.Value))
				delete(remaining, p.Name)
			}
		}
	}

	return []byte(strings.Join(out, "\n") + "\n")
}

// dotenvQuote quotes a value only when it holds characters the plain form
// cannot carry.
func dotenvQuote(value string) string {
	if dotenvPlainRe.MatchString(value) {
		return value
	}
	escaped := strings.ReplaceAll(value, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	return `"` + escaped + `"`
}
