package host

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
)

const daemonConfigPath = "/etc/docker/daemon.json"

// MergeDaemonConfig applies the registry-friendly daemon settings to an
// existing daemon.json, preserving every key it does not own. Serial image
// transfers avoid registry rate limits and half-pulled layers on slow
// links; the DNS fallback only lands when the operator has not chosen
// resolvers already. The second return reports whether anything changed.
func MergeDaemonConfig(current []byte) ([]byte, bool) {
	cfg := map[string]any{}
	if len(current) > 0 {
		if err := json.Unmarshal(current, &cfg); err != nil {
			cfg = map[string]any{}
		}
	}
	before, _ := json.Marshal(cfg)

	cfg["max-concurrent-downloads"] = 1
	cfg["max-concurrent-uploads"] = 1
	if !hasDNS(cfg) {
		cfg["dns"] = []string{"1.1.1.1", "8.8.8.8"}
	}

	after, _ := json.Marshal(cfg)
	changed := string(before) != string(after)

	out, _ := json.MarshalIndent(cfg, "", "  ")
	return append(out, '\n'), changed
}

// hasDNS treats an empty resolver list the same as an absent key.
func hasDNS(cfg map[string]any) bool {
	v, ok := cfg["dns"]
	if !ok {
		return false
	}
	list, ok := v.([]any)
	if !ok {
		return v != nil
	}
	return len(list) > 0
}

// tuneDaemon merges the settings into daemon.json and restarts the daemon,
// but only when the merge actually changed the configuration. The decision
// rides on the semantic comparison, not the file bytes: a daemon.json the
// operator wrote compactly but that already carries the settings stays
// untouched and docker keeps running. The previous config is kept as a .bak
// by the write.
func (b *Bootstrapper) tuneDaemon(ctx context.Context) error {
	current, err := b.runner.ReadFile(ctx, daemonConfigPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	merged, changed := MergeDaemonConfig(current)
	if !changed {
		b.logger.Debug("daemon config already tuned")
		return nil
	}
	if _, err := b.files.WriteIfChanged(ctx, daemonConfigPath, merged, 0o644); err != nil {
		return err
	}

	b.logger.Info("daemon config updated, restarting docker")
	_, err = b.runner.Run(ctx, "systemctl", "restart", "docker")
	return err
}
