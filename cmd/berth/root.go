package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

// appKey carries the loaded configuration and logger through the command
// context, installed by the root PersistentPreRunE.
type appKey struct{}

type app struct {
	cfg    *Config
	logger *slog.Logger
}

// appFrom returns the app state for a command. Commands run outside the
// normal Execute path fall back to defaults.
func appFrom(cmd *cobra.Command) *app {
	if ctx := cmd.Context(); ctx != nil {
		if a, ok := ctx.Value(appKey{}).(*app); ok && a != nil {
			return a
		}
	}
	cfg, err := LoadConfig("")
	if err != nil || cfg == nil {
		cfg = &Config{}
	}
	return &app{cfg: cfg, logger: slog.Default()}
}

// rootCmd builds the command tree.
func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "berth",
		Short: "Deploy containerized services to a single Docker host",
		Long: `berth deploys a containerized service to a single Docker host: it
resolves a compose file or Dockerfile in the source directory, prepares the
host, converges the project's containers, and optionally fronts the service
with a reverse proxy and a Let's Encrypt certificate.

Quick start:
  berth deploy                                # interactive wizard
  berth deploy --source ./app --name myapp    # batch mode
  berth deploy --source ./app --name myapp --access public \
    --domain app.example.com --email ops@example.com
  berth history myapp                         # past runs for one service`,
		Version: fmt.Sprintf("%s (built %s)", Version, BuildTime),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Show help by default when no subcommand is provided.
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String("config", "", "Path to config file")
	cmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	cmd.PersistentFlags().String("log-format", "", "Log format: text or json")

	cmd.PersistentPreRunE = func(c *cobra.Command, _ []string) error {
		path, _ := c.Flags().GetString("config")
		cfg, err := LoadConfig(path)
		if err != nil {
			return err
		}
		// Flags override file and environment values.
		if level, _ := c.Flags().GetString("log-level"); level != "" {
			cfg.Log.Level = level
		}
		if format, _ := c.Flags().GetString("log-format"); format != "" {
			cfg.Log.Format = format
		}
		logger := SetupLogger(cfg.Log.Level, cfg.Log.Format)
		c.SetContext(context.WithValue(c.Context(), appKey{}, &app{cfg: cfg, logger: logger}))
		return nil
	}

	cmd.AddCommand(deployCmd())
	cmd.AddCommand(historyCmd())
	return cmd
}
