package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/artpar/berth/internal/core/deploy"
	"github.com/artpar/berth/internal/shell/docker"
	"github.com/artpar/berth/internal/shell/store"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess     = 0
	ExitConfigError = 1
	ExitStoreError  = 2
	ExitDockerError = 3
	ExitDeployError = 4
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "berth: %v\n", err)
		return exitCode(err)
	}
	return ExitSuccess
}

// exitCode maps an error to its process exit code. Request and configuration
// problems are distinguished from runtime failures so scripts can tell "fix
// the invocation" from "fix the host".
func exitCode(err error) int {
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return ExitConfigError
	}

	var validationErr *deploy.ValidationError
	if errors.As(err, &validationErr) {
		return ExitConfigError
	}

	var storeErr *store.StoreError
	if errors.As(err, &storeErr) {
		return ExitStoreError
	}

	var dockerErr *docker.DockerError
	if errors.As(err, &dockerErr) {
		return ExitDockerError
	}

	return ExitDeployError
}
