package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/artpar/berth/internal/core/deploy"
	"github.com/artpar/berth/internal/shell/docker"
	"github.com/artpar/berth/internal/shell/store"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{
			name: "config error",
			err:  NewConfigError("failed to parse config file", errors.New("bad yaml")),
			want: ExitConfigError,
		},
		{
			name: "validation error",
			err:  deploy.NewValidationError("name", "service name is required", nil),
			want: ExitConfigError,
		},
		{
			name: "wrapped validation error",
			err:  fmt.Errorf("deploy: %w", deploy.NewValidationError("access", "bad mode", nil)),
			want: ExitConfigError,
		},
		{
			name: "store error",
			err:  store.NewStoreError("CreateRun", "run", "abc", "insert failed", store.ErrConnectionFailed),
			want: ExitStoreError,
		},
		{
			name: "docker error",
			err:  docker.NewDockerError("PullImage", "image", "nginx", "pull failed", docker.ErrImagePullFailed),
			want: ExitDockerError,
		},
		{
			name: "anything else",
			err:  errors.New("boom"),
			want: ExitDeployError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestRootCmd_HasSubcommands(t *testing.T) {
	root := rootCmd()

	names := make([]string, 0, len(root.Commands()))
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, "deploy")
	assert.Contains(t, names, "history")
}
