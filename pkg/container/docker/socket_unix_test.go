// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

//go:build !windows

package docker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/toolhive-core/env/mocks"
)

func TestFindSocket(t *testing.T) {
	t.Parallel()

	sock := filepath.Join(t.TempDir(), "docker.sock")
	require.NoError(t, os.WriteFile(sock, nil, 0600))

	t.Run("explicit path", func(t *testing.T) {
		t.Parallel()
		ctrl := gomock.NewController(t)
		got, err := FindSocket(sock, mocks.NewMockReader(ctrl))
		require.NoError(t, err)
		assert.Equal(t, sock, got)
	})

	t.Run("env override", func(t *testing.T) {
		t.Parallel()
		ctrl := gomock.NewController(t)
		reader := mocks.NewMockReader(ctrl)
		reader.EXPECT().Getenv(SocketEnv).Return(sock)
		got, err := FindSocket("", reader)
		require.NoError(t, err)
		assert.Equal(t, sock, got)
	})

	t.Run("invalid explicit path", func(t *testing.T) {
		t.Parallel()
		ctrl := gomock.NewController(t)
		_, err := FindSocket(filepath.Join(t.TempDir(), "missing.sock"), mocks.NewMockReader(ctrl))
		require.Error(t, err)
	})
}

func TestPlatformCandidates(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	reader := mocks.NewMockReader(ctrl)
	reader.EXPECT().Getenv("HOME").Return("/home/alice")
	reader.EXPECT().Getenv("XDG_RUNTIME_DIR").Return("/run/user/1000")

	assert.Equal(t, []string{
		DockerSocketPath,
		"/home/alice/.docker/run/docker.sock",
		PodmanSocketPath,
		"/run/user/1000/podman/podman.sock",
	}, platformCandidates(reader))
}
