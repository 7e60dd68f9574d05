// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

//go:build !windows

package docker

import (
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"

	"github.com/docker/docker/client"
	"github.com/stacklok/toolhive-core/env"
)

const (
	// DockerSocketPath is the default Docker socket path.
	DockerSocketPath = "/var/run/docker.sock"
	// DockerDesktopMacSocketPath is the Docker Desktop socket, relative to $HOME.
	DockerDesktopMacSocketPath = ".docker/run/docker.sock"
	// PodmanSocketPath is the default rootful Podman socket path.
	PodmanSocketPath = "/var/run/podman/podman.sock"
	// PodmanXDGRuntimeSocketPath is the rootless Podman socket, relative to $XDG_RUNTIME_DIR.
	PodmanXDGRuntimeSocketPath = "podman/podman.sock"
)

func platformCandidates(envReader env.Reader) []string {
	candidates := []string{DockerSocketPath}
	if home := envReader.Getenv("HOME"); home != "" {
		candidates = append(candidates, filepath.Join(home, DockerDesktopMacSocketPath))
	}
	candidates = append(candidates, PodmanSocketPath)
	if xdgRuntime := envReader.Getenv("XDG_RUNTIME_DIR"); xdgRuntime != "" {
		candidates = append(candidates, filepath.Join(xdgRuntime, PodmanXDGRuntimeSocketPath))
	}
	return candidates
}

func socketReachable(path string) error {
	_, err := os.Stat(path)
	return err
}

// newPlatformClient dials the runtime over a UNIX socket.
func newPlatformClient(socketPath string) []client.Opt {
	httpClient := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		},
	}
	return []client.Opt{
		client.WithAPIVersionNegotiation(),
		client.WithHTTPClient(httpClient),
		client.WithHost("unix://" + socketPath),
	}
}
