// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

//go:build windows

package docker

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/Microsoft/go-winio"
	"github.com/docker/docker/client"
	"github.com/stacklok/toolhive-core/env"
)

const (
	// DockerDesktopWindowsPipePath is the Docker Desktop named pipe.
	DockerDesktopWindowsPipePath = `\\.\pipe\docker_engine`
	// PodmanDesktopWindowsPipePath is the Podman Desktop named pipe.
	PodmanDesktopWindowsPipePath = `\\.\pipe\podman-api`

	pipeConnectionTimeout = 2 * time.Second
)

func platformCandidates(env.Reader) []string {
	return []string{DockerDesktopWindowsPipePath, PodmanDesktopWindowsPipePath}
}

func socketReachable(path string) error {
	ctx, cancel := context.WithTimeout(context.Background(), pipeConnectionTimeout)
	defer cancel()
	conn, err := winio.DialPipeContext(ctx, path)
	if err != nil {
		return err
	}
	return conn.Close()
}

// newPlatformClient dials the runtime over a Windows named pipe.
func newPlatformClient(pipePath string) []client.Opt {
	httpClient := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				dialCtx, cancel := context.WithTimeout(ctx, pipeConnectionTimeout)
				defer cancel()
				return winio.DialPipeContext(dialCtx, pipePath)
			},
		},
	}
	return []client.Opt{
		client.WithAPIVersionNegotiation(),
		client.WithHTTPClient(httpClient),
		client.WithHost("npipe://" + pipePath),
	}
}
