// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package docker

import (
	"fmt"

	"github.com/stacklok/toolhive-core/env"

	"github.com/stacklok/mcp-gateway/pkg/logger"
)

// SocketEnv overrides socket discovery.
const SocketEnv = "MCPGW_DOCKER_SOCKET"

// FindSocket returns the first usable container runtime endpoint: a UNIX
// socket, or a named pipe on Windows. An explicit path (from configuration)
// wins over MCPGW_DOCKER_SOCKET, which wins over the well-known locations.
func FindSocket(explicit string, envReader env.Reader) (string, error) {
	if explicit != "" {
		return checkSocket(explicit)
	}
	if custom := envReader.Getenv(SocketEnv); custom != "" {
		logger.Debugf("Using container socket from env: %s", custom)
		return checkSocket(custom)
	}

	for _, path := range platformCandidates(envReader) {
		if err := socketReachable(path); err == nil {
			logger.Debugf("Found container socket at %s", path)
			return path, nil
		}
		logger.Debugf("No container socket at %s", path)
	}
	return "", ErrRuntimeNotFound
}

func checkSocket(path string) (string, error) {
	if err := socketReachable(path); err != nil {
		return "", fmt.Errorf("invalid container socket path %s: %w", path, err)
	}
	return path, nil
}
