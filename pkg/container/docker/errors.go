// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package docker

import (
	"errors"
	"fmt"
)

var (
	// ErrContainerNotFound is returned when no container carries the derived name.
	ErrContainerNotFound = errors.New("container not found")

	// ErrRuntimeNotFound is returned when neither a Docker nor a Podman socket
	// can be reached.
	ErrRuntimeNotFound = errors.New("container runtime not found")

	// ErrMissingImage is returned when a container has to be created for a
	// definition that names no image.
	ErrMissingImage = errors.New("server definition has no docker image")

	// ErrNotRunning is returned when a freshly started container never
	// reaches the running state.
	ErrNotRunning = errors.New("container did not reach running state")
)

// ContainerError adds the container and a description to a runtime failure.
type ContainerError struct {
	Err         error
	ContainerID string
	Message     string
}

func (e *ContainerError) Error() string {
	if e.Message != "" {
		if e.ContainerID != "" {
			return fmt.Sprintf("%s: %s (container: %s)", e.Err, e.Message, e.ContainerID)
		}
		return fmt.Sprintf("%s: %s", e.Err, e.Message)
	}
	if e.ContainerID != "" {
		return fmt.Sprintf("%s (container: %s)", e.Err, e.ContainerID)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *ContainerError) Unwrap() error {
	return e.Err
}

// NewContainerError creates a ContainerError.
func NewContainerError(err error, containerID, message string) *ContainerError {
	return &ContainerError{Err: err, ContainerID: containerID, Message: message}
}
