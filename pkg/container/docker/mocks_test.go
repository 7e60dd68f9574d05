// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package docker

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
)

// fakeDockerAPI is a minimal test double for dockerAPI.
type fakeDockerAPI struct {
	listFunc    func(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	inspectFunc func(ctx context.Context, id string) (container.InspectResponse, error)
	createFunc  func(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *v1.Platform, containerName string) (container.CreateResponse, error)
	startFunc   func(ctx context.Context, containerID string, options container.StartOptions) error
	stopFunc    func(ctx context.Context, containerID string, options container.StopOptions) error
	removeFunc  func(ctx context.Context, containerID string, options container.RemoveOptions) error
	logsFunc    func(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	imagesFunc  func(ctx context.Context, options image.ListOptions) ([]image.Summary, error)
	pullFunc    func(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
}

func (f *fakeDockerAPI) ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error) {
	if f.listFunc != nil {
		return f.listFunc(ctx, options)
	}
	return nil, nil
}

func (f *fakeDockerAPI) ContainerInspect(ctx context.Context, id string) (container.InspectResponse, error) {
	if f.inspectFunc != nil {
		return f.inspectFunc(ctx, id)
	}
	return container.InspectResponse{}, errNotFound{}
}

func (f *fakeDockerAPI) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *v1.Platform, containerName string) (container.CreateResponse, error) {
	if f.createFunc != nil {
		return f.createFunc(ctx, config, hostConfig, networkingConfig, platform, containerName)
	}
	return container.CreateResponse{}, nil
}

func (f *fakeDockerAPI) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	if f.startFunc != nil {
		return f.startFunc(ctx, containerID, options)
	}
	return nil
}

func (f *fakeDockerAPI) ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error {
	if f.stopFunc != nil {
		return f.stopFunc(ctx, containerID, options)
	}
	return nil
}

func (f *fakeDockerAPI) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	if f.removeFunc != nil {
		return f.removeFunc(ctx, containerID, options)
	}
	return nil
}

func (f *fakeDockerAPI) ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error) {
	if f.logsFunc != nil {
		return f.logsFunc(ctx, containerID, options)
	}
	return nil, errors.New("no logs")
}

func (f *fakeDockerAPI) ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error) {
	if f.imagesFunc != nil {
		return f.imagesFunc(ctx, options)
	}
	return []image.Summary{{ID: "sha256:present"}}, nil
}

func (f *fakeDockerAPI) ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error) {
	if f.pullFunc != nil {
		return f.pullFunc(ctx, ref, options)
	}
	return io.NopCloser(strings.NewReader(`{"status":"Downloaded newer image"}`)), nil
}

// errNotFound satisfies the NotFound() interface the Docker client checks.
type errNotFound struct{}

func (errNotFound) Error() string { return "No such container" }
func (errNotFound) NotFound()     {}

func inspected(id string, running bool, lbls map[string]string) container.InspectResponse {
	state := &container.State{Running: running, Status: "exited"}
	if running {
		state.Status = "running"
	}
	return container.InspectResponse{
		ContainerJSONBase: &container.ContainerJSONBase{
			ID:    id,
			State: state,
		},
		Config: &container.Config{Image: "ghcr.io/example/server:latest", Labels: lbls},
	}
}
