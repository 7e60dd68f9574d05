// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package docker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/mcp-gateway/pkg/resources"
)

func newTestManager(api dockerAPI) *Manager {
	m := newManagerWithAPI(api, "")
	m.retryDelay = time.Millisecond
	return m
}

func TestStartServer_AlreadyRunning(t *testing.T) {
	t.Parallel()

	api := &fakeDockerAPI{
		inspectFunc: func(_ context.Context, id string) (container.InspectResponse, error) {
			assert.Equal(t, "mcpgw-github", id)
			return inspected("cid-1", true, nil), nil
		},
		createFunc: func(context.Context, *container.Config, *container.HostConfig, *network.NetworkingConfig, *v1.Platform, string) (container.CreateResponse, error) {
			t.Fatal("create must not be called")
			return container.CreateResponse{}, nil
		},
		startFunc: func(context.Context, string, container.StartOptions) error {
			t.Fatal("start must not be called")
			return nil
		},
	}

	id, err := newTestManager(api).StartServer(t.Context(), &resources.ServerDefinition{Name: "github"})
	require.NoError(t, err)
	assert.Equal(t, "cid-1", id)
}

func TestStartServer_RestartsStoppedContainer(t *testing.T) {
	t.Parallel()

	var started atomic.Bool
	api := &fakeDockerAPI{
		inspectFunc: func(context.Context, string) (container.InspectResponse, error) {
			return inspected("cid-2", started.Load(), nil), nil
		},
		startFunc: func(_ context.Context, id string, _ container.StartOptions) error {
			assert.Equal(t, "cid-2", id)
			started.Store(true)
			return nil
		},
	}

	id, err := newTestManager(api).StartServer(t.Context(), &resources.ServerDefinition{Name: "github"})
	require.NoError(t, err)
	assert.Equal(t, "cid-2", id)
	assert.True(t, started.Load())
}

func TestStartServer_RequiresImage(t *testing.T) {
	t.Parallel()

	_, err := newTestManager(&fakeDockerAPI{}).StartServer(t.Context(), &resources.ServerDefinition{Name: "github"})
	require.ErrorIs(t, err, ErrMissingImage)
}

func TestStartServer_CreatesContainer(t *testing.T) {
	t.Parallel()

	var created atomic.Bool
	api := &fakeDockerAPI{
		inspectFunc: func(_ context.Context, id string) (container.InspectResponse, error) {
			if id == "new-id" {
				return inspected("new-id", true, nil), nil
			}
			return container.InspectResponse{}, errNotFound{}
		},
		createFunc: func(_ context.Context, cfg *container.Config, host *container.HostConfig, _ *network.NetworkingConfig, _ *v1.Platform, name string) (container.CreateResponse, error) {
			created.Store(true)
			assert.Equal(t, "mcpgw-github", name)
			assert.Equal(t, "ghcr.io/github/github-mcp-server", cfg.Image)
			assert.Equal(t, []string{"A=1", "B=2"}, cfg.Env)
			assert.Equal(t, "true", cfg.Labels["mcpgw"])
			assert.Equal(t, "github", cfg.Labels["mcpgw.server"])
			assert.Equal(t, "streamable_http", cfg.Labels["mcpgw.transport"])
			assert.Equal(t, "alice", cfg.Labels["mcpgw.created-by"])
			assert.Equal(t, container.RestartPolicyMode("unless-stopped"), host.RestartPolicy.Name)

			port := nat.Port("8080/tcp")
			assert.Contains(t, cfg.ExposedPorts, port)
			require.Len(t, host.PortBindings[port], 1)
			assert.Equal(t, "18080", host.PortBindings[port][0].HostPort)
			assert.Equal(t, "127.0.0.1", host.PortBindings[port][0].HostIP)
			return container.CreateResponse{ID: "new-id"}, nil
		},
	}

	id, err := newTestManager(api).StartServer(t.Context(), &resources.ServerDefinition{
		Name:        "github",
		Transport:   resources.TransportStreamableHTTP,
		DockerImage: "ghcr.io/github/github-mcp-server",
		DockerPorts: map[string]int{"8080/tcp": 18080},
		Env:         map[string]string{"B": "2", "A": "1"},
		CreatedBy:   "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, "new-id", id)
	assert.True(t, created.Load())
}

func TestStartServer_PullsMissingImage(t *testing.T) {
	t.Parallel()

	var steps []string
	api := &fakeDockerAPI{
		inspectFunc: func(_ context.Context, id string) (container.InspectResponse, error) {
			if id == "new-id" {
				return inspected("new-id", true, nil), nil
			}
			return container.InspectResponse{}, errNotFound{}
		},
		imagesFunc: func(_ context.Context, opts image.ListOptions) ([]image.Summary, error) {
			assert.Equal(t, []string{"ghcr.io/example/fetch:1.0"}, opts.Filters.Get("reference"))
			return nil, nil
		},
		pullFunc: func(_ context.Context, ref string, _ image.PullOptions) (io.ReadCloser, error) {
			steps = append(steps, "pull "+ref)
			return io.NopCloser(strings.NewReader(`{"status":"Pulling fs layer","id":"abc"}` + "\n" +
				`{"status":"Status: Downloaded newer image for ghcr.io/example/fetch:1.0"}`)), nil
		},
		createFunc: func(context.Context, *container.Config, *container.HostConfig, *network.NetworkingConfig, *v1.Platform, string) (container.CreateResponse, error) {
			steps = append(steps, "create")
			return container.CreateResponse{ID: "new-id"}, nil
		},
	}

	id, err := newTestManager(api).StartServer(t.Context(), &resources.ServerDefinition{
		Name: "fetch", DockerImage: "ghcr.io/example/fetch:1.0",
	})
	require.NoError(t, err)
	assert.Equal(t, "new-id", id)
	assert.Equal(t, []string{"pull ghcr.io/example/fetch:1.0", "create"}, steps)
}

func TestStartServer_PullFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		pull func(context.Context, string, image.PullOptions) (io.ReadCloser, error)
	}{
		{
			name: "request rejected",
			pull: func(context.Context, string, image.PullOptions) (io.ReadCloser, error) {
				return nil, errors.New("pull access denied")
			},
		},
		{
			name: "error in progress stream",
			pull: func(context.Context, string, image.PullOptions) (io.ReadCloser, error) {
				return io.NopCloser(strings.NewReader(`{"errorDetail":{"message":"manifest unknown"},"error":"manifest unknown"}`)), nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			api := &fakeDockerAPI{
				imagesFunc: func(context.Context, image.ListOptions) ([]image.Summary, error) { return nil, nil },
				pullFunc:   tt.pull,
				createFunc: func(context.Context, *container.Config, *container.HostConfig, *network.NetworkingConfig, *v1.Platform, string) (container.CreateResponse, error) {
					t.Fatal("create must not be called")
					return container.CreateResponse{}, nil
				},
			}

			_, err := newTestManager(api).StartServer(t.Context(), &resources.ServerDefinition{
				Name: "fetch", DockerImage: "ghcr.io/example/fetch:missing",
			})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "failed to pull image")
		})
	}
}

func TestStartServer_NeverRunning(t *testing.T) {
	t.Parallel()

	api := &fakeDockerAPI{
		inspectFunc: func(_ context.Context, id string) (container.InspectResponse, error) {
			if id == "new-id" {
				return inspected("new-id", false, nil), nil
			}
			return container.InspectResponse{}, errNotFound{}
		},
		createFunc: func(context.Context, *container.Config, *container.HostConfig, *network.NetworkingConfig, *v1.Platform, string) (container.CreateResponse, error) {
			return container.CreateResponse{ID: "new-id"}, nil
		},
	}

	_, err := newTestManager(api).StartServer(t.Context(), &resources.ServerDefinition{
		Name: "crashy", DockerImage: "img",
	})
	require.ErrorIs(t, err, ErrNotRunning)
}

func TestStopServer(t *testing.T) {
	t.Parallel()

	t.Run("missing container is a no-op", func(t *testing.T) {
		t.Parallel()
		require.NoError(t, newTestManager(&fakeDockerAPI{}).StopServer(t.Context(), "gone"))
	})

	t.Run("stops then removes", func(t *testing.T) {
		t.Parallel()
		var calls []string
		api := &fakeDockerAPI{
			inspectFunc: func(context.Context, string) (container.InspectResponse, error) {
				return inspected("cid", true, nil), nil
			},
			stopFunc: func(_ context.Context, id string, _ container.StopOptions) error {
				calls = append(calls, "stop:"+id)
				return nil
			},
			removeFunc: func(_ context.Context, id string, _ container.RemoveOptions) error {
				calls = append(calls, "remove:"+id)
				return nil
			},
		}
		require.NoError(t, newTestManager(api).StopServer(t.Context(), "github"))
		assert.Equal(t, []string{"stop:cid", "remove:cid"}, calls)
	})

	t.Run("runtime failure", func(t *testing.T) {
		t.Parallel()
		api := &fakeDockerAPI{
			inspectFunc: func(context.Context, string) (container.InspectResponse, error) {
				return container.InspectResponse{}, errors.New("daemon down")
			},
		}
		require.Error(t, newTestManager(api).StopServer(t.Context(), "github"))
	})
}

func TestGetStatus(t *testing.T) {
	t.Parallel()

	st, err := newTestManager(&fakeDockerAPI{}).GetStatus(t.Context(), "github")
	require.NoError(t, err)
	assert.Equal(t, Status{Status: StatusNotFound}, st)

	api := &fakeDockerAPI{
		inspectFunc: func(context.Context, string) (container.InspectResponse, error) {
			return inspected("cid", true, map[string]string{"mcpgw.transport": "streamable_http"}), nil
		},
	}
	st, err = newTestManager(api).GetStatus(t.Context(), "github")
	require.NoError(t, err)
	assert.True(t, st.Running)
	assert.Equal(t, "cid", st.ContainerID)
	assert.Equal(t, "running", st.Status)
	assert.Equal(t, "streamable_http", st.Transport)
}

func TestGetLogs_Demultiplexes(t *testing.T) {
	t.Parallel()

	var stream bytes.Buffer
	_, err := stdcopy.NewStdWriter(&stream, stdcopy.Stdout).Write([]byte("listening on :8080\n"))
	require.NoError(t, err)
	_, err = stdcopy.NewStdWriter(&stream, stdcopy.Stderr).Write([]byte("warning: no token\n"))
	require.NoError(t, err)

	api := &fakeDockerAPI{
		logsFunc: func(_ context.Context, id string, opts container.LogsOptions) (io.ReadCloser, error) {
			assert.Equal(t, "mcpgw-github", id)
			assert.Equal(t, "100", opts.Tail)
			return io.NopCloser(&stream), nil
		},
	}

	out, err := newTestManager(api).GetLogs(t.Context(), "github", 0)
	require.NoError(t, err)
	assert.Equal(t, "listening on :8080\nwarning: no token\n", out)
}

func TestListServers(t *testing.T) {
	t.Parallel()

	created := time.Now().Add(-time.Hour).Unix()
	api := &fakeDockerAPI{
		listFunc: func(_ context.Context, opts container.ListOptions) ([]container.Summary, error) {
			assert.True(t, opts.All)
			assert.Equal(t, []string{"mcpgw=true"}, opts.Filters.Get("label"))
			return []container.Summary{
				{
					ID: "c2", Names: []string{"/mcpgw-zeta"}, Image: "z", State: "exited", Created: created,
					Labels: map[string]string{"mcpgw": "true", "mcpgw.server": "zeta", "mcpgw.transport": "streamable_http"},
				},
				{
					ID: "c1", Names: []string{"/mcpgw-alpha"}, Image: "a", State: "running", Created: created,
					Labels: map[string]string{"mcpgw": "true", "mcpgw.server": "alpha", "mcpgw.created-by": "bob"},
				},
				{ID: "x", Names: []string{"/other"}, Labels: map[string]string{"other": "true"}},
			}, nil
		},
	}

	got, err := newTestManager(api).ListServers(t.Context())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "mcpgw-alpha", got[0].Name)
	assert.Equal(t, "alpha", got[0].ServerName)
	assert.True(t, got[0].Running)
	assert.Equal(t, "bob", got[0].CreatedBy)
	assert.False(t, got[1].Running)
	assert.Equal(t, "streamable_http", got[1].Transport)
	assert.WithinDuration(t, time.Unix(created, 0), got[1].CreatedAt, time.Second)
}
