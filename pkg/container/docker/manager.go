// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package docker runs container-backed MCP servers on a Docker or Podman
// daemon. Containers are named by a fixed prefix plus the server name and
// carry mcpgw labels so they can be discovered again after a restart.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/stacklok/mcp-gateway/pkg/labels"
	"github.com/stacklok/mcp-gateway/pkg/logger"
	"github.com/stacklok/mcp-gateway/pkg/resources"
)

const (
	// DefaultNamePrefix is prepended to server names to form container names.
	DefaultNamePrefix = "mcpgw-"

	// StatusNotFound is reported by GetStatus when no container exists.
	StatusNotFound = "not_found"

	// DefaultLogTail is the number of log lines returned when none is requested.
	DefaultLogTail = 100

	restartPolicy = "unless-stopped"
	startTries    = 5
)

// dockerAPI is the subset of the Docker client the manager needs.
type dockerAPI interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *v1.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
}

// Status is the live state of one server's container.
type Status struct {
	Running     bool   `json:"running"`
	ContainerID string `json:"container_id,omitempty"`
	Status      string `json:"status"`
	Image       string `json:"image,omitempty"`
	Transport   string `json:"transport,omitempty"`
}

// ContainerRecord describes a managed container found in the runtime.
type ContainerRecord struct {
	Name        string    `json:"name"`
	ServerName  string    `json:"server_name"`
	ContainerID string    `json:"container_id"`
	Running     bool      `json:"running"`
	State       string    `json:"state"`
	Image       string    `json:"image"`
	Transport   string    `json:"transport"`
	CreatedBy   string    `json:"created_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Manager starts, stops and inspects server containers.
type Manager struct {
	api        dockerAPI
	namePrefix string
	retryDelay time.Duration
}

// NewManager connects to the runtime listening on socketPath, a UNIX socket
// or, on Windows, a named pipe.
func NewManager(ctx context.Context, socketPath, namePrefix string) (*Manager, error) {
	dockerClient, err := client.NewClientWithOpts(newPlatformClient(socketPath)...)
	if err != nil {
		return nil, NewContainerError(err, "", "failed to create client")
	}
	if _, err := dockerClient.Ping(ctx); err != nil {
		_ = dockerClient.Close()
		return nil, NewContainerError(ErrRuntimeNotFound, "", fmt.Sprintf("failed to ping %s: %v", socketPath, err))
	}
	logger.Debugf("Connected to container runtime at %s", socketPath)
	return newManagerWithAPI(dockerClient, namePrefix), nil
}

func newManagerWithAPI(api dockerAPI, namePrefix string) *Manager {
	if namePrefix == "" {
		namePrefix = DefaultNamePrefix
	}
	return &Manager{api: api, namePrefix: namePrefix, retryDelay: 200 * time.Millisecond}
}

// ContainerName derives the container name for a server.
func (m *Manager) ContainerName(serverName string) string {
	return m.namePrefix + serverName
}

// StartServer makes sure the server's container is running and returns its
// id. A running container is returned unchanged and a stopped one is started
// again; only when none exists is a new one created from def.DockerImage,
// pulling the image first if the runtime does not have it.
func (m *Manager) StartServer(ctx context.Context, def *resources.ServerDefinition) (string, error) {
	name := m.ContainerName(def.Name)

	info, err := m.api.ContainerInspect(ctx, name)
	switch {
	case err == nil:
		if info.State != nil && info.State.Running {
			logger.Debugf("Container %s already running", name)
			return info.ID, nil
		}
		logger.Infof("Starting existing container %s", name)
		if err := m.api.ContainerStart(ctx, info.ID, container.StartOptions{}); err != nil {
			return "", NewContainerError(err, info.ID, "failed to start existing container")
		}
		return info.ID, m.waitRunning(ctx, info.ID)
	case !client.IsErrNotFound(err):
		return "", NewContainerError(err, name, "failed to inspect container")
	}

	if def.DockerImage == "" {
		return "", NewContainerError(ErrMissingImage, "", def.Name)
	}

	config, hostConfig, err := m.buildConfig(def)
	if err != nil {
		return "", NewContainerError(err, "", "invalid port mapping")
	}

	if err := m.ensureImage(ctx, def.DockerImage); err != nil {
		return "", err
	}

	resp, err := m.api.ContainerCreate(ctx, config, hostConfig, &network.NetworkingConfig{}, nil, name)
	if err != nil {
		return "", NewContainerError(err, "", "failed to create container")
	}
	if err := m.api.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", NewContainerError(err, resp.ID, "failed to start container")
	}
	logger.Infof("Started container %s from %s", name, logger.Sanitize(def.DockerImage))
	return resp.ID, m.waitRunning(ctx, resp.ID)
}

// ensureImage pulls ref unless the runtime already has it.
func (m *Manager) ensureImage(ctx context.Context, ref string) error {
	images, err := m.api.ImageList(ctx, image.ListOptions{
		Filters: filters.NewArgs(filters.Arg("reference", ref)),
	})
	if err != nil {
		return NewContainerError(err, "", "failed to list images")
	}
	if len(images) > 0 {
		return nil
	}

	logger.Infof("Pulling image: %s", logger.Sanitize(ref))
	reader, err := m.api.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return NewContainerError(err, "", fmt.Sprintf("failed to pull image %s", ref))
	}
	defer func() {
		if err := reader.Close(); err != nil {
			logger.Debugf("Failed to close image pull stream: %v", err)
		}
	}()

	// the pull only finishes once the progress stream is consumed; errors
	// arrive inside it
	if err := jsonmessage.DisplayJSONMessagesStream(reader, io.Discard, 0, false, nil); err != nil {
		return NewContainerError(err, "", fmt.Sprintf("failed to pull image %s", ref))
	}
	return nil
}

func (m *Manager) buildConfig(def *resources.ServerDefinition) (*container.Config, *container.HostConfig, error) {
	lbls := map[string]string{}
	createdBy := def.CreatedBy
	if createdBy == "" {
		createdBy = "system"
	}
	labels.AddStandardLabels(lbls, def.Name, string(def.Transport), createdBy)

	config := &container.Config{
		Image:  def.DockerImage,
		Cmd:    def.Args,
		Env:    convertEnvVars(def.Env),
		Labels: lbls,
	}
	hostConfig := &container.HostConfig{
		RestartPolicy: container.RestartPolicy{Name: restartPolicy},
	}

	if len(def.DockerPorts) > 0 {
		config.ExposedPorts = nat.PortSet{}
		hostConfig.PortBindings = nat.PortMap{}
		for spec, hostPort := range def.DockerPorts {
			port, err := parsePort(spec)
			if err != nil {
				return nil, nil, err
			}
			config.ExposedPorts[port] = struct{}{}
			hostConfig.PortBindings[port] = []nat.PortBinding{{
				HostIP:   "127.0.0.1",
				HostPort: strconv.Itoa(hostPort),
			}}
		}
	}
	return config, hostConfig, nil
}

// parsePort accepts "8080" or "8080/tcp".
func parsePort(spec string) (nat.Port, error) {
	proto, port := "tcp", spec
	if p, pr, ok := strings.Cut(spec, "/"); ok {
		port, proto = p, pr
	}
	natPort, err := nat.NewPort(proto, port)
	if err != nil {
		return "", fmt.Errorf("failed to parse port %q: %w", spec, err)
	}
	return natPort, nil
}

func convertEnvVars(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	slices.Sort(out)
	return out
}

func (m *Manager) waitRunning(ctx context.Context, containerID string) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		info, err := m.api.ContainerInspect(ctx, containerID)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		if info.State == nil || !info.State.Running {
			return struct{}{}, ErrNotRunning
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(m.retryDelay)),
		backoff.WithMaxTries(startTries),
	)
	if err != nil {
		return NewContainerError(err, containerID, "container failed to start")
	}
	return nil
}

// StopServer stops and removes the server's container. A missing container
// is not an error.
func (m *Manager) StopServer(ctx context.Context, serverName string) error {
	name := m.ContainerName(serverName)
	info, err := m.api.ContainerInspect(ctx, name)
	if client.IsErrNotFound(err) {
		logger.Warnf("No container %s to stop", logger.Sanitize(name))
		return nil
	}
	if err != nil {
		return NewContainerError(err, name, "failed to inspect container")
	}

	timeout := 10
	if err := m.api.ContainerStop(ctx, info.ID, container.StopOptions{Timeout: &timeout}); err != nil && !client.IsErrNotFound(err) {
		return NewContainerError(err, info.ID, "failed to stop container")
	}
	if err := m.api.ContainerRemove(ctx, info.ID, container.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
		return NewContainerError(err, info.ID, "failed to remove container")
	}
	logger.Infof("Stopped container %s", name)
	return nil
}

// GetStatus reports the state of the server's container.
func (m *Manager) GetStatus(ctx context.Context, serverName string) (Status, error) {
	info, err := m.api.ContainerInspect(ctx, m.ContainerName(serverName))
	if client.IsErrNotFound(err) {
		return Status{Status: StatusNotFound}, nil
	}
	if err != nil {
		return Status{}, NewContainerError(err, serverName, "failed to inspect container")
	}

	st := Status{ContainerID: info.ID}
	if info.State != nil {
		st.Running = info.State.Running
		st.Status = string(info.State.Status)
	}
	if info.Config != nil {
		st.Image = info.Config.Image
		st.Transport = labels.GetTransport(info.Config.Labels)
	}
	return st, nil
}

// GetLogs returns the last tail lines of combined stdout and stderr.
func (m *Manager) GetLogs(ctx context.Context, serverName string, tail int) (string, error) {
	if tail <= 0 {
		tail = DefaultLogTail
	}
	name := m.ContainerName(serverName)
	rc, err := m.api.ContainerLogs(ctx, name, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(tail),
	})
	if client.IsErrNotFound(err) {
		return "", NewContainerError(ErrContainerNotFound, name, "")
	}
	if err != nil {
		return "", NewContainerError(err, name, "failed to get logs")
	}
	defer rc.Close()

	// containers run without a TTY, so the stream is multiplexed
	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, rc); err != nil {
		return "", NewContainerError(err, name, "failed to read logs")
	}
	return buf.String(), nil
}

// ListServers returns every container carrying the mcpgw label.
func (m *Manager) ListServers(ctx context.Context) ([]ContainerRecord, error) {
	filterArgs := filters.NewArgs()
	filterArgs.Add("label", labels.FormatServerFilter())

	containers, err := m.api.ContainerList(ctx, container.ListOptions{All: true, Filters: filterArgs})
	if err != nil {
		return nil, NewContainerError(err, "", "failed to list containers")
	}

	out := make([]ContainerRecord, 0, len(containers))
	for _, c := range containers {
		if !labels.IsManagedContainer(c.Labels) {
			continue
		}
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		out = append(out, ContainerRecord{
			Name:        name,
			ServerName:  labels.GetServerName(c.Labels),
			ContainerID: c.ID,
			Running:     c.State == "running",
			State:       string(c.State),
			Image:       c.Image,
			Transport:   labels.GetTransport(c.Labels),
			CreatedBy:   labels.GetCreatedBy(c.Labels),
			CreatedAt:   time.Unix(c.Created, 0),
		})
	}
	slices.SortFunc(out, func(a, b ContainerRecord) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}
