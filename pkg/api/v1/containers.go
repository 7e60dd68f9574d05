// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/stacklok/toolhive-core/httperr"

	apierrors "github.com/stacklok/mcp-gateway/pkg/api/errors"
	"github.com/stacklok/mcp-gateway/pkg/container/docker"
	"github.com/stacklok/mcp-gateway/pkg/resources"
)

// ContainerService manages server containers. *docker.Manager satisfies it.
type ContainerService interface {
	ListServers(ctx context.Context) ([]docker.ContainerRecord, error)
	StartServer(ctx context.Context, def *resources.ServerDefinition) (string, error)
	StopServer(ctx context.Context, serverName string) error
	GetStatus(ctx context.Context, serverName string) (docker.Status, error)
	GetLogs(ctx context.Context, serverName string, tail int) (string, error)
}

// ContainersRoutes defines the routes for managed containers.
type ContainersRoutes struct {
	containers ContainerService
	servers    resources.Store
}

// ContainersRouter creates a router for managed containers, restricted to
// administrators.
func ContainersRouter(containers ContainerService, servers resources.Store) http.Handler {
	routes := ContainersRoutes{containers: containers, servers: servers}

	r := chi.NewRouter()
	r.Use(requireAdmin)
	r.Get("/", apierrors.ErrorHandler(routes.list))
	r.Get("/{name}", apierrors.ErrorHandler(routes.status))
	r.Get("/{name}/logs", apierrors.ErrorHandler(routes.logs))
	r.Post("/{name}/start", apierrors.ErrorHandler(routes.start))
	r.Post("/{name}/stop", apierrors.ErrorHandler(routes.stop))
	return r
}

type containerListResponse struct {
	Containers []docker.ContainerRecord `json:"containers"`
}

type startResponse struct {
	Server      string `json:"server"`
	ContainerID string `json:"container_id"`
}

func (c *ContainersRoutes) list(w http.ResponseWriter, r *http.Request) error {
	records, err := c.containers.ListServers(r.Context())
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, containerListResponse{Containers: records})
}

func (c *ContainersRoutes) status(w http.ResponseWriter, r *http.Request) error {
	st, err := c.containers.GetStatus(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, st)
}

// logs
//
//	@Summary		Container logs
//	@Tags			containers
//	@Produce		text/plain
//	@Param			name	path		string	true	"Server name"
//	@Param			tail	query		int		false	"Number of lines (default 100)"
//	@Success		200		{string}	string
//	@Failure		404		{string}	string	"Not Found"
//	@Router			/api/v1/containers/{name}/logs [get]
func (c *ContainersRoutes) logs(w http.ResponseWriter, r *http.Request) error {
	tail := docker.DefaultLogTail
	if v := r.URL.Query().Get("tail"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return badRequest("tail must be a positive integer")
		}
		tail = n
	}
	out, err := c.containers.GetLogs(r.Context(), chi.URLParam(r, "name"), tail)
	if errors.Is(err, docker.ErrContainerNotFound) {
		return httperr.WithCode(err, http.StatusNotFound)
	}
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, err = w.Write([]byte(out))
	return err
}

func (c *ContainersRoutes) start(w http.ResponseWriter, r *http.Request) error {
	name := chi.URLParam(r, "name")
	def, err := c.servers.Get(r.Context(), name)
	if err != nil {
		return err
	}
	if !def.IsContainerBacked() {
		return badRequest(fmt.Sprintf("server %s is not container-backed", name))
	}
	id, err := c.containers.StartServer(r.Context(), def)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, startResponse{Server: name, ContainerID: id})
}

func (c *ContainersRoutes) stop(w http.ResponseWriter, r *http.Request) error {
	if err := c.containers.StopServer(r.Context(), chi.URLParam(r, "name")); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}
