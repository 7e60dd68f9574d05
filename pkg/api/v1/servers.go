// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stacklok/toolhive-core/httperr"

	apierrors "github.com/stacklok/mcp-gateway/pkg/api/errors"
	"github.com/stacklok/mcp-gateway/pkg/auth"
	"github.com/stacklok/mcp-gateway/pkg/logger"
	"github.com/stacklok/mcp-gateway/pkg/resources"
)

// ServersRoutes defines the routes for server definitions.
type ServersRoutes struct {
	servers resources.Store
	mounter Mounter
	now     func() time.Time
}

// ServersRouter creates a router for server definitions. Changes to a
// definition unmount its tools so the next mount picks them up.
func ServersRouter(servers resources.Store, mounter Mounter) http.Handler {
	routes := ServersRoutes{servers: servers, mounter: mounter, now: time.Now}

	r := chi.NewRouter()
	r.Get("/", apierrors.ErrorHandler(routes.list))
	r.Post("/", apierrors.ErrorHandler(routes.create))
	r.Get("/{name}", apierrors.ErrorHandler(routes.get))
	r.Put("/{name}", apierrors.ErrorHandler(routes.update))
	r.Delete("/{name}", apierrors.ErrorHandler(routes.delete))
	r.Post("/{name}/mount", apierrors.ErrorHandler(routes.mount))
	r.Post("/{name}/unmount", apierrors.ErrorHandler(routes.unmount))
	return r
}

type serverListResponse struct {
	Servers []*resources.ServerDefinition `json:"servers"`
}

type mountResponse struct {
	Server    string `json:"server"`
	ToolCount int    `json:"tool_count"`
}

func notFound(name string) error {
	return httperr.WithCode(fmt.Errorf("server %s not found", name), http.StatusNotFound)
}

// lookup returns the named definition when caller may perform op on it.
// Definitions the caller cannot read are reported as missing.
func (s *ServersRoutes) lookup(r *http.Request, caller *auth.Identity, op resources.Operation) (*resources.ServerDefinition, error) {
	name := chi.URLParam(r, "name")
	def, err := s.servers.Get(r.Context(), name)
	if errors.Is(err, resources.ErrNotFound) {
		return nil, notFound(name)
	}
	if err != nil {
		return nil, err
	}
	if !def.CanAccess(caller.Subject, caller.Roles, resources.OperationRead) {
		return nil, notFound(name)
	}
	if !def.CanAccess(caller.Subject, caller.Roles, op) {
		return nil, httperr.WithCode(fmt.Errorf("not allowed to modify server %s", name), http.StatusForbidden)
	}
	return def, nil
}

// list
//
//	@Summary		List servers
//	@Description	List the server definitions visible to the caller
//	@Tags			servers
//	@Produce		json
//	@Success		200	{object}	serverListResponse
//	@Router			/api/v1/servers [get]
func (s *ServersRoutes) list(w http.ResponseWriter, r *http.Request) error {
	caller, err := callerFrom(r)
	if err != nil {
		return err
	}
	all, err := s.servers.ListAll(r.Context())
	if err != nil {
		return err
	}
	visible := make([]*resources.ServerDefinition, 0, len(all))
	for _, d := range all {
		if d.CanAccess(caller.Subject, caller.Roles, resources.OperationRead) {
			visible = append(visible, d)
		}
	}
	resources.SortByName(visible)
	return writeJSON(w, http.StatusOK, serverListResponse{Servers: visible})
}

// create
//
//	@Summary		Create a server
//	@Tags			servers
//	@Accept			json
//	@Produce		json
//	@Param			request	body		resources.ServerDefinition	true	"Server definition"
//	@Success		201		{object}	resources.ServerDefinition
//	@Failure		400		{string}	string	"Bad Request"
//	@Failure		403		{string}	string	"Forbidden"
//	@Failure		409		{string}	string	"Conflict"
//	@Router			/api/v1/servers [post]
func (s *ServersRoutes) create(w http.ResponseWriter, r *http.Request) error {
	caller, err := callerFrom(r)
	if err != nil {
		return err
	}
	if !isAdmin(caller) {
		return httperr.WithCode(errors.New("administrator role required"), http.StatusForbidden)
	}
	var def resources.ServerDefinition
	if err := decodeJSON(r, &def); err != nil {
		return err
	}
	if err := def.Validate(); err != nil {
		return err
	}
	_, err = s.servers.Get(r.Context(), def.Name)
	switch {
	case err == nil:
		return httperr.WithCode(fmt.Errorf("server %s already exists", def.Name), http.StatusConflict)
	case !errors.Is(err, resources.ErrNotFound):
		return err
	}

	def.CreatedBy = caller.Subject
	def.CreatedAt = time.Time{}
	resources.Stamp(&def, nil, s.now())
	if err := s.servers.Upsert(r.Context(), &def); err != nil {
		return err
	}
	logger.Infof("Created server %s", def.Name)
	return writeJSON(w, http.StatusCreated, &def)
}

func (s *ServersRoutes) get(w http.ResponseWriter, r *http.Request) error {
	caller, err := callerFrom(r)
	if err != nil {
		return err
	}
	def, err := s.lookup(r, caller, resources.OperationRead)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, def)
}

// update replaces a definition. The name in the path wins over the body and
// the creator cannot be changed.
func (s *ServersRoutes) update(w http.ResponseWriter, r *http.Request) error {
	caller, err := callerFrom(r)
	if err != nil {
		return err
	}
	prev, err := s.lookup(r, caller, resources.OperationWrite)
	if err != nil {
		return err
	}
	var def resources.ServerDefinition
	if err := decodeJSON(r, &def); err != nil {
		return err
	}
	def.Name = prev.Name
	def.CreatedBy = prev.CreatedBy
	if err := def.Validate(); err != nil {
		return err
	}
	resources.Stamp(&def, prev, s.now())
	if err := s.servers.Upsert(r.Context(), &def); err != nil {
		return err
	}
	if s.mounter != nil {
		s.mounter.Unmount(def.Name)
	}
	return writeJSON(w, http.StatusOK, &def)
}

func (s *ServersRoutes) delete(w http.ResponseWriter, r *http.Request) error {
	caller, err := callerFrom(r)
	if err != nil {
		return err
	}
	def, err := s.lookup(r, caller, resources.OperationWrite)
	if err != nil {
		return err
	}
	if err := s.servers.Delete(r.Context(), def.Name); err != nil {
		return err
	}
	if s.mounter != nil {
		s.mounter.Unmount(def.Name)
	}
	logger.Infof("Deleted server %s", def.Name)
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// mount
//
//	@Summary		Mount a server's tools
//	@Description	Connect as the caller and register the server's tools on the gateway
//	@Tags			servers
//	@Produce		json
//	@Param			name	path		string	true	"Server name"
//	@Success		200		{object}	mountResponse
//	@Failure		401		{string}	string	"Unauthorized"
//	@Failure		404		{string}	string	"Not Found"
//	@Failure		502		{string}	string	"Bad Gateway"
//	@Router			/api/v1/servers/{name}/mount [post]
func (s *ServersRoutes) mount(w http.ResponseWriter, r *http.Request) error {
	caller, err := callerFrom(r)
	if err != nil {
		return err
	}
	def, err := s.lookup(r, caller, resources.OperationRead)
	if err != nil {
		return err
	}
	if s.mounter == nil {
		return httperr.WithCode(errors.New("gateway is not available"), http.StatusServiceUnavailable)
	}
	n, err := s.mounter.Mount(r.Context(), caller.Subject, def.Name)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, mountResponse{Server: def.Name, ToolCount: n})
}

func (s *ServersRoutes) unmount(w http.ResponseWriter, r *http.Request) error {
	caller, err := callerFrom(r)
	if err != nil {
		return err
	}
	def, err := s.lookup(r, caller, resources.OperationWrite)
	if err != nil {
		return err
	}
	if s.mounter != nil {
		s.mounter.Unmount(def.Name)
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}
