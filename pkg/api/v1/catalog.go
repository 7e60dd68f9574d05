// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stacklok/toolhive-core/httperr"

	apierrors "github.com/stacklok/mcp-gateway/pkg/api/errors"
	"github.com/stacklok/mcp-gateway/pkg/catalog"
	"github.com/stacklok/mcp-gateway/pkg/logger"
	"github.com/stacklok/mcp-gateway/pkg/resources"
)

// CatalogRoutes defines the routes for catalog import.
type CatalogRoutes struct {
	servers resources.Store
	now     func() time.Time
}

// CatalogRouter creates a router that browses catalog files and installs
// entries into servers.
func CatalogRouter(servers resources.Store) http.Handler {
	routes := CatalogRoutes{servers: servers, now: time.Now}

	r := chi.NewRouter()
	r.Post("/browse", apierrors.ErrorHandler(routes.browse))
	r.Post("/install", apierrors.ErrorHandler(routes.install))
	return r
}

type browseResponse struct {
	Servers []catalog.Entry `json:"servers"`
}

// browse parses a catalog document sent as the raw request body.
//
//	@Summary		Browse a catalog
//	@Tags			catalog
//	@Accept			application/yaml
//	@Produce		json
//	@Success		200	{object}	browseResponse
//	@Failure		400	{string}	string	"Bad Request"
//	@Router			/api/v1/catalog/browse [post]
func (*CatalogRoutes) browse(w http.ResponseWriter, r *http.Request) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return badRequest("failed to read request body")
	}
	if len(data) == 0 {
		return badRequest("catalog YAML is required")
	}
	entries, err := catalog.Parse(data)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, browseResponse{Servers: entries})
}

// install
//
//	@Summary		Install a catalog entry
//	@Tags			catalog
//	@Accept			json
//	@Produce		json
//	@Param			request	body		catalog.Entry	true	"Catalog entry"
//	@Success		201		{object}	resources.ServerDefinition
//	@Failure		400		{string}	string	"Bad Request"
//	@Failure		403		{string}	string	"Forbidden"
//	@Router			/api/v1/catalog/install [post]
func (c *CatalogRoutes) install(w http.ResponseWriter, r *http.Request) error {
	caller, err := callerFrom(r)
	if err != nil {
		return err
	}
	var entry catalog.Entry
	if err := decodeJSON(r, &entry); err != nil {
		return err
	}
	def, err := catalog.ToServerDefinition(entry, caller.Subject)
	if err != nil {
		return err
	}
	if err := upsertOwned(r.Context(), c.servers, caller.Subject, caller.Roles, def, c.now()); err != nil {
		return err
	}
	logger.Infof("Installed catalog entry %s as %s", logger.Sanitize(entry.Name), def.Name)
	return writeJSON(w, http.StatusCreated, def)
}

// upsertOwned stores def unless a definition with the same name exists that
// the caller may not write.
func upsertOwned(
	ctx context.Context, servers resources.Store, userID string, roles []string, def *resources.ServerDefinition, now time.Time,
) error {
	prev, err := servers.Get(ctx, def.Name)
	switch {
	case errors.Is(err, resources.ErrNotFound):
		prev = nil
	case err != nil:
		return err
	case !prev.CanAccess(userID, roles, resources.OperationWrite):
		return httperr.WithCode(fmt.Errorf("server %s exists and is owned by someone else", def.Name), http.StatusForbidden)
	default:
		def.CreatedBy = prev.CreatedBy
	}
	resources.Stamp(def, prev, now)
	return servers.Upsert(ctx, def)
}
