// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/stacklok/toolhive-core/httperr"

	apierrors "github.com/stacklok/mcp-gateway/pkg/api/errors"
	"github.com/stacklok/mcp-gateway/pkg/logger"
	"github.com/stacklok/mcp-gateway/pkg/pool"
)

// PoolService exposes pool diagnostics. *connections.Manager satisfies it.
type PoolService interface {
	Status() pool.Status
	HealthCheck(ctx context.Context) pool.HealthReport
	Evict(key string) bool
}

// PoolRoutes defines the routes for pool diagnostics.
type PoolRoutes struct {
	pool PoolService
}

// PoolRouter creates a router for pool diagnostics, restricted to
// administrators.
func PoolRouter(p PoolService) http.Handler {
	routes := PoolRoutes{pool: p}

	r := chi.NewRouter()
	r.Use(requireAdmin)
	r.Get("/", apierrors.ErrorHandler(routes.getStatus))
	r.Post("/health-check", apierrors.ErrorHandler(routes.healthCheck))
	r.Delete("/", apierrors.ErrorHandler(routes.evictMissingName))
	r.Delete("/{name}", apierrors.ErrorHandler(routes.evict))
	return r
}

// getStatus
//
//	@Summary		Pool status
//	@Tags			pool
//	@Produce		json
//	@Success		200	{object}	pool.Status
//	@Router			/api/v1/pool [get]
func (p *PoolRoutes) getStatus(w http.ResponseWriter, _ *http.Request) error {
	return writeJSON(w, http.StatusOK, p.pool.Status())
}

// healthCheck
//
//	@Summary		Probe pooled sessions
//	@Description	Ping every pooled session and evict those that do not answer
//	@Tags			pool
//	@Produce		json
//	@Success		200	{object}	pool.HealthReport
//	@Router			/api/v1/pool/health-check [post]
func (p *PoolRoutes) healthCheck(w http.ResponseWriter, r *http.Request) error {
	report := p.pool.HealthCheck(r.Context())
	logger.Debugf("manual health check: checked=%d evicted=%d", report.Checked, report.Evicted)
	return writeJSON(w, http.StatusOK, report)
}

func (*PoolRoutes) evictMissingName(http.ResponseWriter, *http.Request) error {
	return badRequest("connection name is required")
}

// evict
//
//	@Summary		Evict a pooled session
//	@Tags			pool
//	@Param			name	path	string	true	"Pool key as listed by the status endpoint"
//	@Success		200		{object}	evictResponse
//	@Failure		400		{string}	string	"Bad Request"
//	@Failure		404		{string}	string	"Not Found"
//	@Router			/api/v1/pool/{name} [delete]
func (p *PoolRoutes) evict(w http.ResponseWriter, r *http.Request) error {
	name := chi.URLParam(r, "name")
	if name == "" {
		return badRequest("connection name is required")
	}
	if !p.pool.Evict(name) {
		return httperr.WithCode(fmt.Errorf("no pooled connection %q", name), http.StatusNotFound)
	}
	return writeJSON(w, http.StatusOK, evictResponse{Evicted: name})
}

type evictResponse struct {
	Evicted string `json:"evicted"`
}
