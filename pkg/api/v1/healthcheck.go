// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/mcp-gateway/pkg/versions"
)

// Pinger is a dependency the gateway needs to be healthy.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthcheckRouter sets up the health route. Every pinger must answer for
// the gateway to report healthy.
func HealthcheckRouter(pingers ...Pinger) http.Handler {
	routes := &healthcheckRoutes{pingers: pingers}
	r := chi.NewRouter()
	r.Get("/", routes.getHealthcheck)
	return r
}

type healthcheckRoutes struct {
	pingers []Pinger
}

//	 getHealthcheck
//		@Summary		Health check
//		@Tags			system
//		@Success		204	{string}	string	"No Content"
//		@Failure		503	{string}	string	"Service Unavailable"
//		@Router			/health [get]
func (h *healthcheckRoutes) getHealthcheck(w http.ResponseWriter, r *http.Request) {
	for _, p := range h.pingers {
		if err := p.Ping(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// VersionRouter serves build information.
func VersionRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		_ = writeJSON(w, http.StatusOK, versions.GetVersionInfo())
	})
	return r
}
