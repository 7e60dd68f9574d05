// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/stacklok/mcp-gateway/pkg/api/errors"
	"github.com/stacklok/mcp-gateway/pkg/logger"
)

// GatewaySettings are the entry point settings that change at runtime.
// *router.Router satisfies it.
type GatewaySettings interface {
	Reconfigure(token string) error
	SetEnabled(enabled bool)
	Enabled() bool
	BearerEnabled() bool
	BasePath() string
}

// SettingsRoutes defines the routes for runtime settings.
type SettingsRoutes struct {
	gateway GatewaySettings
}

// SettingsRouter creates a router for runtime settings. Every route is
// restricted to administrators.
func SettingsRouter(gateway GatewaySettings) http.Handler {
	routes := SettingsRoutes{gateway: gateway}

	r := chi.NewRouter()
	r.Use(requireAdmin)
	r.Get("/", apierrors.ErrorHandler(routes.get))
	r.Put("/path-token", apierrors.ErrorHandler(routes.setPathToken))
	r.Put("/enabled", apierrors.ErrorHandler(routes.setEnabled))
	return r
}

type settingsResponse struct {
	Enabled       bool   `json:"enabled"`
	BearerEnabled bool   `json:"bearer_enabled"`
	BasePath      string `json:"base_path"`
}

type pathTokenRequest struct {
	Token string `json:"token"`
}

type enabledRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *SettingsRoutes) snapshot() settingsResponse {
	return settingsResponse{
		Enabled:       s.gateway.Enabled(),
		BearerEnabled: s.gateway.BearerEnabled(),
		BasePath:      s.gateway.BasePath(),
	}
}

func (s *SettingsRoutes) get(w http.ResponseWriter, _ *http.Request) error {
	return writeJSON(w, http.StatusOK, s.snapshot())
}

// setPathToken rotates the shared path token. Clients holding the old
// token are rejected from the next request on.
//
//	@Summary		Rotate the path token
//	@Tags			settings
//	@Accept			json
//	@Produce		json
//	@Param			request	body		pathTokenRequest	true	"New token"
//	@Success		200		{object}	settingsResponse
//	@Failure		400		{string}	string	"Bad Request"
//	@Router			/api/v1/settings/path-token [put]
func (s *SettingsRoutes) setPathToken(w http.ResponseWriter, r *http.Request) error {
	var req pathTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if err := s.gateway.Reconfigure(req.Token); err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, s.snapshot())
}

func (s *SettingsRoutes) setEnabled(w http.ResponseWriter, r *http.Request) error {
	var req enabledRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if req.Enabled == nil {
		return badRequest("enabled is required")
	}
	s.gateway.SetEnabled(*req.Enabled)
	logger.Infof("MCP gateway enabled=%t", *req.Enabled)
	return writeJSON(w, http.StatusOK, s.snapshot())
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, err := callerFrom(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		if !isAdmin(caller) {
			http.Error(w, "administrator role required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
