// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/stacklok/mcp-gateway/pkg/api/errors"
	"github.com/stacklok/mcp-gateway/pkg/connections"
	"github.com/stacklok/mcp-gateway/pkg/logger"
)

// SessionService lists and closes a user's backend sessions.
// *connections.Manager satisfies it.
type SessionService interface {
	Sessions(userID string) []connections.SessionInfo
	Disconnect(userID, serviceID string) bool
}

// TokenStore forgets stored OAuth credentials. *vault.Vault satisfies it.
type TokenStore interface {
	DeleteTokens(ctx context.Context, userID, serviceID string)
}

// ConnectionsRoutes defines the routes for the caller's own connections.
type ConnectionsRoutes struct {
	sessions SessionService
	tokens   TokenStore
}

// ConnectionsRouter creates a router over the caller's sessions.
func ConnectionsRouter(sessions SessionService, tokens TokenStore) http.Handler {
	routes := ConnectionsRoutes{sessions: sessions, tokens: tokens}

	r := chi.NewRouter()
	r.Get("/", apierrors.ErrorHandler(routes.list))
	r.Delete("/{service}", apierrors.ErrorHandler(routes.disconnect))
	return r
}

type connectionListResponse struct {
	Connections []connections.SessionInfo `json:"connections"`
}

type disconnectResponse struct {
	ServiceID    string `json:"service_id"`
	Disconnected bool   `json:"disconnected"`
}

func (c *ConnectionsRoutes) list(w http.ResponseWriter, r *http.Request) error {
	caller, err := callerFrom(r)
	if err != nil {
		return err
	}
	out := c.sessions.Sessions(caller.Subject)
	if out == nil {
		out = []connections.SessionInfo{}
	}
	return writeJSON(w, http.StatusOK, connectionListResponse{Connections: out})
}

// disconnect closes the caller's session and forgets its OAuth tokens, so
// the next use requires authorizing again.
//
//	@Summary		Disconnect a service
//	@Tags			connections
//	@Param			service	path		string	true	"Service name"
//	@Success		200		{object}	disconnectResponse
//	@Router			/api/v1/connections/{service} [delete]
func (c *ConnectionsRoutes) disconnect(w http.ResponseWriter, r *http.Request) error {
	caller, err := callerFrom(r)
	if err != nil {
		return err
	}
	service := chi.URLParam(r, "service")
	closed := c.sessions.Disconnect(caller.Subject, service)
	if c.tokens != nil {
		c.tokens.DeleteTokens(r.Context(), caller.Subject, service)
	}
	logger.Infof("Disconnected %s from %s", logger.Sanitize(caller.Subject), logger.Sanitize(service))
	return writeJSON(w, http.StatusOK, disconnectResponse{ServiceID: service, Disconnected: closed})
}
