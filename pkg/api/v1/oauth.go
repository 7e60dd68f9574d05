// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/stacklok/toolhive-core/httperr"

	apierrors "github.com/stacklok/mcp-gateway/pkg/api/errors"
	"github.com/stacklok/mcp-gateway/pkg/auth/oauth"
	gwerrors "github.com/stacklok/mcp-gateway/pkg/errors"
	"github.com/stacklok/mcp-gateway/pkg/logger"
	"github.com/stacklok/mcp-gateway/pkg/resources"
)

// OAuthFlow runs authorization-code grants against backend servers.
// *oauth.Flow satisfies it.
type OAuthFlow interface {
	Start(ctx context.Context, userID string, def *resources.ServerDefinition) (*oauth.StartResult, error)
	Complete(ctx context.Context, state, code string) (*oauth.State, error)
}

// Mounter registers a server's tools once a user authorizes it.
type Mounter interface {
	Mount(ctx context.Context, userID, name string) (int, error)
	Unmount(name string)
}

// OAuthRoutes defines the routes that connect users to OAuth-protected
// backend servers.
type OAuthRoutes struct {
	flow    OAuthFlow
	servers resources.Store
	mounter Mounter
}

// OAuthRouter creates the admin API router for starting authorization.
func OAuthRouter(flow OAuthFlow, servers resources.Store) http.Handler {
	routes := OAuthRoutes{flow: flow, servers: servers}

	r := chi.NewRouter()
	r.Post("/start", apierrors.ErrorHandler(routes.start))
	return r
}

// CallbackHandler serves oauth.CallbackPath on the MCP listener. When
// mounter is set, the server is mounted for the user after a successful
// exchange.
func CallbackHandler(flow OAuthFlow, mounter Mounter) http.Handler {
	routes := OAuthRoutes{flow: flow, mounter: mounter}
	return http.HandlerFunc(routes.callback)
}

type startRequest struct {
	ServiceID string `json:"service_id"`
}

// start
//
//	@Summary		Start OAuth for a service
//	@Description	Returns the authorization URL the user must visit
//	@Tags			oauth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		startRequest	true	"Service to connect"
//	@Success		200		{object}	oauth.StartResult
//	@Failure		400		{string}	string	"Bad Request"
//	@Failure		401		{string}	string	"Unauthorized"
//	@Failure		404		{string}	string	"Not Found"
//	@Router			/api/v1/oauth/start [post]
func (o *OAuthRoutes) start(w http.ResponseWriter, r *http.Request) error {
	caller, err := callerFrom(r)
	if err != nil {
		return err
	}
	var req startRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if req.ServiceID == "" {
		return badRequest("service_id is required")
	}

	def, err := o.servers.Get(r.Context(), req.ServiceID)
	if errors.Is(err, resources.ErrNotFound) || (err == nil && !def.CanAccess(caller.Subject, caller.Roles, resources.OperationRead)) {
		return httperr.WithCode(fmt.Errorf("service %s not found", req.ServiceID), http.StatusNotFound)
	}
	if err != nil {
		return err
	}
	if def.Transport != resources.TransportStreamableHTTP {
		return badRequest(fmt.Sprintf("service %s does not use streamable_http", def.Name))
	}

	res, err := o.flow.Start(r.Context(), caller.Subject, def)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, res)
}

func (o *OAuthRoutes) callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		logger.Warnf("Authorization server returned error %s", logger.Sanitize(e))
		writeCallbackPage(w, http.StatusBadRequest, "Authorization was not granted: "+e)
		return
	}

	st, err := o.flow.Complete(r.Context(), q.Get("state"), q.Get("code"))
	if err != nil {
		code := gwerrors.Code(err)
		if code >= http.StatusInternalServerError {
			logger.Errorf("OAuth callback failed: %v", err)
			writeCallbackPage(w, code, "Authorization failed.")
			return
		}
		writeCallbackPage(w, code, err.Error())
		return
	}

	if o.mounter != nil {
		if n, err := o.mounter.Mount(r.Context(), st.UserID, st.ServiceID); err != nil {
			logger.Warnf("Failed to mount %s after authorization: %v", logger.Sanitize(st.ServiceID), err)
		} else {
			logger.Debugf("Mounted %d tools of %s", n, logger.Sanitize(st.ServiceID))
		}
	}
	writeCallbackPage(w, http.StatusOK, fmt.Sprintf("Connected %s. You can close this window.", st.ServiceID))
}

func writeCallbackPage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, "<!doctype html><title>MCP Gateway</title><p>%s</p>\n", html.EscapeString(message))
}
