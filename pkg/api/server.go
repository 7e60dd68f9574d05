// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package api contains the admin REST API of the MCP gateway.
package api

// The OpenAPI spec is generated using "github.com/swaggo/swag/v2/cmd/swag@v2.0.0-rc4"
//	swag init -g pkg/api/server.go --v3.1 -o docs/server

// @title           MCP Gateway Admin API
// @version         1.0
// @description     Manage servers, connections and the connection pool of the MCP gateway.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	v1 "github.com/stacklok/mcp-gateway/pkg/api/v1"
	"github.com/stacklok/mcp-gateway/pkg/auth"
	"github.com/stacklok/mcp-gateway/pkg/connections"
	"github.com/stacklok/mcp-gateway/pkg/logger"
	"github.com/stacklok/mcp-gateway/pkg/resources"
)

const (
	middlewareTimeout = 60 * time.Second
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
	socketPermissions = 0660
	// MaxRequestBodySize bounds every admin API request body.
	MaxRequestBodySize = 1 << 20
)

// PoolAndSessions is the part of the connection manager the API uses.
type PoolAndSessions interface {
	v1.PoolService
	v1.SessionService
}

// Gateway is the part of the MCP gateway the API uses.
type Gateway interface {
	v1.Mounter
	v1.GatewaySettings
}

// Deps are the services behind the admin API. Containers, OAuth and
// Metrics are optional; their routes are not mounted when nil.
type Deps struct {
	Servers     resources.Store
	Connections PoolAndSessions
	Gateway     Gateway
	Tokens      v1.TokenStore
	OAuth       v1.OAuthFlow
	Containers  v1.ContainerService
	Pingers     []v1.Pinger
	Metrics     http.Handler
	// Authenticate validates bearer tokens. When nil every caller acts as
	// the system administrator, which is only safe on a loopback or socket
	// listener.
	Authenticate func(http.Handler) http.Handler
}

// SystemIdentity is the caller injected when the admin API runs without
// inbound authentication.
func SystemIdentity() *auth.Identity {
	return &auth.Identity{
		Subject: connections.SystemUser,
		Name:    "Gateway administrator",
		Roles:   []string{resources.AdminRole},
	}
}

func systemIdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), SystemIdentity())))
	})
}

func headersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			w.Header().Set("Content-Type", "application/json")
		}
		next.ServeHTTP(w, r)
	})
}

// bodySizeResponseWriter turns the 400 a handler writes after hitting the
// MaxBytesReader limit into a 413.
type bodySizeResponseWriter struct {
	http.ResponseWriter
	body *limitedBody
}

func (w *bodySizeResponseWriter) WriteHeader(status int) {
	if status == http.StatusBadRequest && w.body.exceeded {
		status = http.StatusRequestEntityTooLarge
	}
	w.ResponseWriter.WriteHeader(status)
}

type limitedBody struct {
	rc       io.ReadCloser
	exceeded bool
}

func (b *limitedBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		b.exceeded = true
	}
	return n, err
}

func (b *limitedBody) Close() error { return b.rc.Close() }

func requestBodySizeLimitMiddleware(maxSize int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxSize {
				http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
				return
			}
			body := &limitedBody{rc: http.MaxBytesReader(w, r.Body, maxSize)}
			r.Body = body
			next.ServeHTTP(&bodySizeResponseWriter{ResponseWriter: w, body: body}, r)
		})
	}
}

// NewHandler builds the admin API router.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Timeout(middlewareTimeout),
		headersMiddleware,
		requestBodySizeLimitMiddleware(MaxRequestBodySize),
	)

	r.Mount("/health", v1.HealthcheckRouter(deps.Pingers...))
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	authenticate := deps.Authenticate
	if authenticate == nil {
		authenticate = systemIdentityMiddleware
	}

	r.Group(func(r chi.Router) {
		r.Use(authenticate)

		routers := map[string]http.Handler{
			"/api/v1/version":     v1.VersionRouter(),
			"/api/v1/servers":     v1.ServersRouter(deps.Servers, deps.Gateway),
			"/api/v1/catalog":     v1.CatalogRouter(deps.Servers),
			"/api/v1/pool":        v1.PoolRouter(deps.Connections),
			"/api/v1/connections": v1.ConnectionsRouter(deps.Connections, deps.Tokens),
			"/api/v1/settings":    v1.SettingsRouter(deps.Gateway),
		}
		if deps.OAuth != nil {
			routers["/api/v1/oauth"] = v1.OAuthRouter(deps.OAuth, deps.Servers)
		}
		if deps.Containers != nil {
			routers["/api/v1/containers"] = v1.ContainersRouter(deps.Containers, deps.Servers)
		}
		for prefix, router := range routers {
			r.Mount(prefix, router)
		}
	})
	return r
}

// Listen opens a TCP listener on address, or a UNIX socket when socket is
// set.
func Listen(address, socket string) (net.Listener, error) {
	if socket == "" {
		return net.Listen("tcp", address)
	}
	if _, err := os.Stat(socket); err == nil {
		if err := os.Remove(socket); err != nil {
			return nil, fmt.Errorf("failed to remove existing socket: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(socket), 0750); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}
	l, err := net.Listen("unix", socket)
	if err != nil {
		return nil, fmt.Errorf("failed to create UNIX socket listener: %w", err)
	}
	if err := os.Chmod(socket, socketPermissions); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("failed to set socket permissions: %w", err)
	}
	return l, nil
}

// Serve serves handler on l until ctx is cancelled, then shuts down
// gracefully. The caller sets up signal handling.
func Serve(ctx context.Context, name string, l net.Listener, handler http.Handler) error {
	srv := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("starting %s server on %s", name, l.Addr())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("%s server stopped: %w", name, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s server shutdown failed: %w", name, err)
	}
	if l.Addr().Network() == "unix" {
		if err := os.Remove(l.Addr().String()); err != nil && !os.IsNotExist(err) {
			logger.Warnf("failed to remove socket file: %v", err)
		}
	}
	logger.Infof("%s server stopped", name)
	return nil
}
