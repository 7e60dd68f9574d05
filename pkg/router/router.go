// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package router is the gateway's single inbound MCP entry point. It serves
// path-token and bearer-token clients on one listener and can rotate the
// path token without restarting.
//
// Accepted paths, relative to the configured prefix (default /mcp):
//
//	/t-<token>/sse, /t-<token>/messages/   SSE transport (path token)
//	/t-<token>/http                        streamable HTTP (path token)
//	/http                                  streamable HTTP (bearer, when configured)
//	/t-<other>/http                        as /http; a non-matching token is ignored
//
// A /p-<project>/ segment may appear anywhere in the path. It is removed
// before routing and made available through ProjectFromContext.
package router

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stacklok/mcp-gateway/pkg/errors"
	"github.com/stacklok/mcp-gateway/pkg/identity"
	"github.com/stacklok/mcp-gateway/pkg/logger"
	"github.com/stacklok/mcp-gateway/pkg/ratelimit"
)

// DefaultPrefix is where the router is mounted on the listener.
const DefaultPrefix = "/mcp"

// Responses written by the router itself.
const (
	ForbiddenMessage = "MCP forbidden"
	DisabledMessage  = "MCP server is disabled in settings."
)

// Route is the outcome of classifying one request.
type Route string

// Routes reported to the Observer.
const (
	RouteSSE         Route = "sse"
	RouteHTTP        Route = "http"
	RouteBearer      Route = "bearer"
	RoutePassthrough Route = "passthrough"
	RouteForbidden   Route = "forbidden"
	RouteDisabled    Route = "disabled"
	RouteRateLimited Route = "rate_limited"
)

var (
	projectSegment = regexp.MustCompile(`/p-([^/]+)/`)
	validToken     = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

// NewToken returns a random URL-safe path token.
func NewToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate path token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Apps are the sub-applications bound to one path token.
type Apps struct {
	// SSE serves <base>/sse and <base>/messages/.
	SSE http.Handler
	// HTTP serves <base>/http plus any auth metadata paths.
	HTTP http.Handler
}

// Builder creates the sub-applications for base, the token-bearing path
// prefix such as "/mcp/t-abc".
type Builder func(base string) (*Apps, error)

// Observer is told how each request was routed.
type Observer func(Route)

// Config configures a Router.
type Config struct {
	// Prefix is the mount point. Defaults to DefaultPrefix.
	Prefix string
	// Token is the initial path token.
	Token string
	Build Builder
	// BearerAuth authenticates requests on the bearer route. Nil disables
	// bearer access and the auth passthrough paths.
	BearerAuth func(http.Handler) http.Handler
	// Disabled starts the gateway administratively disabled.
	Disabled bool
	// Limiter throttles requests that carry a bearer token. Nil disables
	// rate limiting.
	Limiter ratelimit.Limiter
	// RateLimit and RateWindow are reported in rejections.
	RateLimit  int
	RateWindow time.Duration
	Observer  Observer
}

type active struct {
	token  string
	base   string
	apps   *Apps
	bearer http.Handler
}

// Router dispatches MCP traffic to the sub-applications built for the
// current path token.
type Router struct {
	prefix     string
	build      Builder
	bearerAuth func(http.Handler) http.Handler
	limiter    ratelimit.Limiter
	rateLimit  int
	rateWindow time.Duration
	observe    Observer

	disabled atomic.Bool

	// mu serializes Reconfigure. Readers only load current.
	mu      sync.Mutex
	current atomic.Pointer[active]
}

// New builds the sub-applications for cfg.Token and returns a ready Router.
func New(cfg Config) (*Router, error) {
	if cfg.Build == nil {
		return nil, errors.NewInvalidArgumentError("router requires an app builder", nil)
	}
	prefix := strings.TrimSuffix(cfg.Prefix, "/")
	if cfg.Prefix == "" {
		prefix = DefaultPrefix
	}
	rt := &Router{
		prefix:     prefix,
		build:      cfg.Build,
		bearerAuth: cfg.BearerAuth,
		limiter:    cfg.Limiter,
		rateLimit:  cfg.RateLimit,
		rateWindow: cfg.RateWindow,
		observe:    cfg.Observer,
	}
	if rt.rateLimit <= 0 {
		rt.rateLimit = ratelimit.DefaultLimit
	}
	if rt.rateWindow <= 0 {
		rt.rateWindow = ratelimit.DefaultWindow
	}
	if rt.observe == nil {
		rt.observe = func(Route) {}
	}
	rt.disabled.Store(cfg.Disabled)

	next, err := rt.assemble(cfg.Token)
	if err != nil {
		return nil, err
	}
	rt.current.Store(next)
	return rt, nil
}

// Reconfigure switches to token. Requests carrying the previous token are
// rejected once it returns; requests already being served finish on the old
// apps. Reconfiguring to the current token does nothing.
func (rt *Router) Reconfigure(token string) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.current.Load().token == token {
		return nil
	}
	next, err := rt.assemble(token)
	if err != nil {
		return err
	}
	rt.current.Store(next)
	logger.Infof("MCP path token rotated, serving under %s/t-<token>", rt.prefix)
	return nil
}

func (rt *Router) assemble(token string) (*active, error) {
	if !validToken.MatchString(token) {
		return nil, errors.NewInvalidArgumentError("path token must be non-empty and URL-safe", nil)
	}
	base := rt.prefix + "/t-" + token
	apps, err := rt.build(base)
	if err != nil {
		return nil, fmt.Errorf("failed to build MCP apps: %w", err)
	}
	if apps == nil || apps.SSE == nil || apps.HTTP == nil {
		return nil, errors.NewInternalError("app builder returned incomplete apps", nil)
	}
	a := &active{token: token, base: base, apps: apps}
	if rt.bearerAuth != nil {
		a.bearer = rt.bearerAuth(apps.HTTP)
	}
	return a, nil
}

// Token returns the active path token.
func (rt *Router) Token() string {
	return rt.current.Load().token
}

// BasePath returns the token-bearing path prefix currently served.
func (rt *Router) BasePath() string {
	return rt.current.Load().base
}

// BearerEnabled reports whether bearer clients are accepted.
func (rt *Router) BearerEnabled() bool {
	return rt.bearerAuth != nil
}

// SetEnabled toggles the administrative gate.
func (rt *Router) SetEnabled(enabled bool) {
	rt.disabled.Store(!enabled)
}

// Enabled reports whether MCP traffic is accepted.
func (rt *Router) Enabled() bool {
	return !rt.disabled.Load()
}

// Handler returns the router wrapped in Middleware.
func (rt *Router) Handler() http.Handler {
	return rt.Middleware(rt)
}

// ServeHTTP implements http.Handler.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cur := rt.current.Load()

	path := r.URL.Path
	if m := projectSegment.FindStringSubmatch(path); m != nil {
		path = projectSegment.ReplaceAllString(path, "/")
		r = withPath(r.WithContext(identity.WithProject(r.Context(), m[1])), path)
	}

	rest, underPrefix := strings.CutPrefix(path, rt.prefix)
	token, suffix, found := splitToken(rest)
	if underPrefix && found && tokensEqual(token, cur.token) {
		switch {
		case suffix == "/sse" || strings.HasPrefix(suffix, "/messages"):
			rt.observe(RouteSSE)
			cur.apps.SSE.ServeHTTP(w, r)
			return
		case suffix == "/http" || strings.HasPrefix(suffix, "/http/"):
			rt.observe(RouteHTTP)
			cur.apps.HTTP.ServeHTTP(w, r)
			return
		}
		rt.forbid(w, r)
		return
	}

	if cur.bearer != nil {
		// a stale or unknown path token is ignored; the bearer check decides
		if !found {
			suffix = rest
		}
		switch {
		case underPrefix && suffix == "/http":
			rt.observe(RouteBearer)
			cur.bearer.ServeHTTP(w, withPath(r, cur.base+"/http"))
			return
		case isAuthPath(path, rt.prefix):
			rt.observe(RoutePassthrough)
			cur.apps.HTTP.ServeHTTP(w, r)
			return
		}
	}
	rt.forbid(w, r)
}

func (rt *Router) forbid(w http.ResponseWriter, r *http.Request) {
	rt.observe(RouteForbidden)
	logger.Debugf("Rejected MCP request %s %s", r.Method, logger.Sanitize(r.URL.Path))
	http.Error(w, ForbiddenMessage, http.StatusForbidden)
}

// splitToken parses "/t-<token><suffix>".
func splitToken(rest string) (token, suffix string, ok bool) {
	after, ok := strings.CutPrefix(rest, "/t-")
	if !ok {
		return "", "", false
	}
	i := strings.IndexByte(after, '/')
	if i < 0 {
		return after, "", true
	}
	return after[:i], after[i:], true
}

func tokensEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func isAuthPath(path, prefix string) bool {
	return strings.HasPrefix(path, "/.well-known/") ||
		strings.HasPrefix(path, "/auth/") ||
		strings.HasPrefix(path, prefix+"/auth/")
}

func withPath(r *http.Request, path string) *http.Request {
	out := r.Clone(r.Context())
	out.URL.Path = path
	out.URL.RawPath = ""
	return out
}

// ProjectFromContext returns the project segment parsed from the request path.
func ProjectFromContext(ctx context.Context) (string, bool) {
	return identity.ProjectFromContext(ctx)
}
