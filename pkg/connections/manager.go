// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package connections

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/oauth2"

	gwerrors "github.com/stacklok/mcp-gateway/pkg/errors"
	"github.com/stacklok/mcp-gateway/pkg/identity"
	"github.com/stacklok/mcp-gateway/pkg/logger"
	"github.com/stacklok/mcp-gateway/pkg/networking"
	"github.com/stacklok/mcp-gateway/pkg/pool"
	"github.com/stacklok/mcp-gateway/pkg/resources"
	"github.com/stacklok/mcp-gateway/pkg/secrets"
	"github.com/stacklok/mcp-gateway/pkg/versions"
)

const (
	// SystemUser owns sessions opened on behalf of the gateway itself, such as
	// those behind the shared path token.
	SystemUser = "system"

	// DefaultConnectTimeout bounds spawning or dialling a backend and the
	// protocol handshake.
	DefaultConnectTimeout = 30 * time.Second

	clientName = "mcp-gateway"
)

// SecretResolver resolves the environment keys declared by stdio servers.
type SecretResolver interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// TokenSourceProvider hands out OAuth token sources for streamable HTTP
// servers.
type TokenSourceProvider interface {
	TokenSource(ctx context.Context, userID string, def *resources.ServerDefinition) (oauth2.TokenSource, error)
}

// ContainerStarter runs the container behind a container-backed server.
type ContainerStarter interface {
	StartServer(ctx context.Context, def *resources.ServerDefinition) (string, error)
}

// Dialer opens an uninitialized client for def.
type Dialer func(ctx context.Context, userID string, def *resources.ServerDefinition) (Client, error)

// Options configures a Manager.
type Options struct {
	MaxConnections int
	ConnectTimeout time.Duration
	Secrets        SecretResolver
	Tokens         TokenSourceProvider
	// Transport is the base transport for streamable HTTP backends.
	Transport http.RoundTripper
	// Containers starts container-backed servers before they are dialled.
	// Without it such containers are expected to be running already.
	Containers ContainerStarter
	// OnEvict observes every session leaving the pool.
	OnEvict func(key string, reason pool.EvictReason)
	// Dialer replaces the built-in transport dispatch.
	Dialer Dialer
	Clock  func() time.Time
}

// Manager caches one session per (user, server) in a bounded pool.
type Manager struct {
	pool           *pool.Pool[*Session]
	connectTimeout time.Duration
	secrets        SecretResolver
	tokens         TokenSourceProvider
	transport      http.RoundTripper
	containers     ContainerStarter
	dial           Dialer
	now            func() time.Time
}

// NewManager builds a Manager.
func NewManager(opts Options) *Manager {
	m := &Manager{
		connectTimeout: opts.ConnectTimeout,
		secrets:        opts.Secrets,
		tokens:         opts.Tokens,
		transport:      opts.Transport,
		containers:     opts.Containers,
		dial:           opts.Dialer,
		now:            opts.Clock,
	}
	if m.connectTimeout <= 0 {
		m.connectTimeout = DefaultConnectTimeout
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.transport == nil {
		m.transport = defaultTransport()
	}
	if m.dial == nil {
		m.dial = m.dialTransport
	}

	poolOpts := []pool.Option{pool.WithClock(m.now)}
	if opts.OnEvict != nil {
		poolOpts = append(poolOpts, pool.WithEvictionHook(opts.OnEvict))
	}
	m.pool = pool.New[*Session](opts.MaxConnections, poolOpts...)
	return m
}

func defaultTransport() http.RoundTripper {
	c, err := networking.NewHttpClientBuilder().WithLoopbackHTTP(true).Build()
	if err != nil {
		logger.Warnf("Falling back to the default HTTP transport: %v", err)
		return http.DefaultTransport
	}
	return c.Transport
}

// Key is the pool key of a (user, server) session.
func Key(userID, serviceID string) string {
	return userID + ":" + serviceID
}

// Connect returns the user's session for def, opening it on first use. The
// session is marked in use until Release. Concurrent first calls for the
// same pair share one connection attempt.
func (m *Manager) Connect(ctx context.Context, userID string, def *resources.ServerDefinition) (*Session, error) {
	if def == nil {
		return nil, gwerrors.NewInvalidArgumentError("server definition is required", nil)
	}
	if userID == "" {
		userID = SystemUser
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if !def.IsEnabled() {
		return nil, gwerrors.NewForbiddenError(fmt.Sprintf("server %s is disabled", def.Name), nil)
	}

	return m.pool.Acquire(ctx, Key(userID, def.Name), func(ctx context.Context) (*Session, error) {
		ctx, cancel := context.WithTimeout(ctx, m.connectTimeout)
		defer cancel()
		return m.open(ctx, userID, def)
	})
}

// Release ends one use of the session begun by Connect. Once every use has
// ended the session is idle and capacity eviction may reclaim it.
func (m *Manager) Release(userID, serviceID string) {
	m.pool.Release(Key(userID, serviceID))
}

// Session returns the cached session without opening one.
func (m *Manager) Session(userID, serviceID string) (*Session, bool) {
	return m.pool.Get(Key(userID, serviceID))
}

// Disconnect closes and forgets the session. It reports whether one existed.
func (m *Manager) Disconnect(userID, serviceID string) bool {
	return m.pool.Evict(Key(userID, serviceID))
}

// Evict closes the pooled session stored under key, as listed by Status.
func (m *Manager) Evict(key string) bool {
	return m.pool.Evict(key)
}

// DisconnectServer closes every user's session to serviceID and returns how
// many were closed.
func (m *Manager) DisconnectServer(serviceID string) int {
	closed := 0
	for _, c := range m.pool.Status().Connections {
		s, ok := m.pool.Get(c.ServerName)
		if ok && s.ServiceID == serviceID && m.pool.Evict(c.ServerName) {
			closed++
		}
	}
	return closed
}

// DisconnectAll closes every session. The manager stays usable.
func (m *Manager) DisconnectAll() {
	m.pool.CloseAll()
}

// HealthCheck pings every session and evicts those that do not answer.
func (m *Manager) HealthCheck(ctx context.Context) pool.HealthReport {
	return m.pool.HealthCheck(ctx)
}

// RunHealthChecks calls HealthCheck every interval until ctx is done.
func (m *Manager) RunHealthChecks(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report := m.HealthCheck(ctx)
			if report.Evicted > 0 {
				logger.Infof("Health check evicted %d of %d sessions", report.Evicted, report.Checked)
			}
		}
	}
}

// Status reports pool occupancy.
func (m *Manager) Status() pool.Status {
	return m.pool.Status()
}

// Sessions lists the sessions owned by userID, sorted by service.
func (m *Manager) Sessions(userID string) []SessionInfo {
	var out []SessionInfo
	for _, c := range m.pool.Status().Connections {
		s, ok := m.pool.Get(c.ServerName)
		if !ok || s.UserID != userID {
			continue
		}
		out = append(out, SessionInfo{
			ServiceID:   s.ServiceID,
			Transport:   s.Transport,
			ServerName:  s.ServerInfo.Name,
			ConnectedAt: s.ConnectedAt,
			LastUsedAt:  c.LastUsedAt,
			InUse:       c.InUse,
		})
	}
	return out
}

// ListTools connects if needed and lists the server's tools.
func (m *Manager) ListTools(ctx context.Context, userID string, def *resources.ServerDefinition) ([]mcp.Tool, error) {
	s, err := m.Connect(ctx, userID, def)
	if err != nil {
		return nil, err
	}
	defer m.Release(s.UserID, s.ServiceID)

	tools, err := s.ListTools(ctx)
	if err != nil {
		return nil, gwerrors.NewConnectivityError(fmt.Sprintf("failed to list tools on %s", def.Name), err)
	}
	return tools, nil
}

// CallTool connects if needed and invokes a tool.
func (m *Manager) CallTool(
	ctx context.Context, userID string, def *resources.ServerDefinition, name string, args map[string]any,
) (*mcp.CallToolResult, error) {
	s, err := m.Connect(ctx, userID, def)
	if err != nil {
		return nil, err
	}
	defer m.Release(s.UserID, s.ServiceID)

	res, err := s.CallTool(ctx, name, args)
	if err != nil {
		return nil, gwerrors.NewConnectivityError(fmt.Sprintf("tool %s on %s failed", name, def.Name), err)
	}
	return res, nil
}

func (m *Manager) open(ctx context.Context, userID string, def *resources.ServerDefinition) (*Session, error) {
	c, err := m.dial(ctx, userID, def)
	if err != nil {
		return nil, asConnectivity(err, fmt.Sprintf("failed to connect to %s", def.Name))
	}

	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: clientName, Version: versions.GetVersionInfo().Version}
	res, err := c.Initialize(ctx, req)
	if err != nil {
		if cerr := c.Close(); cerr != nil {
			logger.Debugf("Error closing client after failed handshake: %v", cerr)
		}
		return nil, gwerrors.NewConnectivityError(fmt.Sprintf("MCP handshake with %s failed", def.Name), err)
	}

	logger.Infof("Connected to MCP server %s over %s", logger.Sanitize(def.Name), def.Transport)
	return &Session{
		UserID:      userID,
		ServiceID:   def.Name,
		Transport:   def.Transport,
		ServerInfo:  res.ServerInfo,
		ConnectedAt: m.now(),
		client:      c,
	}, nil
}

func (m *Manager) dialTransport(ctx context.Context, userID string, def *resources.ServerDefinition) (Client, error) {
	switch def.Transport {
	case resources.TransportStdio:
		env, err := m.resolveEnv(ctx, def)
		if err != nil {
			return nil, err
		}
		return client.NewStdioMCPClient(def.Command, env, def.Args...)
	case resources.TransportStreamableHTTP:
		return m.dialHTTP(ctx, userID, def)
	default:
		return nil, gwerrors.NewConfigurationError(fmt.Sprintf("unsupported transport %q", def.Transport), nil)
	}
}

// dialHTTP layers identity forwarding over OAuth over the base transport, so
// caller credentials are stripped before the backend token is attached.
func (m *Manager) dialHTTP(ctx context.Context, userID string, def *resources.ServerDefinition) (Client, error) {
	endpoint, err := def.EndpointURL()
	if err != nil {
		return nil, err
	}
	if def.IsContainerBacked() && m.containers != nil {
		if _, err := m.containers.StartServer(ctx, def); err != nil {
			return nil, err
		}
	}

	rt := m.transport
	ts, err := m.tokenSource(ctx, userID, def)
	if err != nil {
		return nil, err
	}
	if ts != nil {
		rt = &oauth2.Transport{Source: ts, Base: rt}
	}
	rt = &identity.RoundTripper{Base: rt, Default: identity.User{ID: userID}}

	c, err := client.NewStreamableHttpClient(endpoint, transport.WithHTTPBasicClient(&http.Client{Transport: rt}))
	if err != nil {
		return nil, err
	}
	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// tokenSource returns nil for container-backed servers the user holds no
// tokens for; those run locally and may not require OAuth.
func (m *Manager) tokenSource(ctx context.Context, userID string, def *resources.ServerDefinition) (oauth2.TokenSource, error) {
	if m.tokens == nil {
		if def.IsContainerBacked() {
			return nil, nil
		}
		return nil, gwerrors.NewConfigurationError("no OAuth token provider configured", nil)
	}
	ts, err := m.tokens.TokenSource(ctx, userID, def)
	if err != nil {
		if def.IsContainerBacked() && gwerrors.IsCredential(err) {
			return nil, nil
		}
		return nil, err
	}
	return ts, nil
}

// resolveEnv builds KEY=value pairs from the literal environment followed by
// the declared secret keys. Keys the provider does not hold are skipped.
func (m *Manager) resolveEnv(ctx context.Context, def *resources.ServerDefinition) ([]string, error) {
	env := make([]string, 0, len(def.Env)+len(def.EnvKeys))
	for _, k := range slices.Sorted(maps.Keys(def.Env)) {
		env = append(env, k+"="+def.Env[k])
	}
	if len(def.EnvKeys) == 0 {
		return env, nil
	}
	if m.secrets == nil {
		return nil, gwerrors.NewConfigurationError(
			fmt.Sprintf("server %s declares env keys but no secrets provider is configured", def.Name), nil)
	}
	for _, k := range def.EnvKeys {
		v, err := m.secrets.GetSecret(ctx, k)
		if errors.Is(err, secrets.ErrSecretNotFound) {
			logger.Warnf("Secret %s for server %s not found, leaving it unset", logger.Sanitize(k), logger.Sanitize(def.Name))
			continue
		}
		if err != nil {
			return nil, gwerrors.NewCredentialError(fmt.Sprintf("failed to resolve %s for %s", k, def.Name), err)
		}
		env = append(env, k+"="+v)
	}
	return env, nil
}

func asConnectivity(err error, msg string) error {
	var typed *gwerrors.Error
	if errors.As(err, &typed) {
		return err
	}
	return gwerrors.NewConnectivityError(msg, err)
}
