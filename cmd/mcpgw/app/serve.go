// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/stacklok/toolhive-core/env"

	"github.com/stacklok/mcp-gateway/pkg/api"
	v1 "github.com/stacklok/mcp-gateway/pkg/api/v1"
	"github.com/stacklok/mcp-gateway/pkg/auth"
	"github.com/stacklok/mcp-gateway/pkg/auth/oauth"
	"github.com/stacklok/mcp-gateway/pkg/auth/vault"
	"github.com/stacklok/mcp-gateway/pkg/config"
	"github.com/stacklok/mcp-gateway/pkg/connections"
	"github.com/stacklok/mcp-gateway/pkg/container/docker"
	"github.com/stacklok/mcp-gateway/pkg/logger"
	mcpserver "github.com/stacklok/mcp-gateway/pkg/mcp/server"
	"github.com/stacklok/mcp-gateway/pkg/networking"
	"github.com/stacklok/mcp-gateway/pkg/pool"
	"github.com/stacklok/mcp-gateway/pkg/ratelimit"
	"github.com/stacklok/mcp-gateway/pkg/registry"
	"github.com/stacklok/mcp-gateway/pkg/resources"
	"github.com/stacklok/mcp-gateway/pkg/router"
	"github.com/stacklok/mcp-gateway/pkg/secrets"
	"github.com/stacklok/mcp-gateway/pkg/storage"
	redisstore "github.com/stacklok/mcp-gateway/pkg/storage/redis"
	"github.com/stacklok/mcp-gateway/pkg/telemetry"
	"github.com/stacklok/mcp-gateway/pkg/toolindex"
)

const stateSecretSize = 32

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway",
		Long: `Start the MCP gateway.

Two listeners are opened. The MCP listener serves the gateway endpoint under
/mcp/t-<path token>/ (and /mcp/http for bearer clients when inbound OAuth is
configured) together with the OAuth callback for backend servers. The admin
listener serves the REST API under /api/v1, /health and, when enabled, /metrics.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	provider, err := secrets.CreateSecretProvider(secrets.Options{
		Type: secrets.ProviderType(cfg.Secrets.Provider),
		Path: cfg.Secrets.Path,
	})
	if err != nil {
		return fmt.Errorf("failed to open secrets provider: %w", err)
	}
	defer func() {
		if err := provider.Cleanup(); err != nil {
			logger.Warnf("failed to clean up secrets provider: %v", err)
		}
	}()

	store, err := openStore(ctx, cfg, provider)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warnf("failed to close server store: %v", err)
		}
	}()
	if err := seedServers(ctx, store, cfg.Servers); err != nil {
		return err
	}

	httpClient, err := networking.NewHttpClientBuilder().WithLoopbackHTTP(true).Build()
	if err != nil {
		return fmt.Errorf("failed to build HTTP client: %w", err)
	}

	stateSecret, err := resolveStateSecret(ctx, cfg.OAuth.StateSecretRef, provider)
	if err != nil {
		return err
	}
	tokens := vault.New(provider)
	flow, err := oauth.NewFlow(oauth.Config{
		Vault:       tokens,
		Servers:     store,
		Secrets:     provider,
		HTTPClient:  httpClient,
		StateSecret: stateSecret,
		BaseURL:     cfg.OAuth.BaseURL,
	})
	if err != nil {
		return err
	}

	tp, err := telemetry.New(ctx, telemetry.Config{
		ServiceName:    telemetry.DefaultServiceName,
		MetricsEnabled: cfg.Telemetry.MetricsEnabled,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   cfg.Telemetry.OTLPInsecure,
		OTLPHeaders:    cfg.Telemetry.OTLPHeaders,
	})
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer func() {
		if err := tp.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Warnf("failed to shut down telemetry: %v", err)
		}
	}()

	var conns *connections.Manager
	metrics, err := telemetry.NewMetrics(tp.Meter(), func() pool.Status { return conns.Status() })
	if err != nil {
		return err
	}
	connOpts := connections.Options{
		MaxConnections: cfg.Gateway.MaxConnections,
		ConnectTimeout: cfg.Gateway.ConnectTimeout.Std(),
		Secrets:        provider,
		Tokens:         flow,
		OnEvict:        metrics.PoolEvicted,
	}
	containers := openContainerRuntime(ctx, cfg)
	if containers != nil {
		connOpts.Containers = containers
	}
	conns = connections.NewManager(connOpts)
	defer conns.DisconnectAll()

	var validator *auth.TokenValidator
	var wellKnown http.Handler
	if in := cfg.OAuth.Inbound; in.Enabled() {
		validator, err = auth.NewTokenValidator(ctx, auth.TokenValidatorConfig{
			Issuer:              in.Issuer,
			Audience:            in.Audience,
			JWKSURL:             in.JWKSURL,
			ResourceMetadataURL: strings.TrimSuffix(cfg.OAuth.BaseURL, "/") + "/.well-known/oauth-protected-resource",
			CACertPath:          in.CACertPath,
		})
		if err != nil {
			return fmt.Errorf("failed to create token validator: %w", err)
		}
		wellKnown = auth.NewWellKnownHandler(auth.NewAuthInfoHandler(in.Issuer, in.JWKSURL, in.ResourceURL, in.Scopes))
	}

	gwCfg := mcpserver.Config{
		Servers:     store,
		Index:       toolindex.New(),
		Connections: conns,
		WellKnown:   wellKnown,
	}
	if !cfg.Registry.Disabled {
		client, err := registry.NewClient(cfg.Registry.URL, httpClient)
		if err != nil {
			return fmt.Errorf("failed to create registry client: %w", err)
		}
		gwCfg.Registry = client
	}
	gateway, err := mcpserver.New(gwCfg)
	if err != nil {
		return err
	}

	token := cfg.Gateway.PathToken
	if token == "" {
		if token, err = router.NewToken(); err != nil {
			return err
		}
		logger.Infof("No path token configured, generated one for this run")
	}
	rtCfg := router.Config{
		Token:      token,
		Build:      gateway.Apps,
		Disabled:   !cfg.Gateway.IsEnabled(),
		Limiter:    newLimiter(cfg, store),
		RateLimit:  cfg.Gateway.RateLimit,
		RateWindow: cfg.Gateway.RateWindow.Std(),
		Observer:   metrics.ObserveRoute,
	}
	if validator != nil {
		rtCfg.BearerAuth = validator.Middleware
	}
	rt, err := router.New(rtCfg)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle(oauth.CallbackPath, v1.CallbackHandler(flow, gateway))
	mux.Handle("/", rt.Handler())

	deps := api.Deps{
		Servers:     store,
		Connections: conns,
		Gateway:     gatewayControl{Gateway: gateway, Router: rt},
		Tokens:      tokens,
		OAuth:       flow,
	}
	if p, ok := store.(v1.Pinger); ok {
		deps.Pingers = append(deps.Pingers, p)
	}
	if cfg.Telemetry.MetricsEnabled {
		deps.Metrics = tp.Handler()
	}
	if validator != nil {
		deps.Authenticate = validator.Middleware
	}
	if containers != nil {
		deps.Containers = containers
	}

	mcpListener, err := api.Listen(cfg.Listen.Address, "")
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Listen.Address, err)
	}
	adminListener, err := api.Listen(cfg.Admin.Address, cfg.Admin.Socket)
	if err != nil {
		_ = mcpListener.Close()
		return fmt.Errorf("failed to open admin listener: %w", err)
	}

	logger.Infof("MCP endpoint: http://%s%s/http", cfg.Listen.Address, rt.BasePath())

	go conns.RunHealthChecks(ctx, cfg.Gateway.HealthCheckInterval.Std())
	go func() {
		n := gateway.MountAll(ctx)
		logger.Infof("Mounted %d servers", n)
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return api.Serve(gctx, "MCP", mcpListener, mux) })
	g.Go(func() error { return api.Serve(gctx, "admin", adminListener, api.NewHandler(deps)) })
	return g.Wait()
}

// gatewayControl joins the mount operations of the gateway with the entry
// point settings of the router for the admin API.
type gatewayControl struct {
	*mcpserver.Gateway
	*router.Router
}

func openStore(ctx context.Context, cfg *config.Config, provider secrets.Provider) (storage.Store, error) {
	rc := cfg.Storage.Redis
	password := ""
	if cfg.Storage.Type == string(storage.TypeRedis) && rc.PasswordRef != "" {
		var err error
		if password, err = provider.GetSecret(ctx, rc.PasswordRef); err != nil {
			return nil, fmt.Errorf("failed to read redis password %s: %w", rc.PasswordRef, err)
		}
	}
	store, err := storage.NewServerStore(ctx, storage.Config{
		Type: storage.Type(cfg.Storage.Type),
		Path: cfg.Storage.SQLite.Path,
		Redis: redisstore.Config{
			Addrs:      rc.Addrs(),
			MasterName: rc.MasterName,
			Username:   rc.Username,
			Password:   password,
			DB:         rc.DB,
			KeyPrefix:  rc.KeyPrefix,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s server store: %w", cfg.Storage.Type, err)
	}
	return store, nil
}

// seedServers adds configured servers that are not in the store yet.
// Existing definitions win so that API edits survive a restart.
func seedServers(ctx context.Context, store resources.Store, defs []*resources.ServerDefinition) error {
	for _, def := range defs {
		_, err := store.Get(ctx, def.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, resources.ErrNotFound) {
			return err
		}
		d := def.Clone()
		if d.CreatedBy == "" {
			d.CreatedBy = connections.SystemUser
		}
		if err := store.Upsert(ctx, d); err != nil {
			return fmt.Errorf("failed to seed server %s: %w", def.Name, err)
		}
		logger.Debugf("seeded server %s from configuration", def.Name)
	}
	return nil
}

func resolveStateSecret(ctx context.Context, ref string, provider secrets.Provider) ([]byte, error) {
	if ref != "" {
		v, err := provider.GetSecret(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("failed to read OAuth state secret %s: %w", ref, err)
		}
		return []byte(v), nil
	}
	b := make([]byte, stateSecretSize)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate OAuth state secret: %w", err)
	}
	logger.Warnf("oauth.state_secret_ref is not set; pending authorizations will not survive a restart")
	return b, nil
}

// newLimiter shares the store's Redis client when there is one so that
// replicas enforce one budget.
func newLimiter(cfg *config.Config, store storage.Store) ratelimit.Limiter {
	g := cfg.Gateway
	if rs, ok := store.(interface{ Client() redis.UniversalClient }); ok {
		return ratelimit.NewRedisLimiter(rs.Client(), cfg.Storage.Redis.KeyPrefix+"ratelimit:", g.RateLimit, g.RateWindow.Std())
	}
	return ratelimit.NewMemoryLimiter(g.RateLimit, g.RateWindow.Std())
}

// openContainerRuntime returns nil when no Docker daemon is reachable.
// Container-backed servers are then expected to be running already.
func openContainerRuntime(ctx context.Context, cfg *config.Config) *docker.Manager {
	socket, err := docker.FindSocket(cfg.Container.SocketPath, &env.OSReader{})
	if err != nil {
		logger.Warnf("Container runtime unavailable, container management is disabled: %v", err)
		return nil
	}
	m, err := docker.NewManager(ctx, socket, cfg.Container.NamePrefix)
	if err != nil {
		logger.Warnf("Failed to connect to container runtime at %s: %v", socket, err)
		return nil
	}
	return m
}
