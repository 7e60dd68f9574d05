// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/mcp-gateway/pkg/config"
	"github.com/stacklok/mcp-gateway/pkg/connections"
	"github.com/stacklok/mcp-gateway/pkg/networking"
	"github.com/stacklok/mcp-gateway/pkg/ratelimit"
	"github.com/stacklok/mcp-gateway/pkg/resources"
	"github.com/stacklok/mcp-gateway/pkg/secrets"
	"github.com/stacklok/mcp-gateway/pkg/storage"
	redisstore "github.com/stacklok/mcp-gateway/pkg/storage/redis"
)

type mapProvider map[string]string

func (m mapProvider) GetSecret(_ context.Context, name string) (string, error) {
	v, ok := m[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", secrets.ErrSecretNotFound, name)
	}
	return v, nil
}

func (m mapProvider) SetSecret(_ context.Context, name, value string) error {
	m[name] = value
	return nil
}

func (m mapProvider) DeleteSecret(_ context.Context, name string) error {
	delete(m, name)
	return nil
}

func (mapProvider) ListSecrets(context.Context) ([]secrets.SecretDescription, error) { return nil, nil }
func (mapProvider) Cleanup() error                                                   { return nil }

func (mapProvider) Capabilities() secrets.ProviderCapabilities {
	return secrets.ProviderCapabilities{CanRead: true, CanWrite: true, CanDelete: true}
}

func TestSeedServers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := resources.NewMemoryStore()
	edited := &resources.ServerDefinition{
		Name:      "fetch",
		Transport: resources.TransportStreamableHTTP,
		URL:       "https://edited.example.com/mcp",
		CreatedBy: "alice",
	}
	require.NoError(t, store.Upsert(ctx, edited))

	seed := []*resources.ServerDefinition{
		{Name: "fetch", Transport: resources.TransportStreamableHTTP, URL: "https://fetch.example.com/mcp"},
		{Name: "time", Transport: resources.TransportStdio, Command: "mcp-time"},
	}
	require.NoError(t, seedServers(ctx, store, seed))

	fetch, err := store.Get(ctx, "fetch")
	require.NoError(t, err)
	assert.Equal(t, "https://edited.example.com/mcp", fetch.URL)
	assert.Equal(t, "alice", fetch.CreatedBy)

	tm, err := store.Get(ctx, "time")
	require.NoError(t, err)
	assert.Equal(t, connections.SystemUser, tm.CreatedBy)
	assert.Empty(t, seed[1].CreatedBy, "seed definitions must not be modified")
}

func TestResolveStateSecret(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	provider := mapProvider{"oauth-state": "0123456789abcdef0123"}

	got, err := resolveStateSecret(ctx, "oauth-state", provider)
	require.NoError(t, err)
	assert.Equal(t, []byte("0123456789abcdef0123"), got)

	_, err = resolveStateSecret(ctx, "missing", provider)
	require.ErrorIs(t, err, secrets.ErrSecretNotFound)

	random, err := resolveStateSecret(ctx, "", provider)
	require.NoError(t, err)
	assert.Len(t, random, stateSecretSize)
}

func TestNewLimiter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := config.Defaults()

	mem, err := storage.NewServerStore(ctx, storage.Config{Type: storage.TypeMemory})
	require.NoError(t, err)
	assert.IsType(t, &ratelimit.MemoryLimiter{}, newLimiter(cfg, mem))

	mr := miniredis.RunT(t)
	rs, err := storage.NewServerStore(ctx, storage.Config{
		Type:  storage.TypeRedis,
		Redis: redisstore.Config{Addrs: []string{mr.Addr()}, KeyPrefix: "test:"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rs.Close() })
	assert.IsType(t, &ratelimit.RedisLimiter{}, newLimiter(cfg, rs))
}

func TestAdminFetch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer admin-token" {
			http.Error(w, "administrator role required", http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"path": r.URL.Path})
	}))
	t.Cleanup(srv.Close)

	c := &adminClient{base: srv.URL, client: srv.Client(), token: "admin-token"}
	got, err := adminFetch[map[string]string](context.Background(), c, "/pool")
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/pool", got["path"])

	c.token = ""
	_, err = adminFetch[map[string]string](context.Background(), c, "pool", networking.WithMethod(http.MethodGet))
	require.Error(t, err)
	assert.Equal(t, "Forbidden: administrator role required", err.Error())
}
