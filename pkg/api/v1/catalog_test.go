// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/mcp-gateway/pkg/resources"
)

const catalogYAML = `
servers:
  - name: acme/fetch
    description: Fetch web pages
    image: ghcr.io/acme/fetch:1.0
    port: 8080
  - name: acme/time
    image: ghcr.io/acme/time:latest
    transport: stdio
`

func TestCatalogBrowse(t *testing.T) {
	t.Parallel()

	h := CatalogRouter(seedStore(t))

	rec := serve(t, h, http.MethodPost, "/browse", catalogYAML, alice)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp browseResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Servers, 2)
	assert.Equal(t, "acme/fetch", resp.Servers[0].Name)
	assert.Equal(t, "stdio", resp.Servers[1].Transport)

	assert.Equal(t, http.StatusBadRequest, serve(t, h, http.MethodPost, "/browse", "", alice).Code)
	assert.Equal(t, http.StatusBadRequest, serve(t, h, http.MethodPost, "/browse", "servers: [", alice).Code)
}

func TestCatalogInstall(t *testing.T) {
	t.Parallel()

	const entry = `{"name":"acme/fetch","image":"ghcr.io/acme/fetch:1.0","transport":"streamable_http","port":8080}`

	t.Run("creates definition owned by caller", func(t *testing.T) {
		t.Parallel()
		store := seedStore(t)
		rec := serve(t, CatalogRouter(store), http.MethodPost, "/install", entry, alice)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		got, err := store.Get(context.Background(), "acme-fetch")
		require.NoError(t, err)
		assert.Equal(t, alice, got.CreatedBy)
		assert.Equal(t, "ghcr.io/acme/fetch:1.0", got.DockerImage)
		assert.True(t, got.IsContainerBacked())
	})

	t.Run("refuses to overwrite another user's server", func(t *testing.T) {
		t.Parallel()
		store := seedStore(t, httpServer("acme-fetch", bob))
		rec := serve(t, CatalogRouter(store), http.MethodPost, "/install", entry, alice)
		assert.Equal(t, http.StatusForbidden, rec.Code)

		got, err := store.Get(context.Background(), "acme-fetch")
		require.NoError(t, err)
		assert.Equal(t, bob, got.CreatedBy)
	})

	t.Run("reinstall keeps creator and created_at", func(t *testing.T) {
		t.Parallel()
		store := seedStore(t)
		h := CatalogRouter(store)
		require.Equal(t, http.StatusCreated, serve(t, h, http.MethodPost, "/install", entry, alice).Code)
		first, err := store.Get(context.Background(), "acme-fetch")
		require.NoError(t, err)

		require.Equal(t, http.StatusCreated,
			serve(t, h, http.MethodPost, "/install", entry, admin, resources.AdminRole).Code)
		second, err := store.Get(context.Background(), "acme-fetch")
		require.NoError(t, err)
		assert.Equal(t, alice, second.CreatedBy)
		assert.True(t, first.CreatedAt.Equal(second.CreatedAt))
	})

	t.Run("missing port", func(t *testing.T) {
		t.Parallel()
		rec := serve(t, CatalogRouter(seedStore(t)), http.MethodPost, "/install",
			`{"name":"acme/fetch","image":"ghcr.io/acme/fetch:1.0","transport":"streamable_http"}`, alice)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
