// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/mcp-gateway/pkg/resources"
)

func newTestStore(t *testing.T) *ServerStore {
	t.Helper()
	db, err := Open(t.Context(), filepath.Join(t.TempDir(), "gateway.db"))
	require.NoError(t, err)
	store := NewServerStore(db)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestServerStore_CRUD(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	s := newTestStore(t)

	_, err := s.Get(ctx, "github")
	require.ErrorIs(t, err, resources.ErrNotFound)

	org := "acme"
	def := &resources.ServerDefinition{
		Name:          "github",
		Transport:     resources.TransportStreamableHTTP,
		URL:           "https://api.githubcopilot.com/mcp/",
		DefaultScope:  "repo",
		OrgID:         &org,
		CreatedBy:     "alice",
		RequiredRoles: []string{"engineering"},
	}
	require.NoError(t, s.Upsert(ctx, def))

	got, err := s.Get(ctx, "github")
	require.NoError(t, err)
	assert.Equal(t, def.URL, got.URL)
	assert.Equal(t, "acme", *got.OrgID)
	assert.Equal(t, []string{"engineering"}, got.RequiredRoles)
	assert.False(t, got.CreatedAt.IsZero())

	require.NoError(t, s.Upsert(ctx, &resources.ServerDefinition{
		Name: "fs", Transport: resources.TransportStdio, Command: "npx", Args: []string{"-y", "server-fs"},
	}))

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "fs", all[0].Name)
	assert.Equal(t, []string{"-y", "server-fs"}, all[0].Args)

	require.NoError(t, s.Delete(ctx, "fs"))
	require.NoError(t, s.Delete(ctx, "fs"))
	all, err = s.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestServerStore_UpsertKeepsCreatedAt(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	s := newTestStore(t)

	t0 := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := t0
	s.now = func() time.Time { return clock }

	require.NoError(t, s.Upsert(ctx, &resources.ServerDefinition{Name: "fs", Transport: resources.TransportStdio, Command: "npx"}))
	clock = t0.Add(time.Hour)
	require.NoError(t, s.Upsert(ctx, &resources.ServerDefinition{Name: "fs", Transport: resources.TransportStdio, Command: "uvx"}))

	got, err := s.Get(ctx, "fs")
	require.NoError(t, err)
	assert.Equal(t, "uvx", got.Command)
	assert.True(t, got.CreatedAt.Equal(t0))
	assert.True(t, got.UpdatedAt.Equal(t0.Add(time.Hour)))
}

func TestServerStore_RejectsInvalid(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	err := s.Upsert(t.Context(), &resources.ServerDefinition{Name: "fs", Transport: resources.TransportStdio})
	require.Error(t, err)
}

func TestOpen_ReopensMigratedDatabase(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	path := filepath.Join(t.TempDir(), "nested", "gateway.db")

	db, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, NewServerStore(db).Upsert(ctx, &resources.ServerDefinition{
		Name: "fs", Transport: resources.TransportStdio, Command: "npx",
	}))
	require.NoError(t, db.Close())

	db, err = Open(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = NewServerStore(db).Get(ctx, "fs")
	require.NoError(t, err)
}
