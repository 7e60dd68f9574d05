// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stacklok/mcp-gateway/pkg/auth"
	"github.com/stacklok/mcp-gateway/pkg/resources"
)

const (
	alice = "alice"
	bob   = "bob"
	admin = "root"
)

// serve runs one request against h. An empty subject sends no identity.
func serve(t *testing.T, h http.Handler, method, path, body, subject string, roles ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if subject != "" {
		req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{Subject: subject, Roles: roles}))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func seedStore(t *testing.T, defs ...*resources.ServerDefinition) *resources.MemoryStore {
	t.Helper()
	store := resources.NewMemoryStore()
	for _, d := range defs {
		require.NoError(t, store.Upsert(context.Background(), d))
	}
	return store
}

func httpServer(name, owner string, requiredRoles ...string) *resources.ServerDefinition {
	return &resources.ServerDefinition{
		Name:          name,
		Transport:     resources.TransportStreamableHTTP,
		URL:           "https://" + name + ".example.com/mcp",
		CreatedBy:     owner,
		RequiredRoles: requiredRoles,
	}
}

type fakeMounter struct {
	mu        sync.Mutex
	tools     int
	err       error
	mounted   []string
	unmounted []string
}

func (f *fakeMounter) Mount(_ context.Context, userID, name string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.mounted = append(f.mounted, userID+"/"+name)
	return f.tools, nil
}

func (f *fakeMounter) Unmount(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unmounted = append(f.unmounted, name)
}
