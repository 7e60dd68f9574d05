// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stacklok/mcp-gateway/pkg/versions"
)

type pingerFunc func(context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestGetHealthcheck(t *testing.T) {
	t.Parallel()

	ok := pingerFunc(func(context.Context) error { return nil })
	down := pingerFunc(func(context.Context) error { return errors.New("redis: connection refused") })

	rec := httptest.NewRecorder()
	HealthcheckRouter(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Empty(t, rec.Body)

	rec = httptest.NewRecorder()
	HealthcheckRouter(ok, down).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "connection refused")
}

func TestGetVersion(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	VersionRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var info versions.VersionInfo
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&info))
	require.NotEmpty(t, info.Version)
}
