// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/mcp-gateway/pkg/pool"
	"github.com/stacklok/mcp-gateway/pkg/router"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestDisabledProviderIsNoop(t *testing.T) {
	t.Parallel()

	p, err := New(context.Background(), Config{})
	require.NoError(t, err)
	assert.Nil(t, p.Handler())

	m, err := NewMetrics(p.Meter(), nil)
	require.NoError(t, err)
	m.ObserveRoute(router.RouteSSE)
	m.PoolEvicted("alice:github", pool.EvictCapacity)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestPrometheusExposition(t *testing.T) {
	t.Parallel()

	p, err := New(context.Background(), Config{MetricsEnabled: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	require.NotNil(t, p.Handler())

	status := func() pool.Status {
		return pool.Status{
			ActiveCount:    3,
			MaxConnections: 20,
			Connections: []pool.ConnectionInfo{
				{ServerName: "a", InUse: true, LastUsedAt: time.Now()},
				{ServerName: "b"},
				{ServerName: "c"},
			},
		}
	}
	m, err := NewMetrics(p.Meter(), status)
	require.NoError(t, err)

	m.ObserveRoute(router.RouteHTTP)
	m.ObserveRoute(router.RouteRateLimited)
	m.PoolEvicted("alice:github", pool.EvictUnhealthy)

	body := scrape(t, p.Handler())
	assert.Contains(t, body, `mcpgw_router_requests_total{`)
	assert.Contains(t, body, `route="http"`)
	assert.Contains(t, body, `mcpgw_rate_limited_total{`)
	assert.Contains(t, body, `reason="unhealthy"`)
	assert.Contains(t, body, `mcpgw_pool_connections{`)
	assert.Contains(t, body, `state="idle"`)
	assert.Contains(t, body, `mcpgw_pool_max_connections{`)
}
