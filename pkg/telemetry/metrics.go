// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/stacklok/mcp-gateway/pkg/pool"
	"github.com/stacklok/mcp-gateway/pkg/router"
)

// StatusFunc reports pool occupancy. connections.Manager.Status fits.
type StatusFunc func() pool.Status

// Metrics holds the gateway instruments.
type Metrics struct {
	evictions   metric.Int64Counter
	rateLimited metric.Int64Counter
	requests    metric.Int64Counter
}

// NewMetrics creates the instruments on meter. status feeds the pool gauges
// and may be nil.
func NewMetrics(meter metric.Meter, status StatusFunc) (*Metrics, error) {
	evictions, err := meter.Int64Counter("mcpgw_pool_evictions_total",
		metric.WithDescription("Sessions removed from the connection pool"))
	if err != nil {
		return nil, fmt.Errorf("failed to create eviction counter: %w", err)
	}
	rateLimited, err := meter.Int64Counter("mcpgw_rate_limited_total",
		metric.WithDescription("Bearer requests rejected by the rate limiter"))
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limit counter: %w", err)
	}
	requests, err := meter.Int64Counter("mcpgw_router_requests_total",
		metric.WithDescription("MCP requests by routing decision"))
	if err != nil {
		return nil, fmt.Errorf("failed to create request counter: %w", err)
	}

	if status != nil {
		_, err = meter.Int64ObservableGauge("mcpgw_pool_connections",
			metric.WithDescription("Pooled sessions by state"),
			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				s := status()
				inUse := 0
				for _, c := range s.Connections {
					if c.InUse {
						inUse++
					}
				}
				o.Observe(int64(inUse), metric.WithAttributes(attribute.String("state", "in_use")))
				o.Observe(int64(s.ActiveCount-inUse), metric.WithAttributes(attribute.String("state", "idle")))
				return nil
			}))
		if err != nil {
			return nil, fmt.Errorf("failed to create pool gauge: %w", err)
		}
		_, err = meter.Int64ObservableGauge("mcpgw_pool_max_connections",
			metric.WithDescription("Configured soft pool capacity"),
			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				o.Observe(int64(status().MaxConnections))
				return nil
			}))
		if err != nil {
			return nil, fmt.Errorf("failed to create capacity gauge: %w", err)
		}
	}

	return &Metrics{evictions: evictions, rateLimited: rateLimited, requests: requests}, nil
}

// ObserveRoute counts a routing decision. It is a router.Observer.
func (m *Metrics) ObserveRoute(route router.Route) {
	ctx := context.Background()
	m.requests.Add(ctx, 1, metric.WithAttributes(attribute.String("route", string(route))))
	if route == router.RouteRateLimited {
		m.rateLimited.Add(ctx, 1)
	}
}

// PoolEvicted counts an eviction. It fits connections.Options.OnEvict.
func (m *Metrics) PoolEvicted(_ string, reason pool.EvictReason) {
	m.evictions.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", string(reason))))
}
