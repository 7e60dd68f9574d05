// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package telemetry sets up the gateway's OpenTelemetry meter provider. Metrics
// are served in Prometheus format and can also be pushed over OTLP.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/stacklok/mcp-gateway/pkg/versions"
)

// DefaultServiceName identifies the gateway in exported metrics.
const DefaultServiceName = "mcp-gateway"

// Config selects the metric exporters.
type Config struct {
	ServiceName string
	// MetricsEnabled exposes a Prometheus /metrics handler.
	MetricsEnabled bool
	// OTLPEndpoint, when set, pushes metrics to an OTLP/HTTP collector.
	OTLPEndpoint string
	OTLPInsecure bool
	OTLPHeaders  map[string]string
}

// Provider owns the meter provider and its exporters.
type Provider struct {
	meterProvider metric.MeterProvider
	sdk           *sdkmetric.MeterProvider
	handler       http.Handler
}

// New builds a provider. With no exporter enabled it returns a no-op
// provider, so instruments can be created unconditionally.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.MetricsEnabled && cfg.OTLPEndpoint == "" {
		return &Provider{meterProvider: noop.NewMeterProvider()}, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultServiceName
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(versions.GetVersionInfo().Version),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create telemetry resource: %w", err)
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	p := &Provider{}

	if cfg.MetricsEnabled {
		registry := prometheus.NewRegistry()
		exporter, err := otelprometheus.New(otelprometheus.WithRegisterer(registry))
		if err != nil {
			return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(exporter))
		p.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	}

	if cfg.OTLPEndpoint != "" {
		otlpOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint)}
		if len(cfg.OTLPHeaders) > 0 {
			otlpOpts = append(otlpOpts, otlpmetrichttp.WithHeaders(cfg.OTLPHeaders))
		}
		if cfg.OTLPInsecure {
			otlpOpts = append(otlpOpts, otlpmetrichttp.WithInsecure())
		}
		exporter, err := otlpmetrichttp.New(ctx, otlpOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)))
	}

	p.sdk = sdkmetric.NewMeterProvider(opts...)
	p.meterProvider = p.sdk
	return p, nil
}

// Meter returns the gateway's meter.
func (p *Provider) Meter() metric.Meter {
	return p.meterProvider.Meter("github.com/stacklok/mcp-gateway")
}

// Handler serves the Prometheus exposition, or nil when disabled.
func (p *Provider) Handler() http.Handler {
	return p.handler
}

// Shutdown flushes and stops the exporters.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.sdk == nil {
		return nil
	}
	if err := p.sdk.Shutdown(ctx); err != nil && !errors.Is(err, sdkmetric.ErrReaderShutdown) {
		return err
	}
	return nil
}
