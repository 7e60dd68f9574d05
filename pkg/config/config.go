// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config contains the definition of the gateway configuration file
// and the logic required to load it.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stacklok/mcp-gateway/pkg/resources"
)

// Config is the gateway configuration.
type Config struct {
	Listen    ListenConfig    `yaml:"listen" toml:"listen"`
	Admin     ListenConfig    `yaml:"admin" toml:"admin"`
	Gateway   GatewayConfig   `yaml:"gateway" toml:"gateway"`
	OAuth     OAuthConfig     `yaml:"oauth" toml:"oauth"`
	Storage   StorageConfig   `yaml:"storage" toml:"storage"`
	Secrets   SecretsConfig   `yaml:"secrets" toml:"secrets"`
	Container ContainerConfig `yaml:"container" toml:"container"`
	Registry  RegistryConfig  `yaml:"registry" toml:"registry"`
	Telemetry TelemetryConfig `yaml:"telemetry" toml:"telemetry"`

	// Servers are added to the catalog at startup unless a definition with
	// the same name already exists.
	Servers []*resources.ServerDefinition `yaml:"servers,omitempty" toml:"servers,omitempty"`
}

// ListenConfig is a listener address.
type ListenConfig struct {
	Address string `yaml:"address" toml:"address"`
	// Socket, when set, replaces Address with a UNIX socket path. Only the
	// admin listener honours it.
	Socket string `yaml:"socket,omitempty" toml:"socket,omitempty"`
}

// GatewayConfig controls the MCP entry point and the connection pool.
type GatewayConfig struct {
	Enabled *bool `yaml:"enabled,omitempty" toml:"enabled,omitempty"`
	// PathToken is the shared secret clients embed in the URL. A random
	// token is generated at startup when empty.
	PathToken           string   `yaml:"path_token" toml:"path_token"`
	MaxConnections      int      `yaml:"max_connections" toml:"max_connections"`
	ConnectTimeout      Duration `yaml:"connect_timeout" toml:"connect_timeout"`
	HealthCheckInterval Duration `yaml:"health_check_interval" toml:"health_check_interval"`
	RateLimit           int      `yaml:"rate_limit" toml:"rate_limit"`
	RateWindow          Duration `yaml:"rate_window" toml:"rate_window"`
}

// IsEnabled reports whether MCP traffic is accepted at startup.
func (g GatewayConfig) IsEnabled() bool {
	return g.Enabled == nil || *g.Enabled
}

// OAuthConfig covers both directions of OAuth: the gateway as a client of
// backend servers, and the gateway as a protected resource for bearer
// clients.
type OAuthConfig struct {
	// BaseURL is the externally reachable gateway origin used to build the
	// callback URL.
	BaseURL string `yaml:"base_url" toml:"base_url"`
	// StateSecretRef names the secret that keys state signatures. A
	// per-process secret is generated when empty.
	StateSecretRef string        `yaml:"state_secret_ref" toml:"state_secret_ref"`
	Inbound        InboundConfig `yaml:"inbound" toml:"inbound"`
}

// InboundConfig enables bearer access on the MCP listener when Issuer is set.
type InboundConfig struct {
	Issuer      string   `yaml:"issuer" toml:"issuer"`
	Audience    string   `yaml:"audience" toml:"audience"`
	JWKSURL     string   `yaml:"jwks_url" toml:"jwks_url"`
	ResourceURL string   `yaml:"resource_url" toml:"resource_url"`
	Scopes      []string `yaml:"scopes" toml:"scopes"`
	CACertPath  string   `yaml:"ca_cert_path" toml:"ca_cert_path"`
}

// Enabled reports whether bearer tokens are accepted.
func (c InboundConfig) Enabled() bool {
	return c.Issuer != ""
}

// StorageConfig selects the server catalog backend.
type StorageConfig struct {
	Type   string       `yaml:"type" toml:"type"`
	Redis  RedisConfig  `yaml:"redis" toml:"redis"`
	SQLite SQLiteConfig `yaml:"sqlite" toml:"sqlite"`
}

// RedisConfig configures the shared backend.
type RedisConfig struct {
	Address string `yaml:"address" toml:"address"`
	// Addresses lists cluster seeds or sentinels. It takes precedence
	// over Address.
	Addresses   []string `yaml:"addresses" toml:"addresses"`
	MasterName  string   `yaml:"master_name" toml:"master_name"`
	Username    string   `yaml:"username" toml:"username"`
	PasswordRef string   `yaml:"password_ref" toml:"password_ref"`
	DB          int      `yaml:"db" toml:"db"`
	KeyPrefix   string   `yaml:"key_prefix" toml:"key_prefix"`
}

// Addrs returns the configured addresses.
func (c RedisConfig) Addrs() []string {
	if len(c.Addresses) > 0 {
		return c.Addresses
	}
	if c.Address != "" {
		return []string{c.Address}
	}
	return nil
}

// SQLiteConfig configures the single-node durable backend.
type SQLiteConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// SecretsConfig selects the secrets provider.
type SecretsConfig struct {
	Provider string `yaml:"provider" toml:"provider"`
	Path     string `yaml:"path" toml:"path"`
}

// ContainerConfig configures the container runtime.
type ContainerConfig struct {
	SocketPath string `yaml:"socket_path" toml:"socket_path"`
	NamePrefix string `yaml:"name_prefix" toml:"name_prefix"`
}

// RegistryConfig points at an MCP Registry.
type RegistryConfig struct {
	URL string `yaml:"url" toml:"url"`
	// Disabled removes the discover_servers tool.
	Disabled bool `yaml:"disabled" toml:"disabled"`
}

// TelemetryConfig selects the metric exporters.
type TelemetryConfig struct {
	MetricsEnabled bool              `yaml:"metrics_enabled" toml:"metrics_enabled"`
	OTLPEndpoint   string            `yaml:"otlp_endpoint" toml:"otlp_endpoint"`
	OTLPInsecure   bool              `yaml:"otlp_insecure" toml:"otlp_insecure"`
	OTLPHeaders    map[string]string `yaml:"otlp_headers" toml:"otlp_headers"`
}

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String implements fmt.Stringer.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}
