// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"time"

	"dario.cat/mergo"
)

// Default values applied to every unset field.
const (
	DefaultListenAddress       = "127.0.0.1:50080"
	DefaultAdminAddress        = "127.0.0.1:50081"
	DefaultMaxConnections      = 20
	DefaultConnectTimeout      = 30 * time.Second
	DefaultHealthCheckInterval = 60 * time.Second
	DefaultRateLimit           = 100
	DefaultRateWindow          = 60 * time.Second
	DefaultOAuthBaseURL        = "http://localhost:50080"
	DefaultStorageType         = "memory"
	DefaultSecretsProvider     = "encrypted"
	DefaultContainerPrefix     = "mcpgw-"
	DefaultRegistryURL         = "https://registry.modelcontextprotocol.io"
	DefaultRedisKeyPrefix      = "mcpgw:"
)

// Defaults returns a configuration holding every default value.
func Defaults() *Config {
	return &Config{
		Listen: ListenConfig{Address: DefaultListenAddress},
		Admin:  ListenConfig{Address: DefaultAdminAddress},
		Gateway: GatewayConfig{
			MaxConnections:      DefaultMaxConnections,
			ConnectTimeout:      Duration(DefaultConnectTimeout),
			HealthCheckInterval: Duration(DefaultHealthCheckInterval),
			RateLimit:           DefaultRateLimit,
			RateWindow:          Duration(DefaultRateWindow),
		},
		OAuth:     OAuthConfig{BaseURL: DefaultOAuthBaseURL},
		Storage:   StorageConfig{Type: DefaultStorageType, Redis: RedisConfig{KeyPrefix: DefaultRedisKeyPrefix}},
		Secrets:   SecretsConfig{Provider: DefaultSecretsProvider},
		Container: ContainerConfig{NamePrefix: DefaultContainerPrefix},
		Registry:  RegistryConfig{URL: DefaultRegistryURL},
	}
}

// applyDefaults fills every zero field of cfg from Defaults. Values already
// set are left alone.
func applyDefaults(cfg *Config) error {
	return mergo.Merge(cfg, Defaults())
}
