// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net"
	neturl "net/url"
	"regexp"

	gwerrors "github.com/stacklok/mcp-gateway/pkg/errors"
)

var pathToken = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Validator checks a loaded configuration.
type Validator struct{}

// NewValidator returns a Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate reports every problem found in cfg as one configuration error.
func (*Validator) Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateAddress("listen.address", cfg.Listen.Address))
	if cfg.Admin.Socket == "" {
		errs = append(errs, validateAddress("admin.address", cfg.Admin.Address))
	}
	if cfg.Listen.Socket != "" {
		errs = append(errs, errors.New("listen.socket is not supported; the MCP endpoint needs a TCP address"))
	}
	if cfg.Admin.Socket == "" && cfg.Listen.Address == cfg.Admin.Address {
		errs = append(errs, errors.New("listen.address and admin.address must differ"))
	}

	g := cfg.Gateway
	if g.PathToken != "" && !pathToken.MatchString(g.PathToken) {
		errs = append(errs, errors.New("gateway.path_token may only contain letters, digits, '-' and '_'"))
	}
	if g.MaxConnections <= 0 {
		errs = append(errs, errors.New("gateway.max_connections must be positive"))
	}
	if g.ConnectTimeout <= 0 || g.HealthCheckInterval <= 0 || g.RateWindow <= 0 {
		errs = append(errs, errors.New("gateway durations must be positive"))
	}
	if g.RateLimit <= 0 {
		errs = append(errs, errors.New("gateway.rate_limit must be positive"))
	}

	errs = append(errs, validateURL("oauth.base_url", cfg.OAuth.BaseURL))
	if in := cfg.OAuth.Inbound; in.Enabled() {
		errs = append(errs, validateURL("oauth.inbound.issuer", in.Issuer))
		if in.Audience == "" {
			errs = append(errs, errors.New("oauth.inbound.audience is required when an issuer is set"))
		}
		if in.JWKSURL != "" {
			errs = append(errs, validateURL("oauth.inbound.jwks_url", in.JWKSURL))
		}
	}

	switch cfg.Storage.Type {
	case "memory":
	case "sqlite":
		if cfg.Storage.SQLite.Path == "" {
			errs = append(errs, errors.New("storage.sqlite.path is required for the sqlite backend"))
		}
	case "redis":
		if len(cfg.Storage.Redis.Addrs()) == 0 {
			errs = append(errs, errors.New("storage.redis.address is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.type %q is not one of memory, sqlite, redis", cfg.Storage.Type))
	}

	switch cfg.Secrets.Provider {
	case "encrypted", "environment":
	default:
		errs = append(errs, fmt.Errorf("secrets.provider %q is not one of encrypted, environment", cfg.Secrets.Provider))
	}

	if !cfg.Registry.Disabled {
		errs = append(errs, validateURL("registry.url", cfg.Registry.URL))
	}

	seen := make(map[string]bool, len(cfg.Servers))
	for i, def := range cfg.Servers {
		if def == nil {
			errs = append(errs, fmt.Errorf("servers[%d] is empty", i))
			continue
		}
		if err := def.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("servers[%d]: %w", i, err))
		}
		if seen[def.Name] {
			errs = append(errs, fmt.Errorf("servers[%d]: duplicate name %q", i, def.Name))
		}
		seen[def.Name] = true
	}

	if err := errors.Join(errs...); err != nil {
		return gwerrors.NewConfigurationError("invalid configuration", err)
	}
	return nil
}

func validateAddress(field, addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("%s %q: %w", field, addr, err)
	}
	return nil
}

func validateURL(field, raw string) error {
	u, err := neturl.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s %q must be an absolute http(s) URL", field, raw)
	}
	return nil
}
