// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/adrg/xdg"
	"github.com/pelletier/go-toml/v2"
	"github.com/stacklok/toolhive-core/env"
	"gopkg.in/yaml.v3"

	gwerrors "github.com/stacklok/mcp-gateway/pkg/errors"
	"github.com/stacklok/mcp-gateway/pkg/logger"
)

const defaultConfigFile = "mcpgw/config.yaml"

var envReference = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// DefaultPath returns $XDG_CONFIG_HOME/mcpgw/config.yaml.
func DefaultPath() (string, error) {
	return xdg.ConfigFile(defaultConfigFile)
}

// Loader reads a configuration file.
type Loader struct {
	path      string
	explicit  bool
	envReader env.Reader
}

// NewLoader returns a loader for path. An empty path selects DefaultPath,
// which may be absent. An explicitly named file must exist.
func NewLoader(path string, envReader env.Reader) *Loader {
	if envReader == nil {
		envReader = &env.OSReader{}
	}
	return &Loader{path: path, explicit: path != "", envReader: envReader}
}

// Load reads, expands, decodes, defaults and validates the configuration.
func (l *Loader) Load() (*Config, error) {
	path := l.path
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, fmt.Errorf("unable to resolve config path: %w", err)
		}
		path = p
	}

	cfg := &Config{}
	// #nosec G304: the path comes from the operator
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(path, l.expand(data), cfg); err != nil {
			return nil, err
		}
		logger.Debugf("loaded configuration from %s", path)
	case errors.Is(err, fs.ErrNotExist) && !l.explicit:
		logger.Debugf("no configuration at %s, using defaults", path)
	default:
		return nil, gwerrors.NewConfigurationError(fmt.Sprintf("failed to read config file %s", path), err)
	}

	if err := applyDefaults(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	if err := NewValidator().Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expand replaces ${VAR} with the variable's value. Unset variables expand
// to the empty string.
func (l *Loader) expand(data []byte) []byte {
	return envReference.ReplaceAllFunc(data, func(m []byte) []byte {
		name := string(m[2 : len(m)-1])
		return []byte(l.envReader.Getenv(name))
	})
}

func decode(path string, data []byte, cfg *Config) error {
	var err error
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml", "":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(cfg)
		if errors.Is(err, io.EOF) {
			err = nil
		}
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(cfg)
	default:
		return gwerrors.NewConfigurationError(
			fmt.Sprintf("unsupported config format %q (use .yaml, .yml or .toml)", ext), nil)
	}
	if err != nil {
		return gwerrors.NewConfigurationError(fmt.Sprintf("failed to parse config file %s", path), err)
	}
	return nil
}
