// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stacklok/toolhive-core/env"
)

// EnvVarPrefix is prepended to a secret name to form its environment variable.
const EnvVarPrefix = "MCPGW_SECRET_"

// ErrReadOnlyProvider is returned by write operations on the environment provider.
var ErrReadOnlyProvider = errors.New("environment secrets provider is read-only")

// EnvironmentProvider reads secrets from MCPGW_SECRET_<NAME> variables.
// Names are upper-cased and any character outside [A-Z0-9_] becomes '_',
// so "github/client-secret" is read from MCPGW_SECRET_GITHUB_CLIENT_SECRET.
type EnvironmentProvider struct {
	env env.Reader
}

// NewEnvironmentProvider creates a provider reading the process environment.
func NewEnvironmentProvider() *EnvironmentProvider {
	return NewEnvironmentProviderWithReader(&env.OSReader{})
}

// NewEnvironmentProviderWithReader creates a provider over an injectable reader.
func NewEnvironmentProviderWithReader(reader env.Reader) *EnvironmentProvider {
	return &EnvironmentProvider{env: reader}
}

// EnvVarName returns the variable a secret name is read from.
func EnvVarName(name string) string {
	var b strings.Builder
	b.WriteString(EnvVarPrefix)
	for _, r := range strings.ToUpper(name) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// GetSecret returns the value of the secret's environment variable.
func (e *EnvironmentProvider) GetSecret(_ context.Context, name string) (string, error) {
	if name == "" {
		return "", ErrEmptySecretName
	}
	value := e.env.Getenv(EnvVarName(name))
	if value == "" {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return value, nil
}

// SetSecret is not supported.
func (*EnvironmentProvider) SetSecret(context.Context, string, string) error {
	return ErrReadOnlyProvider
}

// DeleteSecret is not supported.
func (*EnvironmentProvider) DeleteSecret(context.Context, string) error {
	return ErrReadOnlyProvider
}

// ListSecrets is not supported; the environment is not enumerated.
func (*EnvironmentProvider) ListSecrets(context.Context) ([]SecretDescription, error) {
	return nil, ErrReadOnlyProvider
}

// Cleanup is a no-op.
func (*EnvironmentProvider) Cleanup() error {
	return nil
}

// Capabilities returns the capabilities of the environment provider.
func (*EnvironmentProvider) Capabilities() ProviderCapabilities {
	return ProviderCapabilities{CanRead: true}
}
