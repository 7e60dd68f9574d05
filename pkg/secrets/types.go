// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package secrets stores the credentials the gateway hands to backends:
// OAuth tokens and client registrations, stdio environment values and
// OAuth client secrets.
package secrets

import (
	"context"
	"errors"
	"net/http"

	"github.com/stacklok/toolhive-core/httperr"
)

// ErrSecretNotFound is returned when a provider does not hold the requested secret.
var ErrSecretNotFound = httperr.WithCode(errors.New("secret not found"), http.StatusNotFound)

// ErrEmptySecretName is returned when an operation is given an empty name.
var ErrEmptySecretName = httperr.WithCode(errors.New("secret name cannot be empty"), http.StatusBadRequest)

// ProviderCapabilities represents what operations a secrets provider supports.
type ProviderCapabilities struct {
	CanRead    bool
	CanWrite   bool
	CanDelete  bool
	CanList    bool
	CanCleanup bool
}

// IsReadOnly returns true if the provider only supports read operations.
func (pc ProviderCapabilities) IsReadOnly() bool {
	return pc.CanRead && !pc.CanWrite && !pc.CanDelete && !pc.CanCleanup
}

// IsReadWrite returns true if the provider supports both read and write operations.
func (pc ProviderCapabilities) IsReadWrite() bool {
	return pc.CanRead && pc.CanWrite
}

// String returns a human-readable description of the capabilities.
func (pc ProviderCapabilities) String() string {
	if pc.IsReadWrite() {
		return "read-write"
	}
	if pc.IsReadOnly() {
		return "read-only"
	}
	return "custom"
}

// Provider describes a type which can manage secrets.
type Provider interface {
	GetSecret(ctx context.Context, name string) (string, error)
	SetSecret(ctx context.Context, name, value string) error
	DeleteSecret(ctx context.Context, name string) error
	ListSecrets(ctx context.Context) ([]SecretDescription, error)
	Cleanup() error
	// Capabilities returns what operations this provider supports
	Capabilities() ProviderCapabilities
}

// SecretDescription is returned by `ListSecrets`.
type SecretDescription struct {
	// Key is the unique identifier for the secret, used when retrieving it.
	Key string `json:"key"`
	// Description is a human-readable note about the secret. May be empty.
	Description string `json:"description"`
}
