// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package keyring

import (
	"errors"
	"fmt"

	zkeyring "github.com/zalando/go-keyring"
)

const availabilityService = "mcpgw-availability-check"

type osProvider struct{}

// NewOSProvider returns a Provider backed by the platform keyring
// (Secret Service on Linux, Keychain on macOS, Credential Manager on Windows).
func NewOSProvider() Provider {
	return osProvider{}
}

func (osProvider) Set(service, key, value string) error {
	return zkeyring.Set(service, key, value)
}

func (osProvider) Get(service, key string) (string, error) {
	value, err := zkeyring.Get(service, key)
	if errors.Is(err, zkeyring.ErrNotFound) {
		return "", ErrNotFound
	}
	return value, err
}

func (osProvider) Delete(service, key string) error {
	err := zkeyring.Delete(service, key)
	if errors.Is(err, zkeyring.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func (osProvider) DeleteAll(service string) error {
	if err := zkeyring.DeleteAll(service); err != nil {
		return fmt.Errorf("failed to clear keyring service %s: %w", service, err)
	}
	return nil
}

func (p osProvider) IsAvailable() bool {
	key := GenerateUniqueTestKey()
	if err := p.Set(availabilityService, key, "probe"); err != nil {
		return false
	}
	_ = p.Delete(availabilityService, key)
	return true
}

func (osProvider) Name() string {
	return "OS keyring"
}
