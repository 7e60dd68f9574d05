// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package secrets

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/adrg/xdg"
	"golang.org/x/term"

	"github.com/stacklok/toolhive-core/httperr"

	"github.com/stacklok/mcp-gateway/pkg/logger"
	"github.com/stacklok/mcp-gateway/pkg/secrets/keyring"
)

const (
	// PasswordEnvVar supplies the encryption password non-interactively.
	PasswordEnvVar = "MCPGW_SECRETS_PASSWORD"

	keyringService = "mcpgw"

	defaultSecretsFile = "mcpgw/secrets_encrypted"
)

// ProviderType represents an enum of the types of available secrets providers.
type ProviderType string

const (
	// EncryptedType represents the encrypted secret provider.
	EncryptedType ProviderType = "encrypted"

	// EnvironmentType represents the environment variable secret provider
	EnvironmentType ProviderType = "environment"
)

// ErrUnknownManagerType is returned when an invalid value for ProviderType is specified.
var ErrUnknownManagerType = httperr.WithCode(
	errors.New("unknown secret manager type"),
	http.StatusBadRequest,
)

// ErrKeyringNotAvailable is returned when the OS keyring is not available for the encrypted provider.
var ErrKeyringNotAvailable = httperr.WithCode(
	errors.New("OS keyring is not available. "+
		"The encrypted provider keeps its password in the OS keyring; "+
		"set "+PasswordEnvVar+" or use the environment provider instead"),
	http.StatusBadRequest,
)

// Options selects and configures a secrets provider.
type Options struct {
	Type ProviderType
	// Path of the encrypted file. Defaults to $XDG_DATA_HOME/mcpgw/secrets_encrypted.
	Path string
	// Password overrides the keyring and the interactive prompt.
	Password string
	// Keyring defaults to the OS keyring.
	Keyring keyring.Provider
	// Prompt reads a password interactively when none is stored. Defaults to
	// reading from the terminal.
	Prompt func() ([]byte, error)
}

// CreateSecretProvider builds the provider described by opts. For the
// encrypted provider the key is the SHA-256 of the password, which comes from
// opts.Password, MCPGW_SECRETS_PASSWORD, the OS keyring or a prompt, in that
// order. A newly entered password is stored in the keyring only after it
// successfully opens the secrets file.
func CreateSecretProvider(opts Options) (Provider, error) {
	switch opts.Type {
	case EncryptedType, "":
		return createEncrypted(opts)
	case EnvironmentType:
		return NewEnvironmentProvider(), nil
	default:
		return nil, ErrUnknownManagerType
	}
}

func createEncrypted(opts Options) (Provider, error) {
	if opts.Password == "" {
		opts.Password = os.Getenv(PasswordEnvVar)
	}
	kr := opts.Keyring
	if kr == nil {
		kr = keyring.NewOSProvider()
	}
	prompt := opts.Prompt
	if prompt == nil {
		prompt = readPasswordStdin
	}

	password, isNew, err := getSecretsPassword(kr, opts.Password, prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to get secrets password: %w", err)
	}

	path := opts.Path
	if path == "" {
		path, err = xdg.DataFile(defaultSecretsFile)
		if err != nil {
			return nil, fmt.Errorf("unable to access secrets file path: %w", err)
		}
	}

	// 256-bit key for AES-GCM
	key := sha256.Sum256(password)
	manager, err := NewEncryptedManager(path, key[:])
	if err != nil {
		// leave the keyring untouched so the user can retry with the right password
		return nil, err
	}

	if isNew {
		logger.Debugf("writing secrets password to %s", kr.Name())
		if err := kr.Set(keyringService, keyringService, string(password)); err != nil {
			return nil, fmt.Errorf("failed to store password in keyring: %w", err)
		}
	}
	return manager, nil
}

// getSecretsPassword returns the password and whether it still has to be
// persisted to the keyring.
func getSecretsPassword(kr keyring.Provider, explicit string, prompt func() ([]byte, error)) ([]byte, bool, error) {
	if explicit != "" {
		return []byte(explicit), false, nil
	}

	stored, err := kr.Get(keyringService, keyringService)
	if err == nil {
		return []byte(stored), false, nil
	}
	if !errors.Is(err, keyring.ErrNotFound) {
		return nil, false, fmt.Errorf("%w: %w", ErrKeyringNotAvailable, err)
	}

	password, err := prompt()
	if err != nil {
		return nil, false, err
	}
	return password, true, nil
}

// ValidateProvider exercises a provider with a throwaway secret.
func ValidateProvider(ctx context.Context, provider Provider) error {
	if !provider.Capabilities().CanWrite {
		_, err := provider.GetSecret(ctx, "setup-validation-missing")
		if err != nil && !errors.Is(err, ErrSecretNotFound) {
			return fmt.Errorf("unexpected error from provider: %w", err)
		}
		return nil
	}

	const testKey, testValue = "setup-validation-test", "test-value"
	if err := provider.SetSecret(ctx, testKey, testValue); err != nil {
		return fmt.Errorf("failed to store test secret: %w", err)
	}
	got, err := provider.GetSecret(ctx, testKey)
	if err != nil {
		return fmt.Errorf("failed to retrieve test secret: %w", err)
	}
	if got != testValue {
		return fmt.Errorf("secret test failed: expected %s, got %s", testValue, got)
	}
	return provider.DeleteSecret(ctx, testKey)
}

// ResetKeyringSecret clears the stored password from the keyring.
func ResetKeyringSecret(kr keyring.Provider) error {
	if kr == nil {
		kr = keyring.NewOSProvider()
	}
	return kr.DeleteAll(keyringService)
}

// GenerateSecurePassword returns a random 256-bit password, base64url encoded.
func GenerateSecurePassword() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

func readPasswordStdin() ([]byte, error) {
	fd := int(os.Stdin.Fd()) // #nosec G115 -- file descriptors fit in int
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("no secrets password available and stdin is not a terminal; set %s", PasswordEnvVar)
	}
	fmt.Print("mcpgw needs a password to encrypt OAuth tokens and backend secrets.\n" +
		"It will be stored in your OS keyring so you won't need to enter it again.\n" +
		"Please enter your password: ")
	password, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}
	if len(password) == 0 {
		return nil, errors.New("password cannot be empty")
	}
	return password, nil
}
