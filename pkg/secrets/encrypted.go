// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sync/syncmap"

	"github.com/stacklok/mcp-gateway/pkg/secrets/aes"
)

// EncryptedManager stores secrets in an encrypted file.
// AES-256-GCM is used for encryption.
type EncryptedManager struct {
	filePath string
	// Key used to re-encrypt the secrets file if changes are needed.
	key     []byte
	secrets syncmap.Map
	// writeMu serialises rewrites of the secrets file.
	writeMu sync.Mutex
}

// fileStructure is the structure of the secrets file.
type fileStructure struct {
	Secrets map[string]string `json:"secrets"`
}

// GetSecret retrieves a secret from the secret store.
func (e *EncryptedManager) GetSecret(_ context.Context, name string) (string, error) {
	if name == "" {
		return "", ErrEmptySecretName
	}

	value, ok := e.secrets.Load(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return value.(string), nil
}

// SetSecret stores a secret in the secret store.
func (e *EncryptedManager) SetSecret(_ context.Context, name, value string) error {
	if name == "" {
		return ErrEmptySecretName
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	e.secrets.Store(name, value)
	return e.updateFile()
}

// DeleteSecret removes a secret from the secret store.
func (e *EncryptedManager) DeleteSecret(_ context.Context, name string) error {
	if name == "" {
		return ErrEmptySecretName
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if _, ok := e.secrets.Load(name); !ok {
		return fmt.Errorf("%w: cannot delete %s", ErrSecretNotFound, name)
	}

	e.secrets.Delete(name)
	return e.updateFile()
}

// ListSecrets returns the names of all stored secrets, sorted.
func (e *EncryptedManager) ListSecrets(_ context.Context) ([]SecretDescription, error) {
	var secretNames []SecretDescription

	e.secrets.Range(func(key, _ interface{}) bool {
		secretNames = append(secretNames, SecretDescription{Key: key.(string)})
		return true
	})
	sort.Slice(secretNames, func(i, j int) bool { return secretNames[i].Key < secretNames[j].Key })

	return secretNames, nil
}

// Cleanup removes all secrets managed by this manager.
func (e *EncryptedManager) Cleanup() error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	e.secrets.Range(func(key, _ interface{}) bool {
		e.secrets.Delete(key)
		return true
	})
	return e.updateFile()
}

// Capabilities returns the capabilities of the encrypted provider.
func (*EncryptedManager) Capabilities() ProviderCapabilities {
	return ProviderCapabilities{
		CanRead:    true,
		CanWrite:   true,
		CanDelete:  true,
		CanList:    true,
		CanCleanup: true,
	}
}

func (e *EncryptedManager) updateFile() error {
	secretsMap := make(map[string]string)
	e.secrets.Range(func(key, value interface{}) bool {
		secretsMap[key.(string)] = value.(string)
		return true
	})

	contents, err := json.Marshal(fileStructure{Secrets: secretsMap})
	if err != nil {
		return fmt.Errorf("failed to marshal secrets: %w", err)
	}

	encryptedContents, err := aes.Encrypt(contents, e.key)
	if err != nil {
		return fmt.Errorf("failed to encrypt secrets: %w", err)
	}

	// write-then-rename so a crash never leaves a truncated file behind
	tmp := e.filePath + ".tmp"
	if err := os.WriteFile(tmp, encryptedContents, 0600); err != nil {
		return fmt.Errorf("failed to write secrets to file: %w", err)
	}
	if err := os.Rename(tmp, e.filePath); err != nil {
		return fmt.Errorf("failed to replace secrets file: %w", err)
	}
	return nil
}

// NewEncryptedManager creates an instance of EncryptedManager backed by
// filePath. The file is created if missing; an existing file must decrypt
// with key.
func NewEncryptedManager(filePath string, key []byte) (*EncryptedManager, error) {
	if len(key) == 0 {
		return nil, errors.New("key cannot be empty")
	}

	filePath = filepath.Clean(filePath)
	if err := os.MkdirAll(filepath.Dir(filePath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create secrets directory: %w", err)
	}
	// #nosec G304: path comes from operator configuration
	secretsFile, err := os.OpenFile(filePath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open secrets file: %w", err)
	}
	defer secretsFile.Close()

	stat, err := secretsFile.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat secrets file: %w", err)
	}

	manager := &EncryptedManager{
		filePath: filePath,
		key:      key,
	}

	if stat.Size() > 0 {
		encryptedContents, err := io.ReadAll(secretsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read secrets file: %w", err)
		}
		decryptedContents, err := aes.Decrypt(encryptedContents, key)
		if err != nil {
			return nil, fmt.Errorf("unable to decrypt secrets file: %w", err)
		}

		var contents fileStructure
		if err := json.Unmarshal(decryptedContents, &contents); err != nil {
			return nil, fmt.Errorf("failed to decode secrets file: %w", err)
		}

		for key, value := range contents.Secrets {
			manager.secrets.Store(key, value)
		}
	}

	return manager, nil
}
