// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package aes

import (
	"bytes"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(password string) []byte {
	k := sha256.Sum256([]byte(password))
	return k[:]
}

func TestEncryptDecrypt(t *testing.T) {
	t.Parallel()

	key := testKey("correct horse")
	plaintext := []byte(`{"secrets":{"github":"ghp_123"}}`)

	ciphertext, err := Encrypt(plaintext, key)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(ciphertext, []byte("ghp_123")))

	got, err := Decrypt(ciphertext, key)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestEncrypt_UsesFreshNonce(t *testing.T) {
	t.Parallel()

	key := testKey("k")
	a, err := Encrypt([]byte("same"), key)
	require.NoError(t, err)
	b, err := Encrypt([]byte("same"), key)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestDecrypt_Errors(t *testing.T) {
	t.Parallel()

	key := testKey("right")
	ciphertext, err := Encrypt([]byte("payload"), key)
	require.NoError(t, err)

	tampered := bytes.Clone(ciphertext)
	tampered[len(tampered)-1] ^= 0xff

	tests := []struct {
		name       string
		ciphertext []byte
		key        []byte
	}{
		{"wrong key", ciphertext, testKey("wrong")},
		{"tampered", tampered, key},
		{"too short", []byte("abc"), key},
		{"bad key size", ciphertext, []byte("short")},
		{"too large", make([]byte, maxCiphertextSize+1), key},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decrypt(tt.ciphertext, tt.key)
			assert.Error(t, err)
		})
	}
}
