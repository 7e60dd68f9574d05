// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package keyring

import (
	"crypto/rand"
	"fmt"
	"time"
)

// GenerateUniqueTestKey creates a unique key name used for keyring
// availability checks, so concurrent probes never collide.
func GenerateUniqueTestKey() string {
	randomBytes := make([]byte, 4)
	if _, err := rand.Read(randomBytes); err != nil {
		return fmt.Sprintf("mcpgw-keyring-test-%d", time.Now().UnixNano())
	}

	return fmt.Sprintf("mcpgw-keyring-test-%d-%x", time.Now().UnixNano(), randomBytes)
}
