// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const licenseHeader = "// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.\n" +
	"// SPDX-License-Identifier: Apache-2.0\n\n"

func TestSourceFilesCarryLicenseHeader(t *testing.T) {
	t.Parallel()

	for _, root := range []string{"..", filepath.Join("..", "..", "pkg")} {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() || !strings.HasSuffix(path, ".go") {
				return err
			}
			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(string(data), licenseHeader), "missing license header: %s", path)
			return nil
		})
		require.NoError(t, err)
	}
}
