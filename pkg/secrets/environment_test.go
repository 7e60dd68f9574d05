// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package secrets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/toolhive-core/env/mocks"
)

func TestEnvVarName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"GITHUB_TOKEN", "MCPGW_SECRET_GITHUB_TOKEN"},
		{"github/client-secret", "MCPGW_SECRET_GITHUB_CLIENT_SECRET"},
		{"api.key", "MCPGW_SECRET_API_KEY"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, EnvVarName(tt.in))
		})
	}
}

func TestEnvironmentProvider_GetSecret(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	ctrl := gomock.NewController(t)

	reader := mocks.NewMockReader(ctrl)
	reader.EXPECT().Getenv("MCPGW_SECRET_GITHUB_TOKEN").Return("ghp_abc")
	reader.EXPECT().Getenv("MCPGW_SECRET_MISSING").Return("")

	p := NewEnvironmentProviderWithReader(reader)

	value, err := p.GetSecret(ctx, "GITHUB_TOKEN")
	require.NoError(t, err)
	assert.Equal(t, "ghp_abc", value)

	_, err = p.GetSecret(ctx, "missing")
	require.ErrorIs(t, err, ErrSecretNotFound)

	_, err = p.GetSecret(ctx, "")
	require.ErrorIs(t, err, ErrEmptySecretName)
}

func TestEnvironmentProvider_IsReadOnly(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	p := NewEnvironmentProviderWithReader(mocks.NewMockReader(gomock.NewController(t)))

	assert.ErrorIs(t, p.SetSecret(ctx, "a", "b"), ErrReadOnlyProvider)
	assert.ErrorIs(t, p.DeleteSecret(ctx, "a"), ErrReadOnlyProvider)
	_, err := p.ListSecrets(ctx)
	assert.ErrorIs(t, err, ErrReadOnlyProvider)
	assert.NoError(t, p.Cleanup())
	assert.True(t, p.Capabilities().IsReadOnly())
	assert.Equal(t, "read-only", p.Capabilities().String())
}
