// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopeListUnmarshal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want ScopeList
	}{
		{"space separated", `"openid profile  email"`, ScopeList{"openid", "profile", "email"}},
		{"array", `["openid", " ", "email"]`, ScopeList{"openid", "email"}},
		{"empty string", `""`, nil},
		{"null", `null`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var got ScopeList
			require.NoError(t, json.Unmarshal([]byte(tt.in), &got))
			assert.Equal(t, tt.want, got)
		})
	}

	var bad ScopeList
	assert.Error(t, json.Unmarshal([]byte(`42`), &bad))
}

func TestRegisterClient(t *testing.T) {
	t.Parallel()

	var received RegistrationRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, UserAgent, r.Header.Get("User-Agent"))
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"client_id":"abc","client_secret":"s3cret","scope":["repo"]}`))
	}))
	t.Cleanup(srv.Close)

	resp, err := RegisterClient(context.Background(), srv.Client(), srv.URL,
		NewRegistrationRequest("http://localhost:50080/mcp/oauth/callback", []string{"repo"}))
	require.NoError(t, err)
	assert.Equal(t, "abc", resp.ClientID)
	assert.Equal(t, ScopeList{"repo"}, resp.Scope)

	assert.Equal(t, []string{"http://localhost:50080/mcp/oauth/callback"}, received.RedirectURIs)
	assert.Equal(t, ClientName, received.ClientName)
	assert.Equal(t, []string{"authorization_code", "refresh_token"}, received.GrantTypes)
	assert.Equal(t, "none", received.TokenEndpointAuthMethod)

	info := resp.ClientInfo(&ServerMetadata{AuthorizationEndpoint: "a", TokenEndpoint: "t"})
	assert.Equal(t, "s3cret", info.ClientSecret)
	assert.Equal(t, "repo", info.Scope)
	assert.Equal(t, "t", info.TokenEndpoint)
}

func TestRegisterClientErrors(t *testing.T) {
	t.Parallel()

	noID := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(noID.Close)
	rejected := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	t.Cleanup(rejected.Close)

	req := NewRegistrationRequest("http://localhost/cb", nil)
	tests := []struct {
		name     string
		endpoint string
		req      *RegistrationRequest
	}{
		{"plain http off loopback", "http://auth.example.com/register", req},
		{"no redirect uri", noID.URL, &RegistrationRequest{}},
		{"missing client id", noID.URL, req},
		{"server rejects", rejected.URL, req},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := RegisterClient(context.Background(), http.DefaultClient, tt.endpoint, tt.req)
			assert.Error(t, err)
		})
	}
}
