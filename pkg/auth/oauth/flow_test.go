// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/mcp-gateway/pkg/auth/vault"
	gwerrors "github.com/stacklok/mcp-gateway/pkg/errors"
	"github.com/stacklok/mcp-gateway/pkg/resources"
	"github.com/stacklok/mcp-gateway/pkg/secrets"
)

// fakeAuthServer is an MCP server that is also its own authorization server.
type fakeAuthServer struct {
	*httptest.Server
	registrations atomic.Int32
	exchanges     atomic.Int32
}

func newFakeAuthServer(t *testing.T) *fakeAuthServer {
	t.Helper()
	return newFakeAuthServerWithPKCE(t, true)
}

func newFakeAuthServerWithPKCE(t *testing.T, pkce bool) *fakeAuthServer {
	t.Helper()
	f := &fakeAuthServer{}
	// an empty list would mean S256 is assumed
	challengeMethods := []string{"plain"}
	if pkce {
		challengeMethods = []string{"S256"}
	}
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
	mux.HandleFunc(WellKnownProtectedResourcePath, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"resource":              f.URL + "/mcp",
			"authorization_servers": []string{f.URL},
		})
	})
	mux.HandleFunc(WellKnownOAuthServerPath, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"issuer":                           f.URL,
			"authorization_endpoint":           f.URL + "/authorize",
			"token_endpoint":                   f.URL + "/token",
			"registration_endpoint":            f.URL + "/register",
			"code_challenge_methods_supported": challengeMethods,
		})
	})
	mux.HandleFunc("/register", func(w http.ResponseWriter, r *http.Request) {
		f.registrations.Add(1)
		var req RegistrationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.RedirectURIs) == 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_client_metadata"})
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"client_id":     "dyn-client",
			"redirect_uris": req.RedirectURIs,
			"scope":         req.Scope,
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
			return
		}
		switch r.PostForm.Get("grant_type") {
		case "authorization_code":
			if r.PostForm.Get("code") != "good-code" || (pkce && r.PostForm.Get("code_verifier") == "") {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
				return
			}
			f.exchanges.Add(1)
			writeJSON(w, http.StatusOK, map[string]any{
				"access_token":  "access-1",
				"token_type":    "Bearer",
				"refresh_token": "refresh-1",
				"expires_in":    3600,
			})
		case "refresh_token":
			if r.PostForm.Get("refresh_token") != "refresh-1" {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"access_token":  "access-2",
				"token_type":    "Bearer",
				"refresh_token": "refresh-2",
				"expires_in":    3600,
			})
		default:
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		}
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func newTestVault(t *testing.T) *vault.Vault {
	t.Helper()
	key := sha256.Sum256([]byte("test-password"))
	store, err := secrets.NewEncryptedManager(filepath.Join(t.TempDir(), "secrets"), key[:])
	require.NoError(t, err)
	return vault.New(store)
}

func newTestFlow(t *testing.T, srv *fakeAuthServer, defs ...*resources.ServerDefinition) (*Flow, *vault.Vault) {
	t.Helper()
	v := newTestVault(t)
	store := resources.NewMemoryStore()
	for _, d := range defs {
		require.NoError(t, store.Upsert(context.Background(), d))
	}
	f, err := NewFlow(Config{
		Vault:       v,
		Servers:     store,
		HTTPClient:  srv.Client(),
		StateSecret: []byte("0123456789abcdef0123456789abcdef"),
		BaseURL:     "http://localhost:50080/",
	})
	require.NoError(t, err)
	return f, v
}

func httpServer(srv *fakeAuthServer) *resources.ServerDefinition {
	return &resources.ServerDefinition{
		Name:         "github",
		Transport:    resources.TransportStreamableHTTP,
		URL:          srv.URL + "/mcp",
		DefaultScope: "repo read:user",
	}
}

func TestNewFlowValidation(t *testing.T) {
	t.Parallel()

	v := newTestVault(t)
	store := resources.NewMemoryStore()
	secret := []byte("0123456789abcdef")

	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing vault", Config{Servers: store, StateSecret: secret, BaseURL: "http://x"}},
		{"short secret", Config{Vault: v, Servers: store, StateSecret: []byte("short"), BaseURL: "http://x"}},
		{"missing base url", Config{Vault: v, Servers: store, StateSecret: secret}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewFlow(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestFlowStartRegistersClient(t *testing.T) {
	t.Parallel()
	srv := newFakeAuthServer(t)
	def := httpServer(srv)
	f, v := newTestFlow(t, srv, def)
	ctx := context.Background()

	res, err := f.Start(ctx, "alice", def)
	require.NoError(t, err)

	assert.Equal(t, "github", res.ServiceID)
	assert.Equal(t, srv.URL+"/mcp", res.ServerURL)
	assert.Equal(t, "dyn-client", res.ClientID)
	assert.Equal(t, "repo read:user", res.Scopes)
	assert.Equal(t, "http://localhost:50080/mcp/oauth/callback", res.CallbackURL)

	authURL, err := url.Parse(res.AuthorizationURL)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/authorize", authURL.Scheme+"://"+authURL.Host+authURL.Path)
	q := authURL.Query()
	assert.Equal(t, "dyn-client", q.Get("client_id"))
	assert.Equal(t, res.State, q.Get("state"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))
	assert.Equal(t, srv.URL+"/mcp", q.Get("resource"))
	assert.Equal(t, "repo read:user", q.Get("scope"))

	info := v.GetClientInfo(ctx, "alice", "github")
	require.NotNil(t, info)
	assert.Equal(t, "dyn-client", info.ClientID)
	assert.Equal(t, srv.URL+"/token", info.TokenEndpoint)

	// the stored registration is reused
	_, err = f.Start(ctx, "alice", def)
	require.NoError(t, err)
	assert.Equal(t, int32(1), srv.registrations.Load())
}

func TestFlowStartUsesConfiguredClient(t *testing.T) {
	t.Parallel()
	srv := newFakeAuthServer(t)
	def := httpServer(srv)
	def.OAuthClientID = "static-client"
	f, _ := newTestFlow(t, srv, def)

	res, err := f.Start(context.Background(), "alice", def)
	require.NoError(t, err)
	assert.Equal(t, "static-client", res.ClientID)
	assert.Zero(t, srv.registrations.Load())
}

func TestFlowStartRejectsStdio(t *testing.T) {
	t.Parallel()
	srv := newFakeAuthServer(t)
	f, _ := newTestFlow(t, srv)

	_, err := f.Start(context.Background(), "alice", &resources.ServerDefinition{
		Name:      "local",
		Transport: resources.TransportStdio,
		Command:   "npx",
	})
	require.Error(t, err)
	assert.True(t, gwerrors.IsInvalidArgument(err))
}

func TestFlowComplete(t *testing.T) {
	t.Parallel()
	srv := newFakeAuthServer(t)
	def := httpServer(srv)
	f, v := newTestFlow(t, srv, def)
	ctx := context.Background()

	res, err := f.Start(ctx, "alice", def)
	require.NoError(t, err)

	st, err := f.Complete(ctx, res.State, "good-code")
	require.NoError(t, err)
	assert.Equal(t, "alice", st.UserID)
	assert.Equal(t, "github", st.ServiceID)

	rec := v.GetTokens(ctx, "alice", "github")
	require.NotNil(t, rec)
	assert.Equal(t, "access-1", rec.AccessToken)
	assert.Equal(t, "refresh-1", rec.RefreshToken)
	assert.Positive(t, rec.ExpiresIn)

	// the state is consumed by the first exchange
	_, err = f.Complete(ctx, res.State, "good-code")
	require.ErrorIs(t, err, ErrInvalidState)
	assert.True(t, gwerrors.IsInvalidArgument(err))
	assert.Equal(t, int32(1), srv.exchanges.Load())
}

func TestFlowCompleteRejectsReplayWithoutPKCE(t *testing.T) {
	t.Parallel()
	srv := newFakeAuthServerWithPKCE(t, false)
	def := httpServer(srv)
	f, v := newTestFlow(t, srv, def)
	ctx := context.Background()

	res, err := f.Start(ctx, "alice", def)
	require.NoError(t, err)
	authURL, err := url.Parse(res.AuthorizationURL)
	require.NoError(t, err)
	assert.Empty(t, authURL.Query().Get("code_challenge"))

	_, err = f.Complete(ctx, res.State, "good-code")
	require.NoError(t, err)
	require.NotNil(t, v.GetTokens(ctx, "alice", "github"))

	_, err = f.Complete(ctx, res.State, "good-code")
	require.ErrorIs(t, err, ErrInvalidState)
	assert.True(t, gwerrors.IsInvalidArgument(err))
	assert.Equal(t, int32(1), srv.exchanges.Load())
}

func TestFlowCompleteRejectsUnissuedState(t *testing.T) {
	t.Parallel()
	srv := newFakeAuthServerWithPKCE(t, false)
	def := httpServer(srv)
	f, _ := newTestFlow(t, srv, def)

	forged, _, err := f.signer.Sign(State{UserID: "alice", ServiceID: "github"})
	require.NoError(t, err)

	_, err = f.Complete(context.Background(), forged, "good-code")
	require.ErrorIs(t, err, ErrInvalidState)
	assert.Zero(t, srv.exchanges.Load())
}

func TestFlowCompleteRejectsBadInput(t *testing.T) {
	t.Parallel()
	srv := newFakeAuthServer(t)
	def := httpServer(srv)
	f, _ := newTestFlow(t, srv, def)
	ctx := context.Background()

	res, err := f.Start(ctx, "alice", def)
	require.NoError(t, err)

	_, err = f.Complete(ctx, res.State+"00", "good-code")
	assert.True(t, gwerrors.IsInvalidArgument(err))

	_, err = f.Complete(ctx, res.State, "")
	assert.True(t, gwerrors.IsInvalidArgument(err))

	orphan, orphanState, err := f.signer.Sign(State{UserID: "alice", ServiceID: "deleted"})
	require.NoError(t, err)
	f.rememberState(orphanState.Nonce, "")
	_, err = f.Complete(ctx, orphan, "good-code")
	assert.True(t, gwerrors.IsNotFound(err))
	assert.Zero(t, srv.exchanges.Load())
}

func TestFlowTokenSource(t *testing.T) {
	t.Parallel()
	srv := newFakeAuthServer(t)
	def := httpServer(srv)
	def.OAuthClientID = "static-client"
	f, v := newTestFlow(t, srv, def)
	ctx := context.Background()

	_, err := f.TokenSource(ctx, "alice", def)
	require.Error(t, err)
	assert.True(t, gwerrors.IsCredential(err))

	v.SetTokens(ctx, "alice", "github", &vault.Record{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(-time.Minute),
	})

	ts, err := f.TokenSource(ctx, "alice", def)
	require.NoError(t, err)
	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "access-2", tok.AccessToken)

	rec := v.GetTokens(ctx, "alice", "github")
	require.NotNil(t, rec)
	assert.Equal(t, "access-2", rec.AccessToken)
	assert.Equal(t, "refresh-2", rec.RefreshToken)
}
