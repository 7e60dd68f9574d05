// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKeyID    = "test-key-1"
	testIssuer   = "https://issuer.example.com"
	testAudience = "mcp-gateway"
)

func newTestValidator(t *testing.T) (*TokenValidator, *rsa.PrivateKey) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	key, err := jwk.Import(&privateKey.PublicKey)
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, testKeyID))
	require.NoError(t, key.Set(jwk.AlgorithmKey, "RS256"))
	keySet := jwk.NewSet()
	require.NoError(t, keySet.AddKey(key))

	jwksServer := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(keySet)
	}))
	t.Cleanup(jwksServer.Close)

	v, err := NewTokenValidator(t.Context(), TokenValidatorConfig{
		Issuer:              testIssuer,
		Audience:            testAudience,
		JWKSURL:             jwksServer.URL,
		ResourceMetadataURL: "https://gw.example.com/.well-known/oauth-protected-resource",
		HTTPClient:          jwksServer.Client(),
	})
	require.NoError(t, err)
	return v, privateKey
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"iss":                testIssuer,
		"aud":                testAudience,
		"sub":                "user-1",
		"name":               "Alice",
		"preferred_username": "alice@example.com",
		"roles":              []any{"mcp.admin", "engineering"},
		"scp":                "tools.read tools.execute",
		"exp":                time.Now().Add(time.Hour).Unix(),
	}
}

func TestTokenValidator_ValidateToken(t *testing.T) {
	t.Parallel()
	v, key := newTestValidator(t)

	tests := []struct {
		name    string
		mutate  func(jwt.MapClaims)
		kid     string
		wantErr error
	}{
		{name: "valid", mutate: func(jwt.MapClaims) {}},
		{name: "wrong issuer", mutate: func(c jwt.MapClaims) { c["iss"] = "https://evil.example.com" }, wantErr: ErrInvalidIssuer},
		{name: "wrong audience", mutate: func(c jwt.MapClaims) { c["aud"] = "other" }, wantErr: ErrInvalidAudience},
		{name: "expired", mutate: func(c jwt.MapClaims) { c["exp"] = time.Now().Add(-time.Hour).Unix() }, wantErr: ErrTokenExpired},
		{name: "unknown key", mutate: func(jwt.MapClaims) {}, kid: "other-key", wantErr: ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			claims := validClaims()
			tt.mutate(claims)
			kid := tt.kid
			if kid == "" {
				kid = testKeyID
			}

			identity, err := v.ValidateToken(t.Context(), signToken(t, key, kid, claims))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "user-1", identity.Subject)
			assert.Equal(t, "Alice", identity.Name)
			assert.Equal(t, "alice@example.com", identity.Email)
			assert.Equal(t, []string{"mcp.admin", "engineering"}, identity.Roles)
			assert.True(t, identity.HasAllScopes("tools.read", "tools.execute"))
			assert.False(t, identity.HasScope("discover"))
		})
	}

	_, err := v.ValidateToken(t.Context(), "")
	require.ErrorIs(t, err, ErrNoToken)
}

func TestTokenValidator_Middleware(t *testing.T) {
	t.Parallel()
	v, key := newTestValidator(t)

	var seen *Identity
	handler := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t,
		`Bearer realm="https://issuer.example.com", resource_metadata="https://gw.example.com/.well-known/oauth-protected-resource"`,
		rec.Header().Get("WWW-Authenticate"))

	req = httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), `error="invalid_token"`)

	req = httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, key, testKeyID, validClaims()))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "user-1", seen.Subject)
}

func TestNewTokenValidator_DiscoversJWKS(t *testing.T) {
	t.Parallel()

	var server *httptest.Server
	server = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/.well-known/openid-configuration", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(OIDCDiscoveryDocument{Issuer: server.URL, JWKSURI: server.URL + "/jwks"})
	}))
	t.Cleanup(server.Close)

	v, err := NewTokenValidator(t.Context(), TokenValidatorConfig{Issuer: server.URL, HTTPClient: server.Client()})
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/jwks", v.jwksURL)

	_, err = NewTokenValidator(t.Context(), TokenValidatorConfig{})
	require.ErrorIs(t, err, ErrMissingIssuerAndJWKSURL)
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{header: "Bearer abc", want: "abc", ok: true},
		{header: "Bearer   ", ok: false},
		{header: "Basic abc", ok: false},
		{header: "", ok: false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", tt.header)
		got, ok := BearerToken(r)
		assert.Equal(t, tt.ok, ok, tt.header)
		assert.Equal(t, tt.want, got, tt.header)
	}
}
