// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"encoding/json"
	"net/http"
	"strings"
)

// WellKnownOAuthResourcePath is the RFC 9728 metadata path.
const WellKnownOAuthResourcePath = "/.well-known/oauth-protected-resource"

// RFC9728AuthInfo is OAuth protected-resource metadata.
type RFC9728AuthInfo struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	BearerMethodsSupported []string `json:"bearer_methods_supported"`
	JWKSURI                string   `json:"jwks_uri,omitempty"`
	ScopesSupported        []string `json:"scopes_supported"`
}

// NewAuthInfoHandler serves RFC 9728 metadata for resourceURL.
func NewAuthInfoHandler(issuer, jwksURL, resourceURL string, scopes []string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "mcp-protocol-version, Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if resourceURL == "" {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		supported := scopes
		if len(supported) == 0 {
			supported = []string{"openid"}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(RFC9728AuthInfo{
			Resource:               resourceURL,
			AuthorizationServers:   []string{issuer},
			BearerMethodsSupported: []string{"header"},
			JWKSURI:                jwksURL,
			ScopesSupported:        supported,
		})
	})
}

// NewWellKnownHandler routes /.well-known/oauth-protected-resource and its
// subpaths to authInfoHandler and 404s every other well-known path. A nil
// authInfoHandler yields nil.
func NewWellKnownHandler(authInfoHandler http.Handler) http.Handler {
	if authInfoHandler == nil {
		return nil
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, WellKnownOAuthResourcePath) {
			authInfoHandler.ServeHTTP(w, r)
			return
		}
		http.NotFound(w, r)
	})
}
