// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package oauth drives the outbound authorization-code flow that gives the
// gateway per-user access tokens for streamable HTTP backends.
package oauth

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"slices"
	"strings"

	"github.com/stacklok/mcp-gateway/pkg/logger"
	"github.com/stacklok/mcp-gateway/pkg/networking"
)

// UserAgent is sent on every discovery and registration request.
const UserAgent = "mcpgw/1.0"

const (
	// WellKnownOIDCPath is the OpenID Connect discovery suffix.
	WellKnownOIDCPath = "/.well-known/openid-configuration"
	// WellKnownOAuthServerPath is the RFC 8414 metadata prefix.
	WellKnownOAuthServerPath = "/.well-known/oauth-authorization-server"
	// WellKnownProtectedResourcePath is the RFC 9728 metadata prefix.
	WellKnownProtectedResourcePath = "/.well-known/oauth-protected-resource"

	pkceMethodS256 = "S256"
)

// ServerMetadata is the subset of authorization server metadata the flow
// needs.
type ServerMetadata struct {
	Issuer                        string   `json:"issuer"`
	AuthorizationEndpoint         string   `json:"authorization_endpoint"`
	TokenEndpoint                 string   `json:"token_endpoint"`
	RegistrationEndpoint          string   `json:"registration_endpoint,omitempty"`
	ScopesSupported               []string `json:"scopes_supported,omitempty"`
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported,omitempty"`
}

// SupportsPKCE reports whether the server advertises S256 code challenges.
// Servers that advertise nothing are assumed to accept them, as OAuth 2.1
// requires.
func (m *ServerMetadata) SupportsPKCE() bool {
	return len(m.CodeChallengeMethodsSupported) == 0 ||
		slices.Contains(m.CodeChallengeMethodsSupported, pkceMethodS256)
}

func (m *ServerMetadata) validate() error {
	if m.AuthorizationEndpoint == "" {
		return fmt.Errorf("missing authorization_endpoint")
	}
	if m.TokenEndpoint == "" {
		return fmt.Errorf("missing token_endpoint")
	}
	return nil
}

type protectedResourceMetadata struct {
	Resource             string   `json:"resource"`
	AuthorizationServers []string `json:"authorization_servers"`
	ScopesSupported      []string `json:"scopes_supported,omitempty"`
}

// DiscoverAuthorizationServer locates the authorization server guarding an
// MCP server. The protected resource metadata of the server is consulted
// first; without it the server's origin is taken to be the issuer.
func DiscoverAuthorizationServer(
	ctx context.Context, client networking.HTTPClient, serverURL string,
) (*ServerMetadata, error) {
	u, err := url.Parse(serverURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q", serverURL)
	}
	origin := (&url.URL{Scheme: u.Scheme, Host: u.Host}).String()

	issuer := origin
	prm, err := networking.FetchJSON[protectedResourceMetadata](ctx, client,
		origin+WellKnownProtectedResourcePath, networking.WithHeader("User-Agent", UserAgent))
	switch {
	case err != nil:
		logger.Debugf("No protected resource metadata at %s: %v", origin, err)
	case len(prm.Data.AuthorizationServers) > 0:
		issuer = prm.Data.AuthorizationServers[0]
	}

	meta, err := DiscoverServerMetadata(ctx, client, issuer)
	if err != nil {
		return nil, err
	}
	if len(meta.ScopesSupported) == 0 && prm != nil {
		meta.ScopesSupported = prm.Data.ScopesSupported
	}
	return meta, nil
}

// DiscoverServerMetadata fetches RFC 8414 metadata for issuer, falling back
// to OpenID Connect discovery.
func DiscoverServerMetadata(ctx context.Context, client networking.HTTPClient, issuer string) (*ServerMetadata, error) {
	oauthURL, oidcURL, err := buildWellKnownURLs(issuer)
	if err != nil {
		return nil, err
	}

	var errs []string
	for _, candidate := range []string{oauthURL, oidcURL} {
		res, err := networking.FetchJSON[ServerMetadata](ctx, client, candidate,
			networking.WithHeader("User-Agent", UserAgent))
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		meta := res.Data
		if err := meta.validate(); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", candidate, err))
			continue
		}
		if meta.Issuer != "" && strings.TrimSuffix(meta.Issuer, "/") != strings.TrimSuffix(issuer, "/") {
			errs = append(errs, fmt.Sprintf("%s: issuer mismatch: expected %s, got %s", candidate, issuer, meta.Issuer))
			continue
		}
		return &meta, nil
	}
	return nil, fmt.Errorf("unable to discover authorization server metadata for %s: %s",
		issuer, strings.Join(errs, "; "))
}

// buildWellKnownURLs places the well-known suffixes as RFC 8414 and OpenID
// Connect each expect for issuers with a path component.
func buildWellKnownURLs(issuer string) (oauthURL, oidcURL string, err error) {
	issuerURL, err := url.Parse(issuer)
	if err != nil || issuerURL.Host == "" {
		return "", "", fmt.Errorf("invalid issuer URL %q", issuer)
	}
	tenant := strings.Trim(issuerURL.EscapedPath(), "/")
	base := url.URL{Scheme: issuerURL.Scheme, Host: issuerURL.Host}

	oauth := base
	oauth.Path = path.Join(WellKnownOAuthServerPath, tenant)
	oidc := base
	oidc.Path = path.Join("/", tenant, WellKnownOIDCPath)
	return oauth.String(), oidc.String(), nil
}
