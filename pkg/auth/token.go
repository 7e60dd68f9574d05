// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/stacklok/mcp-gateway/pkg/logger"
	"github.com/stacklok/mcp-gateway/pkg/networking"
)

var (
	ErrNoToken                 = errors.New("no token provided")
	ErrInvalidToken            = errors.New("invalid token")
	ErrTokenExpired            = errors.New("token expired")
	ErrInvalidIssuer           = errors.New("invalid issuer")
	ErrInvalidAudience         = errors.New("invalid audience")
	ErrFailedToDiscoverOIDC    = errors.New("failed to discover OIDC configuration")
	ErrMissingIssuerAndJWKSURL = errors.New("either issuer or JWKS URL must be provided")
)

// OIDCDiscoveryDocument is the subset of the OpenID provider metadata the
// gateway reads.
type OIDCDiscoveryDocument struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	RegistrationEndpoint  string `json:"registration_endpoint,omitempty"`
	JWKSURI               string `json:"jwks_uri"`
}

// TokenValidatorConfig configures inbound bearer validation.
type TokenValidatorConfig struct {
	Issuer   string
	Audience string
	// JWKSURL is discovered from the issuer when empty.
	JWKSURL string
	// ResourceMetadataURL is advertised in WWW-Authenticate challenges.
	ResourceMetadataURL string
	CACertPath          string
	// HTTPClient overrides the client built from CACertPath.
	HTTPClient *http.Client
}

// TokenValidator verifies RS256 JWTs against a cached JWKS.
type TokenValidator struct {
	issuer              string
	audience            string
	jwksURL             string
	resourceMetadataURL string
	jwksClient          *jwk.Cache

	jwksRegistered     bool
	jwksRegistrationMu sync.Mutex
	jwksRegistrationErr error
}

func discoverOIDCConfiguration(ctx context.Context, client networking.HTTPClient, issuer string) (*OIDCDiscoveryDocument, error) {
	wellKnown := strings.TrimSuffix(issuer, "/") + "/.well-known/openid-configuration"
	res, err := networking.FetchJSON[OIDCDiscoveryDocument](ctx, client, wellKnown)
	if err != nil {
		return nil, err
	}
	if res.Data.JWKSURI == "" {
		return nil, errors.New("discovery document has no jwks_uri")
	}
	return &res.Data, nil
}

// NewTokenValidator creates a validator. The JWKS itself is fetched lazily on
// the first validation.
func NewTokenValidator(ctx context.Context, config TokenValidatorConfig) (*TokenValidator, error) {
	httpClient := config.HTTPClient
	if httpClient == nil {
		var err error
		httpClient, err = networking.NewHttpClientBuilder().WithCABundle(config.CACertPath).Build()
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP client: %w", err)
		}
	}

	jwksURL := config.JWKSURL
	if jwksURL == "" && config.Issuer != "" {
		doc, err := discoverOIDCConfiguration(ctx, httpClient, config.Issuer)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFailedToDiscoverOIDC, err)
		}
		jwksURL = doc.JWKSURI
	}
	if jwksURL == "" {
		return nil, ErrMissingIssuerAndJWKSURL
	}

	cache, err := jwk.NewCache(ctx, httprc.NewClient(httprc.WithHTTPClient(httpClient)))
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS cache: %w", err)
	}

	return &TokenValidator{
		issuer:              config.Issuer,
		audience:            config.Audience,
		jwksURL:             jwksURL,
		resourceMetadataURL: config.ResourceMetadataURL,
		jwksClient:          cache,
	}, nil
}

func (v *TokenValidator) ensureJWKSRegistered(ctx context.Context) error {
	v.jwksRegistrationMu.Lock()
	defer v.jwksRegistrationMu.Unlock()

	if v.jwksRegistered {
		return nil
	}

	registrationCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// a failed registration is retried on the next request
	if err := v.jwksClient.Register(registrationCtx, v.jwksURL); err != nil {
		v.jwksRegistrationErr = fmt.Errorf("failed to register JWKS URL: %w", err)
		return v.jwksRegistrationErr
	}
	v.jwksRegistered = true
	v.jwksRegistrationErr = nil
	return nil
}

func (v *TokenValidator) getKeyFromJWKS(ctx context.Context, token *jwt.Token) (any, error) {
	if err := v.ensureJWKSRegistered(ctx); err != nil {
		return nil, err
	}

	kid, ok := token.Header["kid"].(string)
	if !ok {
		return nil, fmt.Errorf("token header missing kid")
	}

	keySet, err := v.jwksClient.Lookup(ctx, v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("failed to lookup JWKS: %w", err)
	}
	key, found := keySet.LookupKeyID(kid)
	if !found {
		return nil, fmt.Errorf("key ID %s not found in JWKS", kid)
	}

	var rawKey any
	if err := jwk.Export(key, &rawKey); err != nil {
		return nil, fmt.Errorf("failed to export raw key: %w", err)
	}
	return rawKey, nil
}

// ValidateToken verifies the signature, expiry, issuer and audience of
// tokenString and returns the caller it identifies.
func (v *TokenValidator) ValidateToken(ctx context.Context, tokenString string) (*Identity, error) {
	if tokenString == "" {
		return nil, ErrNoToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return v.getKeyFromJWKS(ctx, token)
	}, opts...)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return nil, ErrInvalidIssuer
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return nil, ErrInvalidAudience
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claimsToIdentity(claims, tokenString)
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

// WWWAuthenticate builds an RFC 6750 challenge with the RFC 9728
// resource_metadata parameter.
func (v *TokenValidator) WWWAuthenticate(includeError bool, errDescription string) string {
	var parts []string
	if v.issuer != "" {
		parts = append(parts, fmt.Sprintf(`realm="%s"`, EscapeQuotes(v.issuer)))
	}
	if v.resourceMetadataURL != "" {
		parts = append(parts, fmt.Sprintf(`resource_metadata="%s"`, EscapeQuotes(v.resourceMetadataURL)))
	}
	if includeError {
		parts = append(parts, `error="invalid_token"`)
		if errDescription != "" {
			parts = append(parts, fmt.Sprintf(`error_description="%s"`, EscapeQuotes(errDescription)))
		}
	}
	return "Bearer " + strings.Join(parts, ", ")
}

// Middleware rejects requests without a valid bearer token and stores the
// caller in the request context.
func (v *TokenValidator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := BearerToken(r)
		if !ok {
			w.Header().Set("WWW-Authenticate", v.WWWAuthenticate(false, ""))
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		identity, err := v.ValidateToken(r.Context(), token)
		if err != nil {
			logger.Debugf("Rejected bearer token: %v", err)
			w.Header().Set("WWW-Authenticate", v.WWWAuthenticate(true, err.Error()))
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

// EscapeQuotes escapes a value for an RFC 7230 quoted-string.
func EscapeQuotes(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}
