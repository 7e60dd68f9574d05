// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// IdentityContextKey is the context key under which the caller is stored.
type IdentityContextKey struct{}

// WithIdentity stores identity in ctx. A nil identity leaves ctx unchanged.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, IdentityContextKey{}, identity)
}

// IdentityFromContext returns the caller stored by WithIdentity.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(IdentityContextKey{}).(*Identity)
	return identity, ok
}

// claimsToIdentity maps validated claims to an Identity. The subject comes
// from sub, falling back to oid.
func claimsToIdentity(claims jwt.MapClaims, token string) (*Identity, error) {
	sub := stringClaim(claims, "sub")
	if sub == "" {
		sub = stringClaim(claims, "oid")
	}
	if sub == "" {
		return nil, errors.New("token has neither a sub nor an oid claim")
	}

	identity := &Identity{
		Subject: sub,
		Name:    stringClaim(claims, "name"),
		Email:   stringClaim(claims, "preferred_username"),
		Roles:   listClaim(claims, "roles"),
		Claims:  claims,
		Token:   token,
	}
	if identity.Email == "" {
		identity.Email = stringClaim(claims, "email")
	}
	identity.Scopes = listClaim(claims, "scp")
	if len(identity.Scopes) == 0 {
		identity.Scopes = listClaim(claims, "scope")
	}
	return identity, nil
}

func stringClaim(claims jwt.MapClaims, name string) string {
	s, _ := claims[name].(string)
	return s
}

// listClaim accepts a space-separated string or a JSON array.
func listClaim(claims jwt.MapClaims, name string) []string {
	switch v := claims[name].(type) {
	case string:
		return strings.Fields(v)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	default:
		return nil
	}
}
