// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package identity forwards the authenticated caller to backend MCP servers
// as X-Mcp-* headers, after removing any credentials the caller sent.
package identity

import (
	"context"
	"net/http"
	"strings"

	"github.com/stacklok/mcp-gateway/pkg/auth"
)

// Headers injected on proxied requests.
const (
	HeaderUserID   = "X-Mcp-UserId"
	HeaderUserName = "X-Mcp-UserName"
	HeaderRoles    = "X-Mcp-Roles"
	HeaderProject  = "X-Mcp-Project"
)

var strippedHeaders = []string{"authorization", "cookie", "x-csrf-token"}

// User is the caller as seen by backends.
type User struct {
	ID    string
	Name  string
	Roles []string
}

// UserFromIdentity converts a validated caller.
func UserFromIdentity(id *auth.Identity) User {
	if id == nil {
		return User{}
	}
	return User{ID: id.Subject, Name: id.DisplayName(), Roles: id.Roles}
}

// StripAuthHeaders removes credentials from h, matching names case-insensitively
// even for keys that were not canonicalized.
func StripAuthHeaders(h http.Header) {
	for key := range h {
		for _, name := range strippedHeaders {
			if strings.EqualFold(key, name) {
				delete(h, key)
			}
		}
	}
}

// InjectIdentityHeaders sets the X-Mcp-* identity headers on h.
func InjectIdentityHeaders(h http.Header, u User) {
	h.Set(HeaderUserID, u.ID)
	h.Set(HeaderUserName, u.Name)
	h.Set(HeaderRoles, strings.Join(u.Roles, ","))
}

// PrepareProxyHeaders returns a copy of in with credentials stripped and the
// identity headers injected.
func PrepareProxyHeaders(in http.Header, u User) http.Header {
	out := in.Clone()
	if out == nil {
		out = http.Header{}
	}
	StripAuthHeaders(out)
	InjectIdentityHeaders(out, u)
	return out
}

type projectKey struct{}

// WithProject stores the project segment parsed from the request path.
func WithProject(ctx context.Context, project string) context.Context {
	if project == "" {
		return ctx
	}
	return context.WithValue(ctx, projectKey{}, project)
}

// ProjectFromContext returns the project stored by WithProject.
func ProjectFromContext(ctx context.Context) (string, bool) {
	p, ok := ctx.Value(projectKey{}).(string)
	return p, ok
}
