// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"net/http"

	"github.com/stacklok/mcp-gateway/pkg/auth"
)

// RoundTripper rewrites outbound backend requests with PrepareProxyHeaders.
// The caller is taken from the request context and falls back to Default,
// the user the backend session was opened for.
type RoundTripper struct {
	Base    http.RoundTripper
	Default User
}

// RoundTrip implements http.RoundTripper.
func (t *RoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	u := t.Default
	if id, ok := auth.IdentityFromContext(req.Context()); ok {
		u = UserFromIdentity(id)
	}

	out := req.Clone(req.Context())
	out.Header = PrepareProxyHeaders(req.Header, u)
	if project, ok := ProjectFromContext(req.Context()); ok {
		out.Header.Set(HeaderProject, project)
	}

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(out)
}
