// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package v1 is version 1 of the gateway's admin API.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"

	"github.com/stacklok/toolhive-core/httperr"

	"github.com/stacklok/mcp-gateway/pkg/auth"
	"github.com/stacklok/mcp-gateway/pkg/resources"
)

// maxBodyBytes bounds decoded request bodies.
const maxBodyBytes = 1 << 20

var errUnauthenticated = httperr.WithCode(errors.New("authentication required"), http.StatusUnauthorized)

// callerFrom returns the authenticated caller.
func callerFrom(r *http.Request) (*auth.Identity, error) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok || id.Subject == "" {
		return nil, errUnauthenticated
	}
	return id, nil
}

func isAdmin(id *auth.Identity) bool {
	return slices.Contains(id.Roles, resources.AdminRole)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return httperr.WithCode(fmt.Errorf("invalid request body: %w", err), http.StatusBadRequest)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	return nil
}

func badRequest(msg string) error {
	return httperr.WithCode(errors.New(msg), http.StatusBadRequest)
}
