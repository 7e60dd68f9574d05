// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package auth validates inbound bearer tokens and carries the resulting
// caller identity through request contexts.
package auth

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Identity is an authenticated caller.
type Identity struct {
	// Subject is the stable user id (sub, or oid for Entra ID tokens).
	Subject string
	// Name is the display name.
	Name string
	// Email comes from preferred_username or email.
	Email  string
	Roles  []string
	Scopes []string
	// Claims holds every claim of the validated token.
	Claims map[string]any
	// Token is the raw bearer token. Redacted by String and MarshalJSON.
	Token string
}

// HasScope reports whether the identity was granted scope.
func (i *Identity) HasScope(scope string) bool {
	return i != nil && slices.Contains(i.Scopes, scope)
}

// HasAllScopes reports whether every scope was granted.
func (i *Identity) HasAllScopes(scopes ...string) bool {
	for _, s := range scopes {
		if !i.HasScope(s) {
			return false
		}
	}
	return true
}

// DisplayName prefers Name, then Email, then Subject.
func (i *Identity) DisplayName() string {
	switch {
	case i.Name != "":
		return i.Name
	case i.Email != "":
		return i.Email
	default:
		return i.Subject
	}
}

func (i *Identity) String() string {
	if i == nil {
		return "<nil>"
	}
	return fmt.Sprintf("Identity{Subject:%q}", i.Subject)
}

// MarshalJSON redacts the token.
func (i *Identity) MarshalJSON() ([]byte, error) {
	if i == nil {
		return []byte("null"), nil
	}
	type safeIdentity struct {
		Subject string   `json:"subject"`
		Name    string   `json:"name,omitempty"`
		Email   string   `json:"email,omitempty"`
		Roles   []string `json:"roles,omitempty"`
		Scopes  []string `json:"scopes,omitempty"`
		Token   string   `json:"token,omitempty"`
	}
	token := i.Token
	if token != "" {
		token = "REDACTED"
	}
	return json.Marshal(&safeIdentity{
		Subject: i.Subject,
		Name:    i.Name,
		Email:   i.Email,
		Roles:   i.Roles,
		Scopes:  i.Scopes,
		Token:   token,
	})
}
