// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package vault persists per-user OAuth credentials for backend MCP servers.
//
// Records live in an encrypted secrets.Provider under opaque per-(user,
// service) keys. Storage failures never reach the caller: reads degrade to
// "no credential" and writes are logged, so a vault outage means the user is
// asked to authorise again rather than the request failing.
package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/stacklok/mcp-gateway/pkg/logger"
	"github.com/stacklok/mcp-gateway/pkg/secrets"
)

const (
	keyPrefix     = "mcp_token"
	tokensSuffix  = "tokens"
	clientSuffix  = "client_info"
	naiveLayout   = "2006-01-02T15:04:05.999999999"
	naiveLayoutSp = "2006-01-02 15:04:05.999999999"
)

// Store is the part of secrets.Provider the vault needs.
type Store interface {
	GetSecret(ctx context.Context, name string) (string, error)
	SetSecret(ctx context.Context, name, value string) error
	DeleteSecret(ctx context.Context, name string) error
}

// Record is an OAuth token set for one (user, service) pair.
type Record struct {
	AccessToken  string
	TokenType    string
	RefreshToken string
	Scope        string
	// ExpiresAt is the absolute expiry. Zero means unknown.
	ExpiresAt time.Time
	// ExpiresIn is the remaining lifetime, computed when the record is read
	// and never negative. On write it is used only when ExpiresAt is zero.
	ExpiresIn time.Duration
}

// OAuth2Token converts the record for use with golang.org/x/oauth2.
func (r *Record) OAuth2Token() *oauth2.Token {
	t := &oauth2.Token{
		AccessToken:  r.AccessToken,
		TokenType:    r.TokenType,
		RefreshToken: r.RefreshToken,
		Expiry:       r.ExpiresAt,
	}
	if r.Scope != "" {
		t = t.WithExtra(map[string]any{"scope": r.Scope})
	}
	return t
}

// RecordFromOAuth2 converts a token returned by an oauth2 exchange or refresh.
func RecordFromOAuth2(t *oauth2.Token) *Record {
	r := &Record{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
		ExpiresAt:    t.Expiry,
	}
	if scope, ok := t.Extra("scope").(string); ok {
		r.Scope = scope
	}
	return r
}

// storedRecord is the JSON document written to the secrets store.
type storedRecord struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	ExpiresAt    string `json:"expires_at,omitempty"`
}

// ClientInfo is an OAuth client registration (RFC 7591) together with the
// authorization-server endpoints it was registered against.
type ClientInfo struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret,omitempty"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at,omitempty"`
	ClientSecretExpiresAt   int64    `json:"client_secret_expires_at,omitempty"`
	ClientName              string   `json:"client_name,omitempty"`
	RedirectURIs            []string `json:"redirect_uris,omitempty"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	Scope                   string   `json:"scope,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`

	AuthorizationEndpoint string `json:"authorization_endpoint,omitempty"`
	TokenEndpoint         string `json:"token_endpoint,omitempty"`
	RegistrationEndpoint  string `json:"registration_endpoint,omitempty"`
}

// Vault reads and writes OAuth records through a Store.
type Vault struct {
	store Store
	now   func() time.Time
}

// Option configures a Vault.
type Option func(*Vault)

// WithClock overrides the time source used for expiry arithmetic.
func WithClock(now func() time.Time) Option {
	return func(v *Vault) {
		v.now = now
	}
}

// New creates a Vault over store.
func New(store Store, opts ...Option) *Vault {
	v := &Vault{store: store, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Key returns the opaque store key for one record kind of (user, service).
func Key(userID, serviceID, kind string) string {
	return fmt.Sprintf("%s/%s:%s/%s", keyPrefix, userID, serviceID, kind)
}

// GetTokens returns the stored tokens, or nil when none exist or the store
// cannot be read.
func (v *Vault) GetTokens(ctx context.Context, userID, serviceID string) *Record {
	var stored storedRecord
	if !v.load(ctx, Key(userID, serviceID, tokensSuffix), &stored) {
		return nil
	}
	if stored.AccessToken == "" {
		return nil
	}

	rec := &Record{
		AccessToken:  stored.AccessToken,
		TokenType:    stored.TokenType,
		RefreshToken: stored.RefreshToken,
		Scope:        stored.Scope,
	}
	if rec.TokenType == "" {
		rec.TokenType = "Bearer"
	}
	if stored.ExpiresAt != "" {
		expiresAt, err := parseExpiry(stored.ExpiresAt)
		if err != nil {
			logger.Warnf("Ignoring unparsable token expiry for %s: %v", logger.Sanitize(serviceID), err)
		} else {
			rec.ExpiresAt = expiresAt
			rec.ExpiresIn = max(expiresAt.Sub(v.now()), 0)
		}
	}
	return rec
}

// SetTokens persists rec. Failures are logged.
func (v *Vault) SetTokens(ctx context.Context, userID, serviceID string, rec *Record) {
	if rec == nil || rec.AccessToken == "" {
		logger.Warnf("Refusing to store empty OAuth token for %s", logger.Sanitize(serviceID))
		return
	}
	stored := storedRecord{
		AccessToken:  rec.AccessToken,
		TokenType:    rec.TokenType,
		RefreshToken: rec.RefreshToken,
		Scope:        rec.Scope,
	}
	expiresAt := rec.ExpiresAt
	if expiresAt.IsZero() && rec.ExpiresIn > 0 {
		expiresAt = v.now().Add(rec.ExpiresIn)
	}
	if !expiresAt.IsZero() {
		stored.ExpiresAt = expiresAt.UTC().Format(time.RFC3339Nano)
	}
	v.save(ctx, Key(userID, serviceID, tokensSuffix), stored)
}

// GetClientInfo returns the stored client registration, or nil.
func (v *Vault) GetClientInfo(ctx context.Context, userID, serviceID string) *ClientInfo {
	var info ClientInfo
	if !v.load(ctx, Key(userID, serviceID, clientSuffix), &info) {
		return nil
	}
	return &info
}

// SetClientInfo persists a client registration. Failures are logged.
func (v *Vault) SetClientInfo(ctx context.Context, userID, serviceID string, info *ClientInfo) {
	if info == nil {
		return
	}
	v.save(ctx, Key(userID, serviceID, clientSuffix), info)
}

// DeleteTokens removes both the tokens and the client registration.
func (v *Vault) DeleteTokens(ctx context.Context, userID, serviceID string) {
	for _, kind := range []string{tokensSuffix, clientSuffix} {
		err := v.store.DeleteSecret(ctx, Key(userID, serviceID, kind))
		if err != nil && !errors.Is(err, secrets.ErrSecretNotFound) {
			logger.Errorf("Failed to delete MCP OAuth %s for %s: %v", kind, logger.Sanitize(serviceID), err)
		}
	}
}

func (v *Vault) load(ctx context.Context, key string, out any) bool {
	raw, err := v.store.GetSecret(ctx, key)
	if err != nil {
		if !errors.Is(err, secrets.ErrSecretNotFound) {
			logger.Errorf("Failed to read MCP OAuth record from vault: %v", err)
		}
		return false
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		logger.Errorf("Failed to decode MCP OAuth record from vault: %v", err)
		return false
	}
	return true
}

func (v *Vault) save(ctx context.Context, key string, in any) {
	raw, err := json.Marshal(in)
	if err != nil {
		logger.Errorf("Failed to encode MCP OAuth record: %v", err)
		return
	}
	if err := v.store.SetSecret(ctx, key, string(raw)); err != nil {
		logger.Errorf("Failed to store MCP OAuth record in vault: %v", err)
	}
}

// parseExpiry accepts RFC 3339 timestamps and zone-less timestamps, which
// are taken to be UTC.
func parseExpiry(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range []string{naiveLayout, naiveLayoutSp} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}
