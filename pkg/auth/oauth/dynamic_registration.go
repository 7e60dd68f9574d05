// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/stacklok/mcp-gateway/pkg/auth/vault"
	"github.com/stacklok/mcp-gateway/pkg/logger"
	"github.com/stacklok/mcp-gateway/pkg/networking"
)

// ClientName is presented to authorization servers during registration.
const ClientName = "MCP Gateway"

const (
	grantAuthorizationCode = "authorization_code"
	grantRefreshToken      = "refresh_token"
	responseTypeCode       = "code"
	authMethodNone         = "none"
)

// RegistrationRequest is an RFC 7591 client registration request.
type RegistrationRequest struct {
	RedirectURIs            []string `json:"redirect_uris"`
	ClientName              string   `json:"client_name,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	Scope                   string   `json:"scope,omitempty"`
}

// NewRegistrationRequest builds a public-client registration for the
// gateway's callback.
func NewRegistrationRequest(callbackURL string, scopes []string) *RegistrationRequest {
	return &RegistrationRequest{
		RedirectURIs:            []string{callbackURL},
		ClientName:              ClientName,
		TokenEndpointAuthMethod: authMethodNone,
		GrantTypes:              []string{grantAuthorizationCode, grantRefreshToken},
		ResponseTypes:           []string{responseTypeCode},
		Scope:                   strings.Join(scopes, " "),
	}
}

// ScopeList decodes a scope given either as a space-separated string or as
// a JSON array.
type ScopeList []string

// UnmarshalJSON implements json.Unmarshaler.
func (s *ScopeList) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = nil
		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = strings.Fields(str)
		if len(*s) == 0 {
			*s = nil
		}
		return nil
	}

	var arr []string
	if err := json.Unmarshal(data, &arr); err != nil {
		return fmt.Errorf("invalid scope format: %s", string(data))
	}
	*s = make([]string, 0, len(arr))
	for _, v := range arr {
		if v = strings.TrimSpace(v); v != "" {
			*s = append(*s, v)
		}
	}
	return nil
}

// RegistrationResponse is an RFC 7591 client information response.
type RegistrationResponse struct {
	ClientID                string    `json:"client_id"`
	ClientSecret            string    `json:"client_secret,omitempty"`
	ClientIDIssuedAt        int64     `json:"client_id_issued_at,omitempty"`
	ClientSecretExpiresAt   int64     `json:"client_secret_expires_at,omitempty"`
	ClientName              string    `json:"client_name,omitempty"`
	RedirectURIs            []string  `json:"redirect_uris,omitempty"`
	TokenEndpointAuthMethod string    `json:"token_endpoint_auth_method,omitempty"`
	GrantTypes              []string  `json:"grant_types,omitempty"`
	ResponseTypes           []string  `json:"response_types,omitempty"`
	Scope                   ScopeList `json:"scope,omitempty"`
}

// ClientInfo converts the response into the record kept in the vault,
// together with the endpoints it is valid for.
func (r *RegistrationResponse) ClientInfo(meta *ServerMetadata) *vault.ClientInfo {
	return &vault.ClientInfo{
		ClientID:                r.ClientID,
		ClientSecret:            r.ClientSecret,
		ClientIDIssuedAt:        r.ClientIDIssuedAt,
		ClientSecretExpiresAt:   r.ClientSecretExpiresAt,
		ClientName:              r.ClientName,
		RedirectURIs:            r.RedirectURIs,
		GrantTypes:              r.GrantTypes,
		ResponseTypes:           r.ResponseTypes,
		Scope:                   strings.Join(r.Scope, " "),
		TokenEndpointAuthMethod: r.TokenEndpointAuthMethod,
		AuthorizationEndpoint:   meta.AuthorizationEndpoint,
		TokenEndpoint:           meta.TokenEndpoint,
		RegistrationEndpoint:    meta.RegistrationEndpoint,
	}
}

// RegisterClient performs RFC 7591 dynamic client registration.
func RegisterClient(
	ctx context.Context, client networking.HTTPClient, endpoint string, req *RegistrationRequest,
) (*RegistrationResponse, error) {
	if err := validateRegistrationEndpoint(endpoint); err != nil {
		return nil, err
	}
	if req == nil || len(req.RedirectURIs) == 0 {
		return nil, fmt.Errorf("at least one redirect URI is required")
	}

	res, err := networking.FetchJSON[RegistrationResponse](ctx, client, endpoint,
		networking.WithMethod(http.MethodPost),
		networking.WithJSONBody(req),
		networking.WithHeader("User-Agent", UserAgent),
		networking.WithAcceptedStatus(http.StatusCreated),
	)
	if err != nil {
		return nil, fmt.Errorf("dynamic client registration failed: %w", err)
	}
	if res.Data.ClientID == "" {
		return nil, fmt.Errorf("registration response missing client_id")
	}

	logger.Infof("Registered OAuth client dynamically - client_id: %s", res.Data.ClientID)
	return &res.Data, nil
}

func validateRegistrationEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("invalid registration endpoint URL: %w", err)
	}
	if u.Scheme != "https" && !networking.IsLocalhost(u.Hostname()) {
		return fmt.Errorf("registration endpoint must use HTTPS: %s", endpoint)
	}
	return nil
}
