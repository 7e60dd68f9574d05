// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/stacklok/mcp-gateway/pkg/auth/vault"
	gwerrors "github.com/stacklok/mcp-gateway/pkg/errors"
	"github.com/stacklok/mcp-gateway/pkg/logger"
	"github.com/stacklok/mcp-gateway/pkg/resources"
)

// CallbackPath is where authorization servers redirect back to the gateway.
const CallbackPath = "/mcp/oauth/callback"

// SecretResolver resolves secret references such as a definition's client
// secret.
type SecretResolver interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// Config wires a Flow.
type Config struct {
	Vault   *vault.Vault
	Servers resources.Store
	Secrets SecretResolver
	// HTTPClient is used for discovery, registration and token requests.
	HTTPClient *http.Client
	// StateSecret keys the state signature.
	StateSecret []byte
	// BaseURL is the externally reachable gateway origin.
	BaseURL string
}

// Flow runs authorization-code grants against backend authorization
// servers and hands out token sources over the resulting vault records.
type Flow struct {
	vault       *vault.Vault
	servers     resources.Store
	secrets     SecretResolver
	client      *http.Client
	signer      *StateSigner
	callbackURL string

	mu      sync.Mutex
	pending map[string]pendingState
	now     func() time.Time
}

// pendingState is an issued state nonce that has not been redeemed yet.
type pendingState struct {
	verifier string
	expires  time.Time
}

// StartResult is what a client needs to send the user to the authorization
// server.
type StartResult struct {
	ServiceID        string `json:"service_id"`
	ServiceName      string `json:"service_name"`
	ServerURL        string `json:"server_url"`
	ClientID         string `json:"client_id"`
	Scopes           string `json:"scopes"`
	CallbackURL      string `json:"callback_url"`
	AuthorizationURL string `json:"authorization_url"`
	State            string `json:"state"`
}

// NewFlow validates cfg and builds a Flow.
func NewFlow(cfg Config) (*Flow, error) {
	if cfg.Vault == nil || cfg.Servers == nil {
		return nil, fmt.Errorf("oauth flow requires a vault and a server store")
	}
	if len(cfg.StateSecret) < 16 {
		return nil, gwerrors.NewConfigurationError("oauth state secret must be at least 16 bytes", nil)
	}
	if cfg.BaseURL == "" {
		return nil, gwerrors.NewConfigurationError("oauth base url is required", nil)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Flow{
		vault:       cfg.Vault,
		servers:     cfg.Servers,
		secrets:     cfg.Secrets,
		client:      client,
		signer:      NewStateSigner(cfg.StateSecret),
		callbackURL: strings.TrimSuffix(cfg.BaseURL, "/") + CallbackPath,
		pending:     make(map[string]pendingState),
		now:         time.Now,
	}, nil
}

// CallbackURL is the redirect URI registered with authorization servers.
func (f *Flow) CallbackURL() string {
	return f.callbackURL
}

// Start prepares an authorization request for userID against def,
// registering a client first when the definition carries no client id.
func (f *Flow) Start(ctx context.Context, userID string, def *resources.ServerDefinition) (*StartResult, error) {
	if def.Transport != resources.TransportStreamableHTTP {
		return nil, gwerrors.NewInvalidArgumentError("OAuth is only for streamable_http services", nil)
	}
	serverURL, err := def.EndpointURL()
	if err != nil {
		return nil, err
	}
	cfg, meta, err := f.clientConfig(ctx, userID, def, true)
	if err != nil {
		return nil, err
	}

	state, st, err := f.signer.Sign(State{UserID: userID, ServiceID: def.Name, Scopes: def.DefaultScope})
	if err != nil {
		return nil, gwerrors.NewInternalError("failed to sign OAuth state", err)
	}

	opts := []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("resource", serverURL)}
	var verifier string
	if meta.SupportsPKCE() {
		verifier = oauth2.GenerateVerifier()
		opts = append(opts, oauth2.S256ChallengeOption(verifier))
	}
	f.rememberState(st.Nonce, verifier)

	return &StartResult{
		ServiceID:        def.Name,
		ServiceName:      def.Name,
		ServerURL:        serverURL,
		ClientID:         cfg.ClientID,
		Scopes:           def.DefaultScope,
		CallbackURL:      f.callbackURL,
		AuthorizationURL: cfg.AuthCodeURL(state, opts...),
		State:            state,
	}, nil
}

// Complete verifies the returned state, exchanges code for tokens and
// stores them for the user and service the state names. Each state issued
// by Start is redeemable once.
func (f *Flow) Complete(ctx context.Context, stateValue, code string) (*State, error) {
	st, err := f.signer.Verify(stateValue)
	if err != nil {
		return nil, gwerrors.NewInvalidArgumentError("OAuth state rejected", err)
	}
	if code == "" {
		return nil, gwerrors.NewInvalidArgumentError("authorization code is required", nil)
	}
	verifier, ok := f.takeState(st.Nonce)
	if !ok {
		return nil, gwerrors.NewInvalidArgumentError("OAuth state already used or unknown", ErrInvalidState)
	}

	def, err := f.servers.Get(ctx, st.ServiceID)
	if errors.Is(err, resources.ErrNotFound) {
		return nil, gwerrors.NewNotFoundError(fmt.Sprintf("service %s not found", st.ServiceID), err)
	}
	if err != nil {
		return nil, err
	}
	serverURL, err := def.EndpointURL()
	if err != nil {
		return nil, err
	}
	cfg, _, err := f.clientConfig(ctx, st.UserID, def, false)
	if err != nil {
		return nil, err
	}

	opts := []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("resource", serverURL)}
	if verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}
	tok, err := cfg.Exchange(context.WithValue(ctx, oauth2.HTTPClient, f.client), code, opts...)
	if err != nil {
		return nil, gwerrors.NewCredentialError("authorization code exchange failed", err)
	}

	f.vault.SetTokens(ctx, st.UserID, st.ServiceID, vault.RecordFromOAuth2(tok))
	logger.Infof("Stored OAuth tokens for service %s", logger.Sanitize(st.ServiceID))
	return st, nil
}

// TokenSource returns a refreshing token source over the user's stored
// tokens for def. Refreshed tokens are written back to the vault.
func (f *Flow) TokenSource(ctx context.Context, userID string, def *resources.ServerDefinition) (oauth2.TokenSource, error) {
	rec := f.vault.GetTokens(ctx, userID, def.Name)
	if rec == nil {
		return nil, gwerrors.NewCredentialError(
			fmt.Sprintf("no OAuth tokens for service %s; authorize it first", def.Name), nil)
	}
	cfg, _, err := f.clientConfig(ctx, userID, def, false)
	if err != nil {
		return nil, err
	}

	// The source outlives the request that created it.
	refreshCtx := context.WithValue(context.Background(), oauth2.HTTPClient, f.client)
	initial := rec.OAuth2Token()
	serviceID := def.Name
	return NewPersistingTokenSource(cfg.TokenSource(refreshCtx, initial), initial, func(t *oauth2.Token) {
		f.vault.SetTokens(context.Background(), userID, serviceID, vault.RecordFromOAuth2(t))
	}), nil
}

// clientConfig resolves the OAuth client for def: an explicit client id on
// the definition, then a registration stored for the user, then (when
// register is set) a fresh dynamic registration.
func (f *Flow) clientConfig(
	ctx context.Context, userID string, def *resources.ServerDefinition, register bool,
) (*oauth2.Config, *ServerMetadata, error) {
	stored := f.vault.GetClientInfo(ctx, userID, def.Name)

	var meta *ServerMetadata
	if stored != nil && stored.TokenEndpoint != "" {
		meta = &ServerMetadata{
			AuthorizationEndpoint: stored.AuthorizationEndpoint,
			TokenEndpoint:         stored.TokenEndpoint,
			RegistrationEndpoint:  stored.RegistrationEndpoint,
		}
	} else {
		serverURL, err := def.EndpointURL()
		if err != nil {
			return nil, nil, err
		}
		meta, err = DiscoverAuthorizationServer(ctx, f.client, serverURL)
		if err != nil {
			return nil, nil, gwerrors.NewConnectivityError(
				fmt.Sprintf("authorization server discovery failed for %s", def.Name), err)
		}
	}

	cfg := &oauth2.Config{
		RedirectURL: f.callbackURL,
		Scopes:      strings.Fields(def.DefaultScope),
		Endpoint: oauth2.Endpoint{
			AuthURL:  meta.AuthorizationEndpoint,
			TokenURL: meta.TokenEndpoint,
		},
	}

	switch {
	case def.OAuthClientID != "":
		cfg.ClientID = def.OAuthClientID
		if def.OAuthClientSecretRef != "" {
			secret, err := f.resolveSecret(ctx, def.OAuthClientSecretRef)
			if err != nil {
				return nil, nil, err
			}
			cfg.ClientSecret = secret
		}
	case stored != nil && stored.ClientID != "":
		cfg.ClientID = stored.ClientID
		cfg.ClientSecret = stored.ClientSecret
	case register && meta.RegistrationEndpoint != "":
		resp, err := RegisterClient(ctx, f.client, meta.RegistrationEndpoint,
			NewRegistrationRequest(f.callbackURL, cfg.Scopes))
		if err != nil {
			return nil, nil, gwerrors.NewConnectivityError(
				fmt.Sprintf("client registration failed for %s", def.Name), err)
		}
		f.vault.SetClientInfo(ctx, userID, def.Name, resp.ClientInfo(meta))
		cfg.ClientID = resp.ClientID
		cfg.ClientSecret = resp.ClientSecret
	default:
		return nil, nil, gwerrors.NewConfigurationError(
			fmt.Sprintf("service %s has no OAuth client id and its authorization server does not support registration",
				def.Name), nil)
	}
	return cfg, meta, nil
}

func (f *Flow) resolveSecret(ctx context.Context, ref string) (string, error) {
	if f.secrets == nil {
		return "", gwerrors.NewConfigurationError("no secrets provider configured for client secret "+ref, nil)
	}
	v, err := f.secrets.GetSecret(ctx, ref)
	if err != nil {
		return "", gwerrors.NewCredentialError("failed to resolve client secret "+ref, err)
	}
	return v, nil
}

// rememberState records an issued nonce with its PKCE verifier, if any.
func (f *Flow) rememberState(nonce, verifier string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	for k, v := range f.pending {
		if now.After(v.expires) {
			delete(f.pending, k)
		}
	}
	f.pending[nonce] = pendingState{verifier: verifier, expires: now.Add(StateTTL)}
}

// takeState forgets nonce and returns its PKCE verifier. It reports false
// for a nonce that was never issued, was already redeemed or has expired.
func (f *Flow) takeState(nonce string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.pending[nonce]
	delete(f.pending, nonce)
	if !ok || f.now().After(v.expires) {
		return "", false
	}
	return v.verifier, true
}
