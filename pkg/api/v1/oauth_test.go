// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/mcp-gateway/pkg/auth/oauth"
	gwerrors "github.com/stacklok/mcp-gateway/pkg/errors"
	"github.com/stacklok/mcp-gateway/pkg/resources"
)

type fakeFlow struct {
	started  []string
	state    *oauth.State
	complete error
}

func (f *fakeFlow) Start(_ context.Context, userID string, def *resources.ServerDefinition) (*oauth.StartResult, error) {
	f.started = append(f.started, userID+"/"+def.Name)
	return &oauth.StartResult{ServiceID: def.Name, ServerURL: def.URL}, nil
}

func (f *fakeFlow) Complete(context.Context, string, string) (*oauth.State, error) {
	if f.complete != nil {
		return nil, f.complete
	}
	return f.state, nil
}

func TestOAuthStart(t *testing.T) {
	t.Parallel()

	stdio := &resources.ServerDefinition{Name: "local", Transport: resources.TransportStdio, Command: "local-mcp"}

	tests := []struct {
		name     string
		body     string
		subject  string
		wantCode int
	}{
		{name: "starts for caller", body: `{"service_id":"fetch"}`, subject: alice, wantCode: http.StatusOK},
		{name: "anonymous", body: `{"service_id":"fetch"}`, wantCode: http.StatusUnauthorized},
		{name: "missing service", body: `{}`, subject: alice, wantCode: http.StatusBadRequest},
		{name: "unknown service", body: `{"service_id":"nope"}`, subject: alice, wantCode: http.StatusNotFound},
		{name: "unreadable service", body: `{"service_id":"secret"}`, subject: alice, wantCode: http.StatusNotFound},
		{name: "stdio service", body: `{"service_id":"local"}`, subject: alice, wantCode: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			flow := &fakeFlow{}
			store := seedStore(t, httpServer("fetch", admin), httpServer("secret", bob, "ops"), stdio)

			rec := serve(t, OAuthRouter(flow, store), http.MethodPost, "/start", tt.body, tt.subject)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())

			if tt.wantCode == http.StatusOK {
				var res oauth.StartResult
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
				assert.Equal(t, "fetch", res.ServiceID)
				assert.Equal(t, []string{"alice/fetch"}, flow.started)
			} else {
				assert.Empty(t, flow.started)
			}
		})
	}
}

func TestOAuthCallback(t *testing.T) {
	t.Parallel()

	t.Run("success mounts for the authorizing user", func(t *testing.T) {
		t.Parallel()
		flow := &fakeFlow{state: &oauth.State{UserID: alice, ServiceID: "fetch"}}
		mounter := &fakeMounter{tools: 2}

		rec := httptest.NewRecorder()
		CallbackHandler(flow, mounter).ServeHTTP(rec,
			httptest.NewRequest(http.MethodGet, oauth.CallbackPath+"?state=s&code=c", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "Connected fetch")
		assert.Equal(t, []string{"alice/fetch"}, mounter.mounted)
	})

	t.Run("denied by user", func(t *testing.T) {
		t.Parallel()
		mounter := &fakeMounter{}

		rec := httptest.NewRecorder()
		CallbackHandler(&fakeFlow{}, mounter).ServeHTTP(rec,
			httptest.NewRequest(http.MethodGet, oauth.CallbackPath+"?error=%3Cb%3Eaccess_denied", nil))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "&lt;b&gt;access_denied")
		assert.Empty(t, mounter.mounted)
	})

	t.Run("invalid state", func(t *testing.T) {
		t.Parallel()
		flow := &fakeFlow{complete: gwerrors.NewInvalidArgumentError("invalid state", nil)}

		rec := httptest.NewRecorder()
		CallbackHandler(flow, nil).ServeHTTP(rec,
			httptest.NewRequest(http.MethodGet, oauth.CallbackPath+"?state=forged&code=c", nil))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid state")
	})

	t.Run("token exchange failure hides details", func(t *testing.T) {
		t.Parallel()
		flow := &fakeFlow{complete: gwerrors.NewInternalError("exchange failed: secret-detail", nil)}

		rec := httptest.NewRecorder()
		CallbackHandler(flow, nil).ServeHTTP(rec,
			httptest.NewRequest(http.MethodGet, oauth.CallbackPath+"?state=s&code=c", nil))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "secret-detail")
	})
}
