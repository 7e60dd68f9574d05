// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"sync"

	"golang.org/x/oauth2"

	"github.com/stacklok/mcp-gateway/pkg/logger"
)

// TokenPersister stores a token obtained by a refresh.
type TokenPersister func(*oauth2.Token)

// PersistingTokenSource wraps an oauth2.TokenSource and persists each token
// whose access token differs from the last one seen, so refreshes survive a
// restart.
type PersistingTokenSource struct {
	source    oauth2.TokenSource
	persister TokenPersister

	mu   sync.Mutex
	last string
}

// NewPersistingTokenSource wraps source. initial is the token source was
// seeded with and is not persisted again.
func NewPersistingTokenSource(source oauth2.TokenSource, initial *oauth2.Token, persister TokenPersister) *PersistingTokenSource {
	p := &PersistingTokenSource{source: source, persister: persister}
	if initial != nil {
		p.last = initial.AccessToken
	}
	return p
}

// Token implements oauth2.TokenSource.
func (p *PersistingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := p.source.Token()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if tok.AccessToken != p.last && p.persister != nil {
		p.persister(tok)
		logger.Debugf("Persisted refreshed OAuth token")
	}
	p.last = tok.AccessToken
	return tok, nil
}
