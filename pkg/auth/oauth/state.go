// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// StateTTL bounds how long an authorization request stays redeemable.
const StateTTL = 10 * time.Minute

var (
	// ErrInvalidState is returned for a malformed or tampered state value.
	ErrInvalidState = errors.New("invalid OAuth state")
	// ErrStateExpired is returned for a state older than StateTTL.
	ErrStateExpired = errors.New("OAuth state expired")
)

// State is the payload carried through the authorization server.
type State struct {
	UserID    string `json:"user_id"`
	ServiceID string `json:"service_id"`
	Scopes    string `json:"scopes"`
	Nonce     string `json:"nonce"`
	IssuedAt  int64  `json:"issued_at"`
}

// StateSigner produces and checks HMAC-SHA256 signed state values of the
// form base64url(json) "." hex(mac).
type StateSigner struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewStateSigner returns a signer keyed by secret.
func NewStateSigner(secret []byte) *StateSigner {
	return &StateSigner{key: secret, ttl: StateTTL, now: time.Now}
}

// Sign stamps st with a fresh nonce and issue time and encodes it.
func (s *StateSigner) Sign(st State) (string, State, error) {
	st.Nonce = uuid.NewString()
	st.IssuedAt = s.now().Unix()
	raw, err := json.Marshal(st)
	if err != nil {
		return "", State{}, err
	}
	payload := base64.RawURLEncoding.EncodeToString(raw)
	return payload + "." + s.mac(payload), st, nil
}

// Verify checks the signature before decoding, then the expiry.
func (s *StateSigner) Verify(value string) (*State, error) {
	payload, sig, ok := strings.Cut(value, ".")
	if !ok || payload == "" {
		return nil, ErrInvalidState
	}
	if !hmac.Equal([]byte(sig), []byte(s.mac(payload))) {
		return nil, ErrInvalidState
	}
	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return nil, ErrInvalidState
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, ErrInvalidState
	}
	if st.UserID == "" || st.ServiceID == "" {
		return nil, ErrInvalidState
	}
	if s.now().Sub(time.Unix(st.IssuedAt, 0)) > s.ttl {
		return nil, ErrStateExpired
	}
	return &st, nil
}

func (s *StateSigner) mac(payload string) string {
	h := hmac.New(sha256.New, s.key)
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}
