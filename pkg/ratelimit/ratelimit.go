// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit implements the per-bearer-token sliding-window limiter
// applied by the gateway router.
package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

const (
	// DefaultLimit is the number of requests allowed per window.
	DefaultLimit = 100
	// DefaultWindow is the sliding window length.
	DefaultWindow = 60 * time.Second

	bucketKeyLen = 16
	sweepEvery   = 1024
)

// Limiter decides whether one more request for key fits in the window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// BucketKey derives the bucket for a raw Authorization header value. Only a
// truncated hash is kept, never the credential.
func BucketKey(authHeader string) string {
	sum := sha256.Sum256([]byte(authHeader))
	return hex.EncodeToString(sum[:])[:bucketKeyLen]
}

// MemoryLimiter is a sliding-log limiter for a single gateway instance.
type MemoryLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	hits   map[string][]time.Time
	calls  int
	now    func() time.Time
}

var _ Limiter = (*MemoryLimiter)(nil)

// NewMemoryLimiter creates a limiter. Non-positive arguments select the defaults.
func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &MemoryLimiter{
		limit:  limit,
		window: window,
		hits:   make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Allow records the attempt and reports whether the window still holds at
// most limit attempts. Rejected attempts count too.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	l.calls++
	if l.calls%sweepEvery == 0 {
		l.sweep(cutoff)
	}

	hits := prune(l.hits[key], cutoff)
	hits = append(hits, now)
	l.hits[key] = hits
	return len(hits) <= l.limit, nil
}

func (l *MemoryLimiter) sweep(cutoff time.Time) {
	for k, hits := range l.hits {
		if len(hits) == 0 || !hits[len(hits)-1].After(cutoff) {
			delete(l.hits, k)
		}
	}
}

// prune drops timestamps at or before cutoff. hits is ordered oldest first.
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}
