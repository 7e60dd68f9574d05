// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stacklok/mcp-gateway/pkg/logger"
	"github.com/stacklok/mcp-gateway/pkg/ratelimit"
)

// Middleware rejects every request while the gateway is disabled and applies
// per-token rate limiting to requests carrying a bearer token. Limiter
// failures let the request through.
func (rt *Router) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rt.Enabled() {
			rt.observe(RouteDisabled)
			http.Error(w, DisabledMessage, http.StatusForbidden)
			return
		}

		authz := r.Header.Get("Authorization")
		if rt.limiter != nil && strings.HasPrefix(authz, "Bearer ") {
			allowed, err := rt.limiter.Allow(r.Context(), ratelimit.BucketKey(authz))
			if err != nil {
				logger.Warnf("Rate limiter unavailable, allowing request: %v", err)
			} else if !allowed {
				rt.observe(RouteRateLimited)
				http.Error(w,
					fmt.Sprintf("Rate limit exceeded. Max %d requests per %s.", rt.rateLimit, windowLabel(rt.rateWindow)),
					http.StatusTooManyRequests)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func windowLabel(d time.Duration) string {
	switch d {
	case time.Minute:
		return "minute"
	case time.Hour:
		return "hour"
	case time.Second:
		return "second"
	default:
		return d.String()
	}
}
