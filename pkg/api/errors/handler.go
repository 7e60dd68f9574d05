// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package errors converts handler errors into HTTP responses for the admin
// API.
package errors

import (
	"net/http"

	"github.com/stacklok/mcp-gateway/pkg/errors"
	"github.com/stacklok/mcp-gateway/pkg/logger"
)

// HandlerWithError is an HTTP handler that returns its failure instead of
// writing it.
type HandlerWithError func(http.ResponseWriter, *http.Request) error

// ErrorHandler adapts fn to http.HandlerFunc. The status comes from
// errors.Code. Server errors are logged and answered with the status text
// only; client errors carry the error message.
//
//	r.Get("/{name}", apierrors.ErrorHandler(routes.getServer))
func ErrorHandler(fn HandlerWithError) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := fn(w, r)
		if err == nil {
			return
		}

		code := errors.Code(err)
		if code >= http.StatusInternalServerError {
			logger.Errorw("admin API request failed",
				"method", r.Method, "path", logger.Sanitize(r.URL.Path), "status", code, "error", err)
			http.Error(w, http.StatusText(code), code)
			return
		}
		http.Error(w, err.Error(), code)
	}
}
