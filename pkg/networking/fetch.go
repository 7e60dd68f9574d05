// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package networking holds the outbound HTTP plumbing shared by the OAuth
// client, the registry client and the JWKS cache.
package networking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const (
	// DefaultMaxResponseSize caps response bodies read by FetchJSON (1MB).
	DefaultMaxResponseSize = 1024 * 1024

	// DefaultErrorPreviewSize caps the body kept on an HTTPError.
	DefaultErrorPreviewSize = 1024

	// ContentTypeJSON is the JSON content type.
	ContentTypeJSON = "application/json"

	// ContentTypeFormURLEncoded is the form-urlencoded content type.
	ContentTypeFormURLEncoded = "application/x-www-form-urlencoded"
)

// HTTPClient is satisfied by *http.Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// FetchResult is a decoded JSON response.
type FetchResult[T any] struct {
	Data       T
	StatusCode int
	Headers    http.Header
}

// HTTPError is a non-2xx response.
type HTTPError struct {
	StatusCode int
	Body       string
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP request to %s failed with status %d", e.URL, e.StatusCode)
}

// IsHTTPError reports whether err is an HTTPError with the status code.
// A zero status code matches any HTTPError.
func IsHTTPError(err error, statusCode int) bool {
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		return false
	}
	return statusCode == 0 || httpErr.StatusCode == statusCode
}

// FetchOption configures a fetch request.
type FetchOption func(*fetchOptions)

type fetchOptions struct {
	method          string
	headers         http.Header
	body            io.Reader
	maxResponseSize int64
	okStatuses      []int
}

// WithMethod sets the HTTP method.
func WithMethod(method string) FetchOption {
	return func(o *fetchOptions) { o.method = method }
}

// WithHeader sets a request header.
func WithHeader(key, value string) FetchOption {
	return func(o *fetchOptions) { o.headers.Set(key, value) }
}

// WithBody sets the request body.
func WithBody(body io.Reader) FetchOption {
	return func(o *fetchOptions) { o.body = body }
}

// WithJSONBody encodes v as the request body.
func WithJSONBody(v any) FetchOption {
	return func(o *fetchOptions) {
		data, _ := json.Marshal(v)
		o.body = strings.NewReader(string(data))
		o.headers.Set("Content-Type", ContentTypeJSON)
	}
}

// WithAcceptedStatus adds statuses treated as success besides 200.
func WithAcceptedStatus(statuses ...int) FetchOption {
	return func(o *fetchOptions) { o.okStatuses = append(o.okStatuses, statuses...) }
}

// FetchJSON performs a request and decodes the JSON body into T.
func FetchJSON[T any](ctx context.Context, client HTTPClient, requestURL string, opts ...FetchOption) (*FetchResult[T], error) {
	options := &fetchOptions{
		method:          http.MethodGet,
		headers:         make(http.Header),
		maxResponseSize: DefaultMaxResponseSize,
		okStatuses:      []int{http.StatusOK},
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.headers.Get("Accept") == "" {
		options.headers.Set("Accept", ContentTypeJSON)
	}

	req, err := http.NewRequestWithContext(ctx, options.method, requestURL, options.body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header = options.headers

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, options.maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if !containsStatus(options.okStatuses, resp.StatusCode) {
		preview := string(body)
		if len(preview) > DefaultErrorPreviewSize {
			preview = preview[:DefaultErrorPreviewSize]
		}
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: preview, URL: requestURL}
	}

	if ct := resp.Header.Get("Content-Type"); !strings.Contains(strings.ToLower(ct), ContentTypeJSON) {
		return nil, fmt.Errorf("unexpected content type: %s", ct)
	}

	var data T
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("failed to parse JSON response: %w", err)
	}
	return &FetchResult[T]{Data: data, StatusCode: resp.StatusCode, Headers: resp.Header}, nil
}

// FetchJSONWithForm POSTs form data and decodes the JSON response.
func FetchJSONWithForm[T any](
	ctx context.Context, client HTTPClient, requestURL string, form url.Values, opts ...FetchOption,
) (*FetchResult[T], error) {
	formOpts := []FetchOption{
		WithMethod(http.MethodPost),
		WithHeader("Content-Type", ContentTypeFormURLEncoded),
		WithBody(strings.NewReader(form.Encode())),
	}
	return FetchJSON[T](ctx, client, requestURL, append(formOpts, opts...)...)
}

func containsStatus(statuses []int, code int) bool {
	for _, s := range statuses {
		if s == code {
			return true
		}
	}
	return false
}
