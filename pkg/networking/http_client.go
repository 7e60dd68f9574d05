// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package networking

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"
)

// HttpTimeout is the default timeout for outgoing HTTP requests.
const HttpTimeout = 30 * time.Second

// ValidatingTransport refuses plain HTTP, except to loopback hosts when
// AllowLoopbackHTTP is set.
type ValidatingTransport struct {
	Transport         http.RoundTripper
	AllowLoopbackHTTP bool
}

// RoundTrip implements http.RoundTripper.
func (t *ValidatingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	switch req.URL.Scheme {
	case "https":
	case "http":
		if !t.AllowLoopbackHTTP || !IsLocalhost(req.URL.Hostname()) {
			return nil, fmt.Errorf("the supplied URL %s is not HTTPS scheme", req.URL.Redacted())
		}
	default:
		return nil, fmt.Errorf("unsupported URL scheme in %s", req.URL.Redacted())
	}
	return t.Transport.RoundTrip(req)
}

// IsLocalhost reports whether host is "localhost" or a loopback address.
func IsLocalhost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// HttpClientBuilder builds outbound HTTP clients.
type HttpClientBuilder struct {
	timeout           time.Duration
	caCertPath        string
	allowLoopbackHTTP bool
	insecure          bool
}

// NewHttpClientBuilder returns a builder with the default timeout.
func NewHttpClientBuilder() *HttpClientBuilder {
	return &HttpClientBuilder{timeout: HttpTimeout}
}

// WithCABundle replaces the system roots with the PEM bundle at path.
func (b *HttpClientBuilder) WithCABundle(path string) *HttpClientBuilder {
	b.caCertPath = path
	return b
}

// WithTimeout overrides the request timeout.
func (b *HttpClientBuilder) WithTimeout(d time.Duration) *HttpClientBuilder {
	b.timeout = d
	return b
}

// WithLoopbackHTTP permits plain HTTP to localhost, used for container-backed
// servers published on 127.0.0.1.
func (b *HttpClientBuilder) WithLoopbackHTTP(allow bool) *HttpClientBuilder {
	b.allowLoopbackHTTP = allow
	return b
}

// WithoutSchemeValidation skips the HTTPS check entirely.
func (b *HttpClientBuilder) WithoutSchemeValidation() *HttpClientBuilder {
	b.insecure = true
	return b
}

// Build creates the configured client.
func (b *HttpClientBuilder) Build() (*http.Client, error) {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return nil, fmt.Errorf("unexpected default transport type %T", http.DefaultTransport)
	}
	transport := base.Clone()
	transport.TLSHandshakeTimeout = 10 * time.Second
	transport.ResponseHeaderTimeout = 10 * time.Second

	if b.caCertPath != "" {
		caCert, err := os.ReadFile(b.caCertPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate bundle")
		}
		transport.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12, RootCAs: pool}
	}

	var rt http.RoundTripper = transport
	if !b.insecure {
		rt = &ValidatingTransport{Transport: transport, AllowLoopbackHTTP: b.allowLoopbackHTTP}
	}
	return &http.Client{Transport: rt, Timeout: b.timeout}, nil
}
