// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/stacklok/mcp-gateway/pkg/networking"
)

// AdminTokenEnvVar holds a bearer token for the admin API when inbound
// OAuth is configured.
const AdminTokenEnvVar = "MCPGW_ADMIN_TOKEN"

const adminClientTimeout = 30 * time.Second

// adminClient talks to a running gateway's admin API.
type adminClient struct {
	base   string
	client *http.Client
	token  string
}

func newAdminClient() (*adminClient, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	c := &adminClient{
		base:   "http://" + cfg.Admin.Address,
		client: &http.Client{Timeout: adminClientTimeout},
		token:  os.Getenv(AdminTokenEnvVar),
	}
	if socket := cfg.Admin.Socket; socket != "" {
		c.base = "http://mcpgw"
		c.client.Transport = &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socket)
			},
		}
	}
	return c, nil
}

func (c *adminClient) url(path string) string {
	return c.base + "/api/v1/" + strings.TrimPrefix(path, "/")
}

func (c *adminClient) options(opts ...networking.FetchOption) []networking.FetchOption {
	if c.token != "" {
		opts = append(opts, networking.WithHeader("Authorization", "Bearer "+c.token))
	}
	return opts
}

func adminFetch[T any](ctx context.Context, c *adminClient, path string, opts ...networking.FetchOption) (T, error) {
	res, err := networking.FetchJSON[T](ctx, c.client, c.url(path), c.options(opts...)...)
	if err != nil {
		var zero T
		return zero, describeAdminError(err)
	}
	return res.Data, nil
}

// describeAdminError surfaces the API's message instead of the bare status.
func describeAdminError(err error) error {
	var httpErr *networking.HTTPError
	if !errors.As(err, &httpErr) || strings.TrimSpace(httpErr.Body) == "" {
		return err
	}
	return &adminError{status: httpErr.StatusCode, message: strings.TrimSpace(httpErr.Body)}
}

type adminError struct {
	status  int
	message string
}

func (e *adminError) Error() string {
	return http.StatusText(e.status) + ": " + e.message
}
