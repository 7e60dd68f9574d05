// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package registry searches the public MCP Registry (v0 API) for servers the
// gateway could add, and converts registry entries into server definitions.
package registry

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	v0 "github.com/modelcontextprotocol/registry/pkg/api/v0"

	"github.com/stacklok/mcp-gateway/pkg/networking"
)

// DefaultURL is the public MCP Registry.
const DefaultURL = "https://registry.modelcontextprotocol.io"

const (
	defaultPageSize = 100
	maxServers      = 10000
)

// ListOptions narrows ListServers.
type ListOptions struct {
	// Search filters by substring of the server name.
	Search string
	// Limit is the page size. Defaults to 100.
	Limit int
	// Version is usually "latest".
	Version string
	// MaxResults stops pagination early. Zero means no limit.
	MaxResults int
}

// Client talks to a registry implementing the v0 API.
type Client struct {
	baseURL    string
	httpClient networking.HTTPClient
}

// NewClient creates a client for baseURL, or DefaultURL when empty. A nil
// httpClient selects an HTTPS-only client.
func NewClient(baseURL string, httpClient networking.HTTPClient) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid registry url %q: %w", baseURL, err)
	}
	if httpClient == nil {
		c, err := networking.NewHttpClientBuilder().Build()
		if err != nil {
			return nil, fmt.Errorf("failed to build HTTP client: %w", err)
		}
		httpClient = c
	}
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), httpClient: httpClient}, nil
}

// GetServer fetches the latest version of one server by its reverse-DNS name.
func (c *Client) GetServer(ctx context.Context, name string) (*v0.ServerJSON, error) {
	endpoint := fmt.Sprintf("%s/v0/servers/%s/versions/latest", c.baseURL, url.PathEscape(name))
	resp, err := networking.FetchJSON[v0.ServerResponse](ctx, c.httpClient, endpoint,
		networking.WithHeader("Accept", "application/json"))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch server %s: %w", name, err)
	}
	return &resp.Data.Server, nil
}

// Search returns the latest version of every server whose name matches query.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]*v0.ServerJSON, error) {
	return c.ListServers(ctx, &ListOptions{Search: query, Version: "latest", MaxResults: maxResults})
}

// ListServers follows cursors until the registry has no more pages.
func (c *Client) ListServers(ctx context.Context, opts *ListOptions) ([]*v0.ServerJSON, error) {
	if opts == nil {
		opts = &ListOptions{}
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}

	var (
		servers []*v0.ServerJSON
		cursor  string
	)
	for {
		params := url.Values{}
		params.Set("limit", strconv.Itoa(limit))
		if cursor != "" {
			params.Set("cursor", cursor)
		}
		if opts.Search != "" {
			params.Set("search", opts.Search)
		}
		if opts.Version != "" {
			params.Set("version", opts.Version)
		}

		resp, err := networking.FetchJSON[v0.ServerListResponse](ctx, c.httpClient,
			c.baseURL+"/v0/servers?"+params.Encode(),
			networking.WithHeader("Accept", "application/json"),
			networking.WithAcceptedStatus(http.StatusOK))
		if err != nil {
			return nil, fmt.Errorf("failed to list registry servers: %w", err)
		}
		for i := range resp.Data.Servers {
			servers = append(servers, &resp.Data.Servers[i].Server)
		}

		if opts.MaxResults > 0 && len(servers) >= opts.MaxResults {
			return servers[:opts.MaxResults], nil
		}
		next := resp.Data.Metadata.NextCursor
		if next == "" || next == cursor {
			return servers, nil
		}
		if len(servers) > maxServers {
			return nil, fmt.Errorf("registry returned more than %d servers", maxServers)
		}
		cursor = next
	}
}
