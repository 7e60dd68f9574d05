// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package connections opens and caches live MCP sessions to backend servers,
// one per (user, server) pair, over stdio subprocesses or OAuth-authenticated
// streamable HTTP.
package connections

import (
	"context"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/stacklok/mcp-gateway/pkg/resources"
)

const healthProbeTimeout = 5 * time.Second

// Client is the part of an MCP client a Session drives. *client.Client from
// mcp-go satisfies it.
type Client interface {
	Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Ping(ctx context.Context) error
	Close() error
}

// Session is an initialized MCP session owned by one user.
type Session struct {
	UserID      string
	ServiceID   string
	Transport   resources.TransportType
	ServerInfo  mcp.Implementation
	ConnectedAt time.Time

	client    Client
	closeOnce sync.Once
	closeErr  error
}

// SessionInfo describes a pooled session.
type SessionInfo struct {
	ServiceID   string                  `json:"service_id"`
	Transport   resources.TransportType `json:"transport"`
	ServerName  string                  `json:"server_name,omitempty"`
	ConnectedAt time.Time               `json:"connected_at"`
	LastUsedAt  time.Time               `json:"last_used_at"`
	InUse       bool                    `json:"in_use"`
}

// ListTools returns every tool the server exposes, following pagination.
func (s *Session) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	var (
		tools  []mcp.Tool
		cursor mcp.Cursor
	)
	for {
		req := mcp.ListToolsRequest{}
		req.Params.Cursor = cursor
		res, err := s.client.ListTools(ctx, req)
		if err != nil {
			return nil, err
		}
		tools = append(tools, res.Tools...)
		if res.NextCursor == "" || res.NextCursor == cursor {
			return tools, nil
		}
		cursor = res.NextCursor
	}
}

// CallTool invokes a tool on the server.
func (s *Session) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return s.client.CallTool(ctx, req)
}

// IsHealthy pings the server.
func (s *Session) IsHealthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()
	return s.client.Ping(ctx) == nil
}

// Close releases the transport. Later calls return the first result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.client.Close()
	})
	return s.closeErr
}
