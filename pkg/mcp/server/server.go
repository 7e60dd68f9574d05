// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package server is the gateway's own MCP server. Agents connect to it
// through the router and reach every mounted backend through its tools.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	v0 "github.com/modelcontextprotocol/registry/pkg/api/v0"

	"github.com/stacklok/mcp-gateway/pkg/connections"
	gwerrors "github.com/stacklok/mcp-gateway/pkg/errors"
	"github.com/stacklok/mcp-gateway/pkg/logger"
	"github.com/stacklok/mcp-gateway/pkg/resources"
	"github.com/stacklok/mcp-gateway/pkg/router"
	"github.com/stacklok/mcp-gateway/pkg/toolindex"
	"github.com/stacklok/mcp-gateway/pkg/versions"
)

// ServerName is advertised in the MCP handshake.
const ServerName = "mcp-gateway"

const sseKeepAlive = 30 * time.Second

// Connector reaches backend servers on behalf of a user.
// *connections.Manager satisfies it.
type Connector interface {
	ListTools(ctx context.Context, userID string, def *resources.ServerDefinition) ([]mcp.Tool, error)
	CallTool(ctx context.Context, userID string, def *resources.ServerDefinition, name string, args map[string]any) (*mcp.CallToolResult, error)
	DisconnectServer(serviceID string) int
}

// Discoverer searches an MCP registry. *registry.Client satisfies it.
type Discoverer interface {
	Search(ctx context.Context, query string, maxResults int) ([]*v0.ServerJSON, error)
}

// Config wires the gateway to its collaborators.
type Config struct {
	Servers     resources.Store
	Index       *toolindex.Index
	Connections Connector
	// Registry backs discover_servers. Nil leaves the tool unregistered.
	Registry Discoverer
	// WellKnown serves /.well-known/ metadata for bearer clients.
	WellKnown http.Handler
}

// Gateway exposes the aggregated backends as MCP tools.
type Gateway struct {
	servers   resources.Store
	index     *toolindex.Index
	conns     Connector
	registry  Discoverer
	wellKnown http.Handler
	mcpServer *server.MCPServer
}

// New creates the gateway and registers its tools.
func New(cfg Config) (*Gateway, error) {
	if cfg.Servers == nil || cfg.Index == nil || cfg.Connections == nil {
		return nil, gwerrors.NewInvalidArgumentError("gateway requires a server store, tool index and connector", nil)
	}
	g := &Gateway{
		servers:   cfg.Servers,
		index:     cfg.Index,
		conns:     cfg.Connections,
		registry:  cfg.Registry,
		wellKnown: cfg.WellKnown,
	}
	g.mcpServer = server.NewMCPServer(
		ServerName,
		versions.GetVersionInfo().Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	g.registerTools()
	return g, nil
}

// MCPServer returns the underlying protocol server.
func (g *Gateway) MCPServer() *server.MCPServer {
	return g.mcpServer
}

// Apps builds the SSE and streamable HTTP front ends for base. It is the
// router's Builder.
func (g *Gateway) Apps(base string) (*router.Apps, error) {
	sse := server.NewSSEServer(g.mcpServer,
		server.WithStaticBasePath(base),
		server.WithSSEEndpoint("/sse"),
		server.WithMessageEndpoint("/messages/"),
		server.WithKeepAliveInterval(sseKeepAlive),
	)
	streamable := server.NewStreamableHTTPServer(g.mcpServer,
		server.WithEndpointPath(base+"/http"),
	)

	mux := http.NewServeMux()
	mux.Handle(base+"/http", streamable)
	if g.wellKnown != nil {
		mux.Handle("/.well-known/", g.wellKnown)
	}
	return &router.Apps{SSE: sse, HTTP: mux}, nil
}

// Mount lists the tools of server name, connecting as userID, and registers
// them in the index. It returns the number of tools registered.
func (g *Gateway) Mount(ctx context.Context, userID, name string) (int, error) {
	def, err := g.servers.Get(ctx, name)
	if err != nil {
		return 0, err
	}
	tools, err := g.conns.ListTools(ctx, userID, def)
	if err != nil {
		return 0, err
	}

	entries := make([]toolindex.Tool, 0, len(tools))
	for _, t := range tools {
		entries = append(entries, toolindex.Tool{Name: t.Name, Description: t.Description})
	}
	g.index.RegisterTools(def.Name, entries)
	logger.Infof("Mounted %s with %d tools", logger.Sanitize(def.Name), len(entries))
	return len(entries), nil
}

// Unmount drops the server's tools and closes every session to it.
func (g *Gateway) Unmount(name string) {
	g.index.UnregisterServer(name)
	if closed := g.conns.DisconnectServer(name); closed > 0 {
		logger.Debugf("Closed %d sessions to %s", closed, logger.Sanitize(name))
	}
}

// MountAll mounts every enabled server as the system user. Failures are
// logged and skipped; servers needing per-user OAuth are mounted when a user
// first authorizes them.
func (g *Gateway) MountAll(ctx context.Context) int {
	defs, err := g.servers.ListAll(ctx)
	if err != nil {
		logger.Warnf("Failed to list servers for mounting: %v", err)
		return 0
	}
	mounted := 0
	for _, def := range defs {
		if !def.IsEnabled() {
			continue
		}
		if _, err := g.Mount(ctx, connections.SystemUser, def.Name); err != nil {
			logger.Warnf("Failed to mount %s: %v", logger.Sanitize(def.Name), err)
			continue
		}
		mounted++
	}
	return mounted
}

func toolError(format string, args ...any) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf(format, args...))
}
