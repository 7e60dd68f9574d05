// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/stacklok/mcp-gateway/pkg/auth"
	"github.com/stacklok/mcp-gateway/pkg/connections"
	gwerrors "github.com/stacklok/mcp-gateway/pkg/errors"
	"github.com/stacklok/mcp-gateway/pkg/logger"
	"github.com/stacklok/mcp-gateway/pkg/registry"
	"github.com/stacklok/mcp-gateway/pkg/resources"
	"github.com/stacklok/mcp-gateway/pkg/toolindex"
)

// Scopes a bearer caller must hold for each tool.
const (
	ScopeDiscover     = "discover"
	ScopeToolsRead    = "tools.read"
	ScopeToolsExecute = "tools.execute"
)

const defaultDiscoverLimit = 20

// caller is who a tool call runs for. Path-token clients hold the shared
// gateway secret and act as the administrative system user.
type caller struct {
	userID string
	roles  []string
	bearer *auth.Identity
}

func callerFrom(ctx context.Context) caller {
	if id, ok := auth.IdentityFromContext(ctx); ok {
		return caller{userID: id.Subject, roles: id.Roles, bearer: id}
	}
	return caller{userID: connections.SystemUser, roles: []string{resources.AdminRole}}
}

// requireScopes rejects bearer callers that lack any of scopes.
func requireScopes(next server.ToolHandlerFunc, scopes ...string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		c := callerFrom(ctx)
		if c.bearer != nil && !c.bearer.HasAllScopes(scopes...) {
			logger.Debugf("Denied %s to %s: missing scopes", req.Params.Name, logger.Sanitize(c.userID))
			return toolError("insufficient scope: %s requires %s", req.Params.Name, strings.Join(scopes, ", ")), nil
		}
		return next(ctx, req)
	}
}

func (g *Gateway) registerTools() {
	g.mcpServer.AddTool(mcp.NewTool("list_tools",
		mcp.WithDescription("List the tools exposed by mounted MCP servers"),
		mcp.WithString("server", mcp.Description("Only list tools of this server")),
		mcp.WithReadOnlyHintAnnotation(true),
	), requireScopes(g.ListTools, ScopeToolsRead))

	g.mcpServer.AddTool(mcp.NewTool("search_tools",
		mcp.WithDescription("Search mounted tools by name, description or server"),
		mcp.WithString("query", mcp.Required(), mcp.Description("Case-insensitive search text")),
		mcp.WithReadOnlyHintAnnotation(true),
	), requireScopes(g.SearchTools, ScopeToolsRead))

	g.mcpServer.AddTool(mcp.NewTool("list_servers",
		mcp.WithDescription("List the MCP servers you can use through the gateway"),
		mcp.WithReadOnlyHintAnnotation(true),
	), requireScopes(g.ListServers, ScopeToolsRead))

	g.mcpServer.AddTool(mcp.NewTool("call_tool",
		mcp.WithDescription("Call a tool on a backend MCP server"),
		mcp.WithString("server", mcp.Required(), mcp.Description("Server that exposes the tool")),
		mcp.WithString("tool", mcp.Required(), mcp.Description("Tool name")),
		mcp.WithObject("arguments", mcp.Description("Arguments passed to the tool")),
	), requireScopes(g.CallTool, ScopeToolsExecute))

	if g.registry != nil {
		g.mcpServer.AddTool(mcp.NewTool("discover_servers",
			mcp.WithDescription("Search the MCP Registry for servers that could be added to the gateway"),
			mcp.WithString("query", mcp.Required(), mcp.Description("Search text matched against server names")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
			mcp.WithReadOnlyHintAnnotation(true),
			mcp.WithOpenWorldHintAnnotation(true),
		), requireScopes(g.DiscoverServers, ScopeDiscover))
	}
}

// ToolsResponse is returned by list_tools and search_tools.
type ToolsResponse struct {
	Tools []toolindex.Tool `json:"tools"`
	Count int              `json:"count"`
}

// ServerInfo is one entry of list_servers.
type ServerInfo struct {
	Name        string                  `json:"name"`
	Description string                  `json:"description,omitempty"`
	Transport   resources.TransportType `json:"transport"`
	Enabled     bool                    `json:"enabled"`
	Container   bool                    `json:"container"`
	Mounted     bool                    `json:"mounted"`
	ToolCount   int                     `json:"tool_count"`
	IconURL     string                  `json:"icon_url,omitempty"`
}

// ServersResponse is returned by list_servers.
type ServersResponse struct {
	Servers []ServerInfo `json:"servers"`
}

// DiscoverResponse is returned by discover_servers.
type DiscoverResponse struct {
	Servers []registry.Summary `json:"servers"`
}

// ListTools lists indexed tools of the servers the caller may read.
func (g *Gateway) ListTools(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := struct {
		Server string `json:"server"`
	}{}
	if err := req.BindArguments(&args); err != nil {
		return toolError("Failed to parse arguments: %v", err), nil
	}

	readable, err := g.readableServers(ctx, callerFrom(ctx))
	if err != nil {
		return toolError("Failed to list servers: %v", err), nil
	}

	var tools []toolindex.Tool
	if args.Server != "" {
		if _, ok := readable[args.Server]; !ok {
			return toolError("Server '%s' not found", args.Server), nil
		}
		tools = g.index.ToolsForServer(args.Server)
	} else {
		tools = filterTools(g.index.ListAllTools(), readable)
	}
	return mcp.NewToolResultStructuredOnly(ToolsResponse{Tools: tools, Count: len(tools)}), nil
}

// SearchTools searches indexed tools of the servers the caller may read.
func (g *Gateway) SearchTools(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := struct {
		Query string `json:"query"`
	}{}
	if err := req.BindArguments(&args); err != nil {
		return toolError("Failed to parse arguments: %v", err), nil
	}

	readable, err := g.readableServers(ctx, callerFrom(ctx))
	if err != nil {
		return toolError("Failed to list servers: %v", err), nil
	}
	tools := filterTools(g.index.SearchTools(args.Query), readable)
	return mcp.NewToolResultStructuredOnly(ToolsResponse{Tools: tools, Count: len(tools)}), nil
}

// ListServers lists the servers the caller may read.
func (g *Gateway) ListServers(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	readable, err := g.readableServers(ctx, callerFrom(ctx))
	if err != nil {
		return toolError("Failed to list servers: %v", err), nil
	}

	defs := make([]*resources.ServerDefinition, 0, len(readable))
	for _, def := range readable {
		defs = append(defs, def)
	}
	resources.SortByName(defs)

	out := ServersResponse{Servers: make([]ServerInfo, 0, len(defs))}
	for _, def := range defs {
		tools := g.index.ToolsForServer(def.Name)
		out.Servers = append(out.Servers, ServerInfo{
			Name:        def.Name,
			Description: def.Description,
			Transport:   def.Transport,
			Enabled:     def.IsEnabled(),
			Container:   def.IsContainerBacked(),
			Mounted:     len(tools) > 0,
			ToolCount:   len(tools),
			IconURL:     def.IconURL,
		})
	}
	return mcp.NewToolResultStructuredOnly(out), nil
}

// CallTool forwards a tool call to a backend server as the caller.
func (g *Gateway) CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := struct {
		Server    string         `json:"server"`
		Tool      string         `json:"tool"`
		Arguments map[string]any `json:"arguments"`
	}{}
	if err := req.BindArguments(&args); err != nil {
		return toolError("Failed to parse arguments: %v", err), nil
	}
	if args.Server == "" || args.Tool == "" {
		return toolError("Both 'server' and 'tool' are required"), nil
	}

	c := callerFrom(ctx)
	def, err := g.servers.Get(ctx, args.Server)
	if err != nil || !def.CanAccess(c.userID, c.roles, resources.OperationRead) {
		return toolError("Server '%s' not found", args.Server), nil
	}

	res, err := g.conns.CallTool(ctx, c.userID, def, args.Tool, args.Arguments)
	switch {
	case err == nil:
		return res, nil
	case gwerrors.IsCredential(err):
		return toolError("Server '%s' requires authorization. Connect it through the gateway's OAuth flow first.", def.Name), nil
	case gwerrors.IsForbidden(err):
		return toolError("Server '%s' is disabled", def.Name), nil
	default:
		logger.Warnf("Tool %s on %s failed: %v", logger.Sanitize(args.Tool), logger.Sanitize(def.Name), err)
		return toolError("Failed to call %s on %s: %v", args.Tool, def.Name, err), nil
	}
}

// DiscoverServers searches the MCP Registry.
func (g *Gateway) DiscoverServers(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}{}
	if err := req.BindArguments(&args); err != nil {
		return toolError("Failed to parse arguments: %v", err), nil
	}
	if args.Limit <= 0 {
		args.Limit = defaultDiscoverLimit
	}

	found, err := g.registry.Search(ctx, args.Query, args.Limit)
	if err != nil {
		return toolError("Failed to search registry: %v", err), nil
	}
	out := DiscoverResponse{Servers: make([]registry.Summary, 0, len(found))}
	for _, s := range found {
		out.Servers = append(out.Servers, registry.Summarize(s))
	}
	return mcp.NewToolResultStructuredOnly(out), nil
}

func (g *Gateway) readableServers(ctx context.Context, c caller) (map[string]*resources.ServerDefinition, error) {
	defs, err := g.servers.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*resources.ServerDefinition, len(defs))
	for _, def := range defs {
		if def.CanAccess(c.userID, c.roles, resources.OperationRead) {
			out[def.Name] = def
		}
	}
	return out, nil
}

func filterTools(tools []toolindex.Tool, readable map[string]*resources.ServerDefinition) []toolindex.Tool {
	out := make([]toolindex.Tool, 0, len(tools))
	for _, t := range tools {
		if _, ok := readable[t.Server]; ok {
			out = append(out, t)
		}
	}
	return out
}
