// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package toolindex keeps a searchable catalog of the tools exposed by
// mounted backend servers.
package toolindex

import (
	"slices"
	"strings"
	"sync"

	"github.com/stacklok/mcp-gateway/pkg/logger"
)

// Tool describes one tool exposed by a backend server.
type Tool struct {
	Server      string `json:"server"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Index maps server names to the tools they expose. It is safe for
// concurrent use.
type Index struct {
	mu    sync.RWMutex
	tools map[string][]Tool
}

// New creates an empty index.
func New() *Index {
	return &Index{tools: make(map[string][]Tool)}
}

// RegisterTools replaces the tool set for server. Each tool is tagged with
// the server name regardless of what the caller put in Server.
func (x *Index) RegisterTools(server string, tools []Tool) {
	tagged := make([]Tool, len(tools))
	for i, t := range tools {
		tagged[i] = Tool{Server: server, Name: t.Name, Description: t.Description}
	}

	x.mu.Lock()
	x.tools[server] = tagged
	x.mu.Unlock()

	logger.Debugf("Registered %d tools from server %s", len(tagged), logger.Sanitize(server))
}

// UnregisterServer removes every tool registered for server.
func (x *Index) UnregisterServer(server string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.tools, server)
}

// ListAllTools returns the union of all registered tools, ordered by server
// name and then registration order.
func (x *Index) ListAllTools() []Tool {
	return x.filter(func(Tool) bool { return true })
}

// SearchTools returns the tools whose name, description or server name
// contains query, ignoring case. An empty query returns every tool.
func (x *Index) SearchTools(query string) []Tool {
	if query == "" {
		return x.ListAllTools()
	}
	q := strings.ToLower(query)
	return x.filter(func(t Tool) bool {
		searchable := strings.ToLower(t.Name + " " + t.Description + " " + t.Server)
		return strings.Contains(searchable, q)
	})
}

// ToolsForServer returns the tools registered for server.
func (x *Index) ToolsForServer(server string) []Tool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return slices.Clone(x.tools[server])
}

// Servers returns the names of all servers with registered tools, sorted.
func (x *Index) Servers() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	names := make([]string, 0, len(x.tools))
	for name := range x.tools {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ToolCount returns the total number of registered tools.
func (x *Index) ToolCount() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	n := 0
	for _, tools := range x.tools {
		n += len(tools)
	}
	return n
}

func (x *Index) filter(keep func(Tool) bool) []Tool {
	x.mu.RLock()
	defer x.mu.RUnlock()

	servers := make([]string, 0, len(x.tools))
	for name := range x.tools {
		servers = append(servers, name)
	}
	slices.Sort(servers)

	out := []Tool{}
	for _, s := range servers {
		for _, t := range x.tools[s] {
			if keep(t) {
				out = append(out, t)
			}
		}
	}
	return out
}
