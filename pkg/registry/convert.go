// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	v0 "github.com/modelcontextprotocol/registry/pkg/api/v0"
	"github.com/modelcontextprotocol/registry/pkg/model"

	"github.com/stacklok/mcp-gateway/pkg/resources"
)

// transportStreamableHTTP is the registry's name for streamable HTTP.
const transportStreamableHTTP = "streamable-http"

// Summary is the registry entry as shown to agents and the CLI.
type Summary struct {
	Name        string `json:"name"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version,omitempty"`
	// Kind is "remote", "container" or "package".
	Kind       string `json:"kind"`
	Transport  string `json:"transport,omitempty"`
	URL        string `json:"url,omitempty"`
	Image      string `json:"image,omitempty"`
	Repository string `json:"repository,omitempty"`
}

// Summarize flattens a registry entry. Remotes win over packages, and OCI
// packages over the other registry types.
func Summarize(s *v0.ServerJSON) Summary {
	out := Summary{
		Name:        s.Name,
		Title:       s.Title,
		Description: s.Description,
		Version:     s.Version,
		Kind:        "package",
	}
	if s.Repository != nil {
		out.Repository = s.Repository.URL
	}
	switch {
	case len(s.Remotes) > 0:
		out.Kind = "remote"
		out.Transport = s.Remotes[0].Type
		out.URL = s.Remotes[0].URL
	default:
		if pkg, ok := ociPackage(s); ok {
			out.Kind = "container"
			out.Image = pkg.Identifier
			out.Transport = pkg.Transport.Type
		} else if len(s.Packages) > 0 {
			out.Transport = s.Packages[0].Transport.Type
		}
	}
	return out
}

// ShortName turns "io.github.acme/weather-server" into "weather-server".
func ShortName(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// ToServerDefinition builds a gateway definition for a registry entry. A
// streamable HTTP remote becomes a URL-backed server; an OCI package served
// over streamable HTTP becomes a container-backed server. Anything else is
// rejected, since the gateway cannot reach it.
func ToServerDefinition(s *v0.ServerJSON, createdBy string) (*resources.ServerDefinition, error) {
	if s == nil || s.Name == "" {
		return nil, fmt.Errorf("registry entry has no name")
	}
	def := &resources.ServerDefinition{
		Name:        ShortName(s.Name),
		Description: s.Description,
		Transport:   resources.TransportStreamableHTTP,
		CreatedBy:   createdBy,
	}

	for _, remote := range s.Remotes {
		if remote.Type == transportStreamableHTTP {
			def.URL = remote.URL
			return def, def.Validate()
		}
	}

	pkg, ok := ociPackage(s)
	if !ok || pkg.Transport.Type != transportStreamableHTTP {
		return nil, fmt.Errorf("server %s has no streamable HTTP remote or container image", s.Name)
	}
	def.DockerImage = pkg.Identifier
	if port := transportPort(pkg.Transport.URL); port > 0 {
		def.DockerPorts = map[string]int{fmt.Sprintf("%d/tcp", port): port}
	}
	for _, ev := range pkg.EnvironmentVariables {
		if ev.Default == "" || ev.IsSecret {
			continue
		}
		if def.Env == nil {
			def.Env = make(map[string]string)
		}
		def.Env[ev.Name] = ev.Default
	}
	return def, def.Validate()
}

func ociPackage(s *v0.ServerJSON) (model.Package, bool) {
	for _, pkg := range s.Packages {
		if pkg.RegistryType == model.RegistryTypeOCI {
			return pkg, true
		}
	}
	return model.Package{}, false
}

func transportPort(raw string) int {
	if raw == "" {
		return 0
	}
	u, err := url.Parse(raw)
	if err != nil {
		return 0
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		return 0
	}
	return port
}
