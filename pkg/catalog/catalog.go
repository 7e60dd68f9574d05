// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package catalog imports third-party MCP server catalogs, such as the
// YAML export of the Docker MCP Catalog, into server definitions.
package catalog

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/stacklok/mcp-gateway/pkg/errors"
	"github.com/stacklok/mcp-gateway/pkg/logger"
	"github.com/stacklok/mcp-gateway/pkg/resources"
)

// DefaultTransport is assumed for entries that do not name one.
const DefaultTransport = resources.TransportStreamableHTTP

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

// Entry is one catalog server.
type Entry struct {
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description" yaml:"description"`
	Image       string            `json:"image" yaml:"image"`
	Transport   string            `json:"transport" yaml:"transport"`
	Port        int               `json:"port,omitempty" yaml:"port,omitempty"`
	Env         map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Args        []string          `json:"args,omitempty" yaml:"args,omitempty"`
}

type document struct {
	Servers []Entry `yaml:"servers"`
}

// Parse reads a catalog: either a mapping with a servers list or a bare
// list. Entries without a name are skipped and the transport defaults to
// streamable HTTP.
func Parse(data []byte) ([]Entry, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, errors.NewInvalidArgumentError("invalid catalog YAML", err)
	}
	if len(root.Content) == 0 {
		return []Entry{}, nil
	}

	var raw []Entry
	switch node := root.Content[0]; node.Kind {
	case yaml.MappingNode:
		var doc document
		if err := node.Decode(&doc); err != nil {
			return nil, errors.NewInvalidArgumentError("invalid catalog YAML", err)
		}
		raw = doc.Servers
	case yaml.SequenceNode:
		if err := node.Decode(&raw); err != nil {
			return nil, errors.NewInvalidArgumentError("invalid catalog YAML", err)
		}
	default:
		return nil, errors.NewInvalidArgumentError("expected YAML with a 'servers' list or a list of servers", nil)
	}

	entries := make([]Entry, 0, len(raw))
	for _, e := range raw {
		if e.Name == "" {
			logger.Debugf("skipping catalog entry without name (image %s)", logger.Sanitize(e.Image))
			continue
		}
		if e.Transport == "" {
			e.Transport = string(DefaultTransport)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// DefinitionName turns a catalog name such as "docker/github-mcp" into a
// valid server name ("docker-github-mcp").
func DefinitionName(catalogName string) string {
	return unsafeNameChars.ReplaceAllString(catalogName, "-")
}

// ToServerDefinition converts e into an enabled definition owned by
// createdBy.
//
// A streamable HTTP entry becomes a container-backed server publishing its
// port on the same host port. A stdio entry becomes a subprocess running the
// image with "docker run -i"; its env keys are forwarded from secrets rather
// than copied from the catalog.
func ToServerDefinition(e Entry, createdBy string) (*resources.ServerDefinition, error) {
	if e.Name == "" {
		return nil, errors.NewInvalidArgumentError("missing required field: name", nil)
	}
	if e.Image == "" {
		return nil, errors.NewInvalidArgumentError(fmt.Sprintf("catalog entry %s has no image", e.Name), nil)
	}
	if e.Transport == "" {
		e.Transport = string(DefaultTransport)
	}
	transport, err := resources.ParseTransportType(e.Transport)
	if err != nil {
		return nil, err
	}

	enabled := true
	def := &resources.ServerDefinition{
		Name:        DefinitionName(e.Name),
		Description: e.Description,
		Transport:   transport,
		CreatedBy:   createdBy,
		Enabled:     &enabled,
	}

	switch transport {
	case resources.TransportStreamableHTTP:
		if e.Port <= 0 || e.Port > 65535 {
			return nil, errors.NewInvalidArgumentError(
				fmt.Sprintf("catalog entry %s needs a port for streamable_http", e.Name), nil)
		}
		def.DockerImage = e.Image
		def.DockerPorts = map[string]int{strconv.Itoa(e.Port) + "/tcp": e.Port}
		def.Env = e.Env
		def.Args = e.Args
	case resources.TransportStdio:
		keys := slices.Sorted(maps.Keys(e.Env))
		args := []string{"run", "-i", "--rm"}
		for _, k := range keys {
			args = append(args, "-e", k)
		}
		args = append(args, e.Image)
		def.Command = "docker"
		def.Args = append(args, e.Args...)
		def.EnvKeys = keys
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}
