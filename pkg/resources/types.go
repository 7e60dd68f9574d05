// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package resources defines the catalog of backend MCP servers the gateway
// can reach and the access rules that guard each entry.
package resources

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"time"

	"github.com/stacklok/mcp-gateway/pkg/errors"
)

// AdminRole grants read and write access to every server definition.
const AdminRole = "mcp.admin"

// TransportType is how the gateway reaches a backend server.
type TransportType string

const (
	// TransportStdio runs the server as a subprocess speaking over stdin/stdout.
	TransportStdio TransportType = "stdio"
	// TransportStreamableHTTP reaches the server over OAuth-authenticated streamable HTTP.
	TransportStreamableHTTP TransportType = "streamable_http"
)

// ParseTransportType accepts exactly the two supported transports.
func ParseTransportType(s string) (TransportType, error) {
	switch t := TransportType(s); t {
	case TransportStdio, TransportStreamableHTTP:
		return t, nil
	default:
		return "", errors.NewInvalidArgumentError(
			fmt.Sprintf("unsupported transport %q (supported: stdio, streamable_http)", s), nil)
	}
}

// Operation is the kind of access requested in CanAccess.
type Operation string

const (
	// OperationRead covers listing, connecting and calling tools.
	OperationRead Operation = "read"
	// OperationWrite covers updating and deleting the definition.
	OperationWrite Operation = "write"
)

var validName = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// ServerDefinition describes how to reach one MCP server.
type ServerDefinition struct {
	Name        string        `json:"name" yaml:"name" toml:"name"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty" toml:"description,omitempty"`
	Transport   TransportType `json:"transport" yaml:"transport" toml:"transport"`

	// stdio
	Command string   `json:"command,omitempty" yaml:"command,omitempty" toml:"command,omitempty"`
	Args    []string `json:"args,omitempty" yaml:"args,omitempty" toml:"args,omitempty"`
	// EnvKeys name secrets resolved into the subprocess environment.
	EnvKeys []string `json:"env_keys,omitempty" yaml:"env_keys,omitempty" toml:"env_keys,omitempty"`

	// streamable HTTP
	URL           string `json:"url,omitempty" yaml:"url,omitempty" toml:"url,omitempty"`
	OAuthClientID string `json:"oauth_client_id,omitempty" yaml:"oauth_client_id,omitempty" toml:"oauth_client_id,omitempty"`
	// OAuthClientSecretRef names the client secret in the secrets provider.
	OAuthClientSecretRef string `json:"oauth_client_secret_ref,omitempty" yaml:"oauth_client_secret_ref,omitempty" toml:"oauth_client_secret_ref,omitempty"`
	DefaultScope         string `json:"default_scope,omitempty" yaml:"default_scope,omitempty" toml:"default_scope,omitempty"`

	// container-backed
	DockerImage string            `json:"docker_image,omitempty" yaml:"docker_image,omitempty" toml:"docker_image,omitempty"`
	DockerPorts map[string]int    `json:"docker_ports,omitempty" yaml:"docker_ports,omitempty" toml:"docker_ports,omitempty"`
	Env         map[string]string `json:"env,omitempty" yaml:"env,omitempty" toml:"env,omitempty"`

	IconURL       string    `json:"icon_url,omitempty" yaml:"icon_url,omitempty" toml:"icon_url,omitempty"`
	Enabled       *bool     `json:"enabled,omitempty" yaml:"enabled,omitempty" toml:"enabled,omitempty"`
	OrgID         *string   `json:"org_id,omitempty" yaml:"org_id,omitempty" toml:"org_id,omitempty"`
	CreatedBy     string    `json:"created_by" yaml:"created_by" toml:"created_by"`
	RequiredRoles []string  `json:"required_roles,omitempty" yaml:"required_roles,omitempty" toml:"required_roles,omitempty"`
	CreatedAt     time.Time `json:"created_at" yaml:"-" toml:"-"`
	UpdatedAt     time.Time `json:"updated_at" yaml:"-" toml:"-"`
}

// IsEnabled reports whether the server may be connected to. Definitions
// without an explicit flag are enabled.
func (d *ServerDefinition) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// IsContainerBacked reports whether the gateway runs the server itself.
func (d *ServerDefinition) IsContainerBacked() bool {
	return d.DockerImage != ""
}

// EndpointURL returns the URL used to reach a streamable HTTP server. For a
// container-backed server without an explicit URL it is derived from the host
// port published for the lowest container port.
func (d *ServerDefinition) EndpointURL() (string, error) {
	if d.URL != "" || !d.IsContainerBacked() {
		return d.URL, nil
	}
	if len(d.DockerPorts) == 0 {
		return "", errors.NewConfigurationError(
			fmt.Sprintf("server %s publishes no ports and has no url", d.Name), nil)
	}
	first := slices.Sorted(maps.Keys(d.DockerPorts))[0]
	return fmt.Sprintf("http://127.0.0.1:%d/mcp", d.DockerPorts[first]), nil
}

// Validate checks the fields required by the definition's transport.
func (d *ServerDefinition) Validate() error {
	if d.Name == "" {
		return errors.NewConfigurationError("server name is required", nil)
	}
	if !validName.MatchString(d.Name) {
		return errors.NewConfigurationError(fmt.Sprintf("invalid server name %q", d.Name), nil)
	}
	if _, err := ParseTransportType(string(d.Transport)); err != nil {
		return errors.NewConfigurationError(fmt.Sprintf("server %s", d.Name), err)
	}
	switch d.Transport {
	case TransportStdio:
		if d.Command == "" {
			return errors.NewConfigurationError(fmt.Sprintf("stdio server %s requires a command", d.Name), nil)
		}
	case TransportStreamableHTTP:
		if d.URL == "" && !d.IsContainerBacked() {
			return errors.NewConfigurationError(fmt.Sprintf("streamable_http server %s requires a url", d.Name), nil)
		}
	}
	return nil
}

// CanAccess reports whether userID holding roles may perform op.
//
// The creator and administrators may always read and write. Anyone else may
// read when the definition requires no roles or when they hold one of them.
// Role membership never grants write access.
func (d *ServerDefinition) CanAccess(userID string, roles []string, op Operation) bool {
	if userID != "" && userID == d.CreatedBy {
		return true
	}
	if slices.Contains(roles, AdminRole) {
		return true
	}
	if op != OperationRead {
		return false
	}
	if len(d.RequiredRoles) == 0 {
		return true
	}
	for _, r := range roles {
		if slices.Contains(d.RequiredRoles, r) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (d *ServerDefinition) Clone() *ServerDefinition {
	c := *d
	c.Args = slices.Clone(d.Args)
	c.EnvKeys = slices.Clone(d.EnvKeys)
	c.RequiredRoles = slices.Clone(d.RequiredRoles)
	c.DockerPorts = maps.Clone(d.DockerPorts)
	c.Env = maps.Clone(d.Env)
	if d.Enabled != nil {
		v := *d.Enabled
		c.Enabled = &v
	}
	if d.OrgID != nil {
		v := *d.OrgID
		c.OrgID = &v
	}
	return &c
}

// Stamp sets the timestamps for an upsert: CreatedAt is kept from previous
// when present, and UpdatedAt is always now.
func Stamp(d *ServerDefinition, previous *ServerDefinition, now time.Time) {
	switch {
	case previous != nil && !previous.CreatedAt.IsZero():
		d.CreatedAt = previous.CreatedAt
	case d.CreatedAt.IsZero():
		d.CreatedAt = now
	}
	d.UpdatedAt = now
}
