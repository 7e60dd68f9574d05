// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package labels provides utilities for managing the container labels
// the gateway uses to recognise the MCP servers it runs.
package labels

import (
	"fmt"
	"strings"
)

const (
	// LabelPrefix is the prefix for all gateway labels
	LabelPrefix = "mcpgw"

	// LabelManaged is the label that indicates a container is managed by the gateway
	LabelManaged = "mcpgw"

	// LabelServer is the label that contains the MCP server name
	LabelServer = "mcpgw.server"

	// LabelTransport is the label that contains the transport type
	LabelTransport = "mcpgw.transport"

	// LabelCreatedBy is the label that contains the id of the user who installed the server
	LabelCreatedBy = "mcpgw.created-by"

	// LabelManagedValue is the value for the LabelManaged label
	LabelManagedValue = "true"
)

// AddStandardLabels adds the labels every gateway container carries.
func AddStandardLabels(labels map[string]string, serverName, transportType, createdBy string) {
	labels[LabelManaged] = LabelManagedValue
	labels[LabelServer] = serverName
	labels[LabelTransport] = transportType
	labels[LabelCreatedBy] = createdBy
}

// FormatServerFilter formats a label filter matching all gateway containers.
func FormatServerFilter() string {
	return fmt.Sprintf("%s=%s", LabelManaged, LabelManagedValue)
}

// IsManagedContainer checks if a container is managed by the gateway
func IsManagedContainer(labels map[string]string) bool {
	value, ok := labels[LabelManaged]
	return ok && strings.ToLower(value) == LabelManagedValue
}

// GetServerName returns the MCP server name from labels
func GetServerName(labels map[string]string) string {
	return labels[LabelServer]
}

// GetTransport returns the transport type from labels
func GetTransport(labels map[string]string) string {
	return labels[LabelTransport]
}

// GetCreatedBy returns the creator id from labels
func GetCreatedBy(labels map[string]string) string {
	return labels[LabelCreatedBy]
}

// IsGatewayLabel reports whether key belongs to the gateway label namespace.
func IsGatewayLabel(key string) bool {
	return key == LabelManaged || strings.HasPrefix(key, LabelPrefix+".")
}
