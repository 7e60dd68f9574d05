// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/stacklok/mcp-gateway/pkg/catalog"
	"github.com/stacklok/mcp-gateway/pkg/networking"
	"github.com/stacklok/mcp-gateway/pkg/resources"
)

func newCatalogCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Import servers from an MCP catalog",
	}
	cmd.AddCommand(newCatalogImportCmd())
	return cmd
}

type catalogBrowseResponse struct {
	Servers []catalog.Entry `json:"servers"`
}

func newCatalogImportCmd() *cobra.Command {
	var (
		names  []string
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Install catalog entries into a running gateway",
		Long: `Read a catalog file (YAML with a "servers" list, or a bare list) and install its
entries as container-backed servers through the admin API.

Use "-" to read the catalog from stdin. Without --name every entry is installed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readCatalogFile(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			client, err := newAdminClient()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			browsed, err := adminFetch[catalogBrowseResponse](ctx, client, "catalog/browse",
				networking.WithMethod(http.MethodPost),
				networking.WithHeader("Content-Type", "application/yaml"),
				networking.WithBody(bytes.NewReader(data)),
			)
			if err != nil {
				return err
			}

			selected := make([]catalog.Entry, 0, len(browsed.Servers))
			for _, e := range browsed.Servers {
				if len(names) == 0 || slices.Contains(names, e.Name) {
					selected = append(selected, e)
				}
			}
			if len(selected) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No matching catalog entries found")
				return nil
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.Options(tablewriter.WithHeader([]string{"Entry", "Server", "Transport", "Image", "Result"}))

			var failed int
			for _, e := range selected {
				server := catalog.DefinitionName(e.Name)
				result := "would install"
				if !dryRun {
					def, err := adminFetch[resources.ServerDefinition](ctx, client, "catalog/install",
						networking.WithMethod(http.MethodPost),
						networking.WithJSONBody(e),
						networking.WithAcceptedStatus(http.StatusCreated),
					)
					if err != nil {
						failed++
						result = err.Error()
					} else {
						server = def.Name
						result = "installed"
					}
				}
				if err := table.Append([]string{e.Name, server, e.Transport, e.Image, result}); err != nil {
					return fmt.Errorf("failed to append row: %w", err)
				}
			}
			if err := table.Render(); err != nil {
				return fmt.Errorf("failed to render table: %w", err)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d entries failed to install", failed, len(selected))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&names, "name", nil, "Install only the named catalog entries (repeatable)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be installed without installing")
	return cmd
}

func readCatalogFile(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(path) // #nosec G304 -- path is provided by the user
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	return data, nil
}
