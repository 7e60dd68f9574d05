// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app provides the entry point for the mcpgw command-line application.
package app

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/mcp-gateway/pkg/config"
	"github.com/stacklok/mcp-gateway/pkg/logger"
	"github.com/stacklok/mcp-gateway/pkg/versions"
)

// NewRootCmd creates a new root command for the mcpgw CLI.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "mcpgw",
		DisableAutoGenTag: true,
		Short:             "MCP gateway - one MCP endpoint in front of many MCP servers",
		Long: `mcpgw is a gateway that exposes many MCP (Model Context Protocol) servers through a
single endpoint. It keeps a catalog of backend servers, connects to them on behalf of each
user, pools the resulting sessions and offers their tools behind one set of gateway tools.

Backends are reached over stdio subprocesses or OAuth-protected streamable HTTP, and
catalog servers can be run as containers on the local Docker daemon.`,
		Run: func(cmd *cobra.Command, _ []string) {
			if err := cmd.Help(); err != nil {
				logger.Errorf("Error displaying help: %v", err)
			}
		},
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			logger.Initialize()
		},
	}

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the gateway configuration file")
	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		logger.Errorf("Error binding config flag: %v", err)
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newValidateCmd(),
		newSecretCommand(),
		newCatalogCommand(),
		newContainerCommand(),
		newConnectCmd(),
		newVersionCmd(),
	)

	rootCmd.SilenceUsage = true
	return rootCmd
}

// loadConfig loads --config, or the default location when the flag is unset.
func loadConfig() (*config.Config, error) {
	return config.NewLoader(viper.GetString("config"), nil).Load()
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		Long: `Load the configuration file, apply defaults and report every problem found.
Environment references such as ${REDIS_PASSWORD} are expanded before validation.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Configuration is valid")
			fmt.Fprintf(out, "  MCP listener:   %s\n", cfg.Listen.Address)
			fmt.Fprintf(out, "  Admin listener: %s\n", adminEndpoint(cfg))
			fmt.Fprintf(out, "  Storage:        %s\n", cfg.Storage.Type)
			fmt.Fprintf(out, "  Seed servers:   %d\n", len(cfg.Servers))
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show the version of mcpgw",
		Long:  `Display the version, git commit, build date and Go version of mcpgw.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := versions.GetVersionInfo()
			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}
			fmt.Fprintf(out, "mcpgw %s\n", info.Version)
			fmt.Fprintf(out, "Commit: %s\n", info.Commit)
			fmt.Fprintf(out, "Built: %s\n", info.BuildDate)
			fmt.Fprintf(out, "Go version: %s\n", info.GoVersion)
			fmt.Fprintf(out, "Platform: %s\n", info.Platform)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version information as JSON")
	return cmd
}

func adminEndpoint(cfg *config.Config) string {
	if cfg.Admin.Socket != "" {
		return "unix://" + cfg.Admin.Socket
	}
	return cfg.Admin.Address
}
