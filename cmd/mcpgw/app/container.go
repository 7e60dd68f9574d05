// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/stacklok/toolhive-core/env"

	"github.com/stacklok/mcp-gateway/pkg/container/docker"
)

func newContainerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "container",
		Short: "Inspect and stop containers run by the gateway",
		Long: `The container command talks to the local Docker daemon directly. It only sees
containers carrying the gateway's labels.`,
	}
	cmd.AddCommand(
		newContainerListCmd(),
		newContainerStatusCmd(),
		newContainerLogsCmd(),
		newContainerStopCmd(),
	)
	return cmd
}

func openContainerManager(ctx context.Context) (*docker.Manager, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	socket, err := docker.FindSocket(cfg.Container.SocketPath, &env.OSReader{})
	if err != nil {
		return nil, err
	}
	return docker.NewManager(ctx, socket, cfg.Container.NamePrefix)
}

func newContainerListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List gateway containers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := openContainerManager(cmd.Context())
			if err != nil {
				return err
			}
			records, err := m.ListServers(cmd.Context())
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No gateway containers found")
				return nil
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.Options(tablewriter.WithHeader([]string{"Server", "Container", "State", "Image", "Transport", "Created By"}))
			for _, r := range records {
				if err := table.Append([]string{
					r.ServerName, r.Name, r.State, r.Image, r.Transport, r.CreatedBy,
				}); err != nil {
					return fmt.Errorf("failed to append row: %w", err)
				}
			}
			if err := table.Render(); err != nil {
				return fmt.Errorf("failed to render table: %w", err)
			}
			return nil
		},
	}
}

func newContainerStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <server>",
		Short: "Show the container status of a server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := openContainerManager(cmd.Context())
			if err != nil {
				return err
			}
			st, err := m.GetStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.Options(tablewriter.WithHeader([]string{"Server", "Status", "Running", "Container ID", "Image"}))
			if err := table.Append([]string{
				args[0], st.Status, strconv.FormatBool(st.Running), st.ContainerID, st.Image,
			}); err != nil {
				return fmt.Errorf("failed to append row: %w", err)
			}
			if err := table.Render(); err != nil {
				return fmt.Errorf("failed to render table: %w", err)
			}
			return nil
		},
	}
}

func newContainerLogsCmd() *cobra.Command {
	var tail int

	cmd := &cobra.Command{
		Use:   "logs <server>",
		Short: "Print the most recent log lines of a server container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := openContainerManager(cmd.Context())
			if err != nil {
				return err
			}
			logs, err := m.GetLogs(cmd.Context(), args[0], tail)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), logs)
			return err
		},
	}

	cmd.Flags().IntVar(&tail, "tail", docker.DefaultLogTail, "Number of lines to show")
	return cmd
}

func newContainerStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <server>",
		Short: "Stop and remove a server container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := openContainerManager(cmd.Context())
			if err != nil {
				return err
			}
			if err := m.StopServer(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Container for %s stopped\n", args[0])
			return nil
		},
	}
}
