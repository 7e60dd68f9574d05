// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"fmt"
	"net/http"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	"github.com/stacklok/mcp-gateway/pkg/auth/oauth"
	"github.com/stacklok/mcp-gateway/pkg/logger"
	"github.com/stacklok/mcp-gateway/pkg/networking"
)

func newConnectCmd() *cobra.Command {
	var noBrowser bool

	cmd := &cobra.Command{
		Use:   "connect <service>",
		Short: "Authorize the gateway against an OAuth-protected server",
		Long: `Start the OAuth authorization flow for a streamable HTTP server and open the
authorization page in the browser. The gateway stores the resulting tokens for the
calling user and mounts the server's tools once the callback completes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAdminClient()
			if err != nil {
				return err
			}
			res, err := adminFetch[oauth.StartResult](cmd.Context(), client, "oauth/start",
				networking.WithMethod(http.MethodPost),
				networking.WithJSONBody(map[string]string{"service_id": args[0]}),
			)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Authorize %s (%s) by visiting:\n\n  %s\n\n", res.ServiceName, res.ServerURL, res.AuthorizationURL)
			if noBrowser {
				return nil
			}
			if err := browser.OpenURL(res.AuthorizationURL); err != nil {
				logger.Warnf("Failed to open browser: %v", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&noBrowser, "no-browser", false, "Print the authorization URL without opening a browser")
	return cmd
}
