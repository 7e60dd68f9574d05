// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/stacklok/mcp-gateway/pkg/secrets"
)

func newSecretCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage secrets",
		Long: `The secret command manages the secrets the gateway reads at runtime: environment
values for stdio servers (env_keys), OAuth client secrets (oauth_client_secret_ref),
the Redis password and the OAuth state secret.`,
	}

	cmd.AddCommand(
		newSecretSetupCommand(),
		newSecretSetCommand(),
		newSecretGetCommand(),
		newSecretDeleteCommand(),
		newSecretListCommand(),
		newSecretResetKeyringCommand(),
	)
	return cmd
}

func newSecretSetupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Set up the secrets provider",
		Long: fmt.Sprintf(`Open the configured secrets provider and check that it can store and read back
a value. For the %s provider this asks for the encryption password on first use and
stores it in the OS keyring; set %s to skip the prompt.`,
			secrets.EncryptedType, secrets.PasswordEnvVar),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			provider, providerType, err := openSecretsProvider()
			if err != nil {
				return err
			}
			defer func() { _ = provider.Cleanup() }()

			if err := secrets.ValidateProvider(cmd.Context(), provider); err != nil {
				return fmt.Errorf("secrets provider %s failed validation: %w", providerType, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Secrets provider %s is ready (%s)\n", providerType, provider.Capabilities())
			return nil
		},
	}
}

func newSecretSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set <name>",
		Short: "Set a secret",
		Long: `Set a secret with the given name.

If data is piped to the command the value is read from stdin:
    echo "my-secret-value" | mcpgw secret set github-token

Otherwise you are prompted for the value and the input is hidden.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if name == "" {
				return errors.New("secret name cannot be empty")
			}

			value, err := readSecretValue(cmd.InOrStdin())
			if err != nil {
				return err
			}
			if value == "" {
				return errors.New("secret value cannot be empty")
			}

			provider, providerType, err := openSecretsProvider()
			if err != nil {
				return err
			}
			defer func() { _ = provider.Cleanup() }()

			if !provider.Capabilities().CanWrite {
				return fmt.Errorf("the %s secrets provider does not support setting secrets", providerType)
			}
			if err := provider.SetSecret(cmd.Context(), name, value); err != nil {
				return fmt.Errorf("failed to set secret %s: %w", name, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Secret %s set successfully\n", name)
			return nil
		},
	}
}

func newSecretGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <name>",
		Short: "Get a secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, _, err := openSecretsProvider()
			if err != nil {
				return err
			}
			defer func() { _ = provider.Cleanup() }()

			value, err := provider.GetSecret(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to get secret %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Secret %s: %s\n", args[0], value)
			return nil
		},
	}
}

func newSecretDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, providerType, err := openSecretsProvider()
			if err != nil {
				return err
			}
			defer func() { _ = provider.Cleanup() }()

			if !provider.Capabilities().CanDelete {
				return fmt.Errorf("the %s secrets provider does not support deleting secrets", providerType)
			}
			if err := provider.DeleteSecret(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("failed to delete secret %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Secret %s deleted successfully\n", args[0])
			return nil
		},
	}
}

func newSecretListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all available secrets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			provider, providerType, err := openSecretsProvider()
			if err != nil {
				return err
			}
			defer func() { _ = provider.Cleanup() }()

			if !provider.Capabilities().CanList {
				return fmt.Errorf("the %s secrets provider does not support listing secrets", providerType)
			}
			list, err := provider.ListSecrets(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list secrets: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "No secrets found")
				return nil
			}
			fmt.Fprintln(out, "Available secrets:")
			for _, d := range list {
				if d.Description != "" {
					fmt.Fprintf(out, "  - %s (%s)\n", d.Key, d.Description)
					continue
				}
				fmt.Fprintf(out, "  - %s\n", d.Key)
			}
			return nil
		},
	}
}

func newSecretResetKeyringCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-keyring",
		Short: "Forget the encryption password stored in the OS keyring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := secrets.ResetKeyringSecret(nil); err != nil {
				return fmt.Errorf("failed to reset keyring secret: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Successfully reset keyring secret")
			return nil
		},
	}
}

// openSecretsProvider opens the provider named in the configuration.
func openSecretsProvider() (secrets.Provider, secrets.ProviderType, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", err
	}
	providerType := secrets.ProviderType(cfg.Secrets.Provider)
	provider, err := secrets.CreateSecretProvider(secrets.Options{
		Type: providerType,
		Path: cfg.Secrets.Path,
	})
	if err != nil {
		return nil, providerType, fmt.Errorf("failed to open secrets provider: %w", err)
	}
	return provider, providerType, nil
}

// readSecretValue reads a piped value, or prompts with hidden input when
// stdin is a terminal.
func readSecretValue(in io.Reader) (string, error) {
	f, ok := in.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) { // #nosec G115 -- file descriptors fit in int
		data, err := io.ReadAll(in)
		if err != nil {
			return "", fmt.Errorf("failed to read secret from stdin: %w", err)
		}
		return strings.TrimSuffix(string(data), "\n"), nil
	}

	fmt.Print("Enter secret value (input will be hidden): ")
	data, err := term.ReadPassword(int(f.Fd())) // #nosec G115 -- file descriptors fit in int
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read secret from terminal: %w", err)
	}
	return string(data), nil
}
