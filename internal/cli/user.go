// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-seedvault.
//
// go-seedvault is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-seedvault/pkg/types"
)

func newUserCmd(cfg *Config) *cobra.Command {
	userCmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
		Long: `Commands for managing user accounts.

Credentials are registered through the HTTP API with a WebAuthn
authenticator; the CLI only creates and inspects accounts.`,
	}

	var displayName string
	createCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a user account",
		Example: `  seedvault user create alice@example.com
  seedvault user create bob --display-name "Bob Smith"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vault, closeVault, err := cfg.openVault(cmd.Context())
			if err != nil {
				return err
			}
			defer closeVault()

			u, err := vault.CreateUser(cmd.Context(), args[0], displayName)
			if err != nil {
				return err
			}
			return cfg.printer().PrintUser(u)
		},
	}
	createCmd.Flags().StringVar(&displayName, "display-name", "", "display name shown by authenticators (defaults to name)")

	var byName bool
	showCmd := &cobra.Command{
		Use:   "show <user-id>",
		Short: "Show a user account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vault, closeVault, err := cfg.openVault(cmd.Context())
			if err != nil {
				return err
			}
			defer closeVault()

			var u *types.User
			if byName {
				u, err = vault.LookupUser(cmd.Context(), args[0])
			} else {
				u, err = vault.GetUser(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			return cfg.printer().PrintUser(u)
		},
	}
	showCmd.Flags().BoolVar(&byName, "name", false, "look the user up by account name")

	var newDisplayName string
	updateCmd := &cobra.Command{
		Use:     "update <user-id>",
		Short:   "Update a user's display name",
		Example: `  seedvault user update 3f1c... --display-name "Alice Smith"`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("display-name") {
				return fmt.Errorf("nothing to update: pass --display-name")
			}
			vault, closeVault, err := cfg.openVault(cmd.Context())
			if err != nil {
				return err
			}
			defer closeVault()

			u, err := vault.UpdateDisplayName(cmd.Context(), args[0], newDisplayName)
			if err != nil {
				return err
			}
			return cfg.printer().PrintUser(u)
		},
	}
	updateCmd.Flags().StringVar(&newDisplayName, "display-name", "", "new display name (empty clears it)")

	userCmd.AddCommand(createCmd, showCmd, updateCmd)
	return userCmd
}

func newStatusCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "status <user-id>",
		Short: "Show a user's seed and which credentials can unlock it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vault, closeVault, err := cfg.openVault(cmd.Context())
			if err != nil {
				return err
			}
			defer closeVault()

			st, err := vault.SeedStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return cfg.printer().PrintStatus(st)
		},
	}
}
