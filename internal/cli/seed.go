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
)

func newSeedCmd(cfg *Config) *cobra.Command {
	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Administer stored seeds",
	}

	var confirm bool
	deleteCmd := &cobra.Command{
		Use:   "delete <user-id>",
		Short: "Delete a user's encrypted seed and every wrapped key",
		Long: `Delete a user's encrypted seed and every wrapped key of it. The seed
cannot be recovered from the vault afterwards. Pass --yes to confirm.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return fmt.Errorf("refusing to delete the seed of %s without --yes", args[0])
			}
			vault, closeVault, err := cfg.openVault(cmd.Context())
			if err != nil {
				return err
			}
			defer closeVault()

			if err := vault.DeleteSeed(cmd.Context(), args[0]); err != nil {
				return err
			}
			return cfg.printer().PrintSuccess(fmt.Sprintf("Seed of %s deleted", args[0]))
		},
	}
	deleteCmd.Flags().BoolVarP(&confirm, "yes", "y", false, "confirm the deletion")

	seedCmd.AddCommand(deleteCmd)
	return seedCmd
}
