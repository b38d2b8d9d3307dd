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
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-seedvault/pkg/seedvault"
	"github.com/jeremyhahn/go-seedvault/pkg/types"
)

func newCredentialCmd(cfg *Config) *cobra.Command {
	credentialCmd := &cobra.Command{
		Use:     "credential",
		Aliases: []string{"cred"},
		Short:   "Manage a user's WebAuthn credentials",
		Long: `Manage a user's WebAuthn credentials.

Credential ids are base64url encoded as printed by "credential list".`,
	}

	// withCredential opens the vault and decodes the credential id argument.
	withCredential := func(fn func(ctx context.Context, v *seedvault.Vault, userID string, credID []byte, rest []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			credID, err := types.DecodeID(args[1])
			if err != nil {
				return fmt.Errorf("invalid credential id: %w", err)
			}
			vault, closeVault, err := cfg.openVault(cmd.Context())
			if err != nil {
				return err
			}
			defer closeVault()
			return fn(cmd.Context(), vault, args[0], credID, args[2:])
		}
	}

	listCmd := &cobra.Command{
		Use:   "list <user-id>",
		Short: "List a user's credentials",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vault, closeVault, err := cfg.openVault(cmd.Context())
			if err != nil {
				return err
			}
			defer closeVault()

			creds, err := vault.ListCredentials(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return cfg.printer().PrintCredentials(creds)
		},
	}

	revokeCmd := &cobra.Command{
		Use:   "revoke <user-id> <credential-id>",
		Short: "Revoke a credential and delete its wrapped key",
		Long: `Revoke a credential. Its salts and wrapped key are deleted. Revocation is
refused when it would leave fewer than vault.min_credentials credentials or
leave the seed with no wrapped key.`,
		Args: cobra.ExactArgs(2),
		RunE: withCredential(func(ctx context.Context, v *seedvault.Vault, userID string, credID []byte, _ []string) error {
			if err := v.RevokeCredential(ctx, userID, credID); err != nil {
				return err
			}
			return cfg.printer().PrintSuccess(fmt.Sprintf("Credential %s revoked", types.EncodeID(credID)))
		}),
	}

	primaryCmd := &cobra.Command{
		Use:   "primary <user-id> <credential-id>",
		Short: "Mark a credential as the user's primary credential",
		Args:  cobra.ExactArgs(2),
		RunE: withCredential(func(ctx context.Context, v *seedvault.Vault, userID string, credID []byte, _ []string) error {
			if err := v.SetPrimary(ctx, userID, credID); err != nil {
				return err
			}
			return cfg.printer().PrintSuccess(fmt.Sprintf("Credential %s is now primary", types.EncodeID(credID)))
		}),
	}

	renameCmd := &cobra.Command{
		Use:   "rename <user-id> <credential-id> <nickname>",
		Short: "Set a credential's nickname",
		Args:  cobra.ExactArgs(3),
		RunE: withCredential(func(ctx context.Context, v *seedvault.Vault, userID string, credID []byte, rest []string) error {
			if err := v.RenameCredential(ctx, userID, credID, rest[0]); err != nil {
				return err
			}
			return cfg.printer().PrintSuccess(fmt.Sprintf("Credential %s renamed to %q", types.EncodeID(credID), rest[0]))
		}),
	}

	rotateCmd := &cobra.Command{
		Use:   "rotate-salt <user-id> <credential-id>",
		Short: "Issue a new salt for a credential",
		Long: `Issue a new salt for a credential. The wrapped key moves to the new salt
the next time the credential retrieves the seed.`,
		Args: cobra.ExactArgs(2),
		RunE: withCredential(func(ctx context.Context, v *seedvault.Vault, userID string, credID []byte, _ []string) error {
			s, err := v.RotateSalt(ctx, userID, credID)
			if err != nil {
				return err
			}
			p := cfg.printer()
			if p.IsJSON() {
				return p.PrintJSON(map[string]any{"salt_id": s.ID, "created_at": s.CreatedAt})
			}
			return p.PrintSuccess(fmt.Sprintf("Salt %s issued; rotation completes on the next retrieval", s.ID))
		}),
	}

	credentialCmd.AddCommand(listCmd, revokeCmd, primaryCmd, renameCmd, rotateCmd)
	return credentialCmd
}
