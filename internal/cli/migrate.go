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

	"github.com/jeremyhahn/go-seedvault/pkg/storage"
)

func newMigrateCmd(cfg *Config) *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database schema migrations",
	}

	open := func(cmd *cobra.Command) (*storage.Store, error) {
		serverCfg, err := cfg.load()
		if err != nil {
			return nil, err
		}
		storageCfg := serverCfg.Storage
		storageCfg.AutoMigrate = false
		store, err := storage.Open(cmd.Context(), storageCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open storage: %w", err)
		}
		return store, nil
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			results, err := store.Migrate(cmd.Context())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			for _, r := range results {
				cfg.verbosef("Applied %s in %s", r.Source.Path, r.Duration)
			}
			return cfg.printer().PrintSuccess(fmt.Sprintf("Applied %d migration(s)", len(results)))
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			statuses, err := store.MigrationStatus(cmd.Context())
			if err != nil {
				return err
			}
			return cfg.printer().PrintMigrations(statuses)
		},
	}

	migrateCmd.AddCommand(upCmd, statusCmd)
	return migrateCmd
}
