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

	"github.com/jeremyhahn/go-seedvault/internal/config"
)

func newConfigCmd(cfg *Config) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Create or inspect the configuration file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a configuration file with default values",
		Long: `Write a configuration file with default values. The JWT signing secret
is never written; set SEEDVAULT_AUTH_JWT_SECRET or auth.jwt_secret_file.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultFileName + ".yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.Sample().WriteFile(path, force); err != nil {
				return err
			}
			return cfg.printer().PrintSuccess(fmt.Sprintf("Configuration written to %s", path))
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long:  `Print the configuration after defaults, file and environment are merged.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			serverCfg, err := cfg.load()
			if err != nil {
				return err
			}
			p := cfg.printer()
			if p.IsJSON() {
				return p.PrintJSON(serverCfg)
			}
			data, err := serverCfg.Marshal()
			if err != nil {
				return err
			}
			_, err = cfg.out.Write(data)
			return err
		},
	}

	configCmd.AddCommand(initCmd, showCmd)
	return configCmd
}
