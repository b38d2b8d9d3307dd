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
	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-seedvault/internal/server"
)

func newServeCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the seed vault HTTP service",
		Long: `Run the seed vault HTTP service until SIGINT or SIGTERM.

SIGHUP re-reads the configuration file and applies a changed log level.
Every seed held in secure memory is zeroed on shutdown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			serverCfg, err := cfg.load()
			if err != nil {
				return err
			}
			srv, err := server.New(cmd.Context(), serverCfg,
				server.WithConfigPath(cfg.ConfigFile),
				server.WithLogOutput(cfg.errOut))
			if err != nil {
				return err
			}
			return srv.Run(cmd.Context())
		},
	}
}
