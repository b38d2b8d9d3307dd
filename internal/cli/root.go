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
	"io"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCommand builds the seedvault command tree.
func NewRootCommand() *cobra.Command {
	cfg := NewConfig()

	rootCmd := &cobra.Command{
		Use:   "seedvault",
		Short: "go-seedvault - WebAuthn protected BIP39 seed storage",
		Long: `seedvault stores BIP39 seed phrases encrypted under keys derived from
WebAuthn authenticator secrets. A seed can only be decrypted after a fresh
assertion from one of the user's registered credentials.

The CLI runs the HTTP service and performs administrative tasks directly
against the configured database: migrations, user and credential
management, and mnemonic utilities.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg.out = cmd.OutOrStdout()
			cfg.errOut = cmd.ErrOrStderr()
			cfg.in = cmd.InOrStdin()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfg.ConfigFile, "config", "c", "",
		"config file (default is ./seedvault.yaml, $HOME/.seedvault/seedvault.yaml or /etc/seedvault/seedvault.yaml)")
	rootCmd.PersistentFlags().StringVarP(&cfg.OutputFormat, "output", "o", "text",
		"output format (text, json)")
	rootCmd.PersistentFlags().BoolVarP(&cfg.Verbose, "verbose", "v", false,
		"verbose output")

	rootCmd.AddCommand(
		newVersionCmd(cfg),
		newServeCmd(cfg),
		newMigrateCmd(cfg),
		newConfigCmd(cfg),
		newUserCmd(cfg),
		newCredentialCmd(cfg),
		newStatusCmd(cfg),
		newSeedCmd(cfg),
		newMnemonicCmd(cfg),
	)
	return rootCmd
}

// Execute runs the root command with the process arguments and prints any
// error to stderr in the selected output format.
func Execute(ctx context.Context) error {
	return run(ctx, NewRootCommand(), os.Args[1:], os.Stdout, os.Stderr, os.Stdin)
}

func run(ctx context.Context, cmd *cobra.Command, args []string, stdout, stderr io.Writer, stdin io.Reader) error {
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetIn(stdin)

	err := cmd.ExecuteContext(ctx)
	if err != nil {
		format, _ := cmd.PersistentFlags().GetString("output")
		_ = NewPrinter(format, stderr).PrintError(err)
	}
	return err
}
