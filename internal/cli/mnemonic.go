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
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-seedvault/pkg/mnemonic"
)

func newMnemonicCmd(cfg *Config) *cobra.Command {
	mnemonicCmd := &cobra.Command{
		Use:   "mnemonic",
		Short: "Generate and validate BIP39 mnemonics",
	}

	var words int
	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a new BIP39 mnemonic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			phrase, err := mnemonic.Generate(words)
			if err != nil {
				return err
			}
			p := cfg.printer()
			if p.IsJSON() {
				return p.PrintJSON(map[string]any{"mnemonic": phrase, "word_count": words})
			}
			fmt.Fprintln(cfg.errOut, "Store this phrase offline. Anyone who reads it controls the wallet.")
			_, err = fmt.Fprintln(cfg.out, phrase)
			return err
		},
	}
	generateCmd.Flags().IntVarP(&words, "words", "w", 24, "number of words (12, 15, 18, 21 or 24)")

	validateCmd := &cobra.Command{
		Use:   "validate [word...]",
		Short: "Check a mnemonic's words and checksum",
		Long: `Check a mnemonic's words and checksum. With no arguments the phrase is
read from standard input, which keeps it out of shell history.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			phrase := strings.Join(args, " ")
			if len(args) == 0 {
				line, err := bufio.NewReader(cfg.in).ReadString('\n')
				if err != nil && err != io.EOF {
					return err
				}
				phrase = line
			}

			info, err := mnemonic.Validate([]byte(phrase))
			if err != nil {
				return err
			}
			p := cfg.printer()
			if p.IsJSON() {
				return p.PrintJSON(map[string]any{
					"valid":        true,
					"word_count":   info.WordCount,
					"entropy_bits": info.EntropyBits,
				})
			}
			return p.PrintSuccess(fmt.Sprintf("Valid mnemonic: %d words, %d bits of entropy", info.WordCount, info.EntropyBits))
		},
	}

	mnemonicCmd.AddCommand(generateCmd, validateCmd)
	return mnemonicCmd
}
