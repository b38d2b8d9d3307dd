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

// Package mnemonic validates and generates BIP39 English mnemonics.
package mnemonic

import (
	"bytes"
	"fmt"
	"slices"
	"strings"

	"github.com/tyler-smith/go-bip39"

	"github.com/jeremyhahn/go-seedvault/pkg/types"
)

// Info describes a valid mnemonic.
type Info struct {
	WordCount   int
	EntropyBits int
}

// validWordCounts are the BIP39 sentence lengths.
var validWordCounts = []int{12, 15, 18, 21, 24}

// EntropyBitsFor returns the entropy size of a mnemonic with the given
// number of words, or 0 for an invalid length.
func EntropyBitsFor(words int) int {
	if !slices.Contains(validWordCounts, words) {
		return 0
	}
	// ENT = words * 11 * 32 / 33
	return words * 32 / 3
}

// Normalize lowercases the phrase and collapses whitespace runs to single
// spaces.
func Normalize(phrase string) string {
	return strings.Join(strings.Fields(strings.ToLower(phrase)), " ")
}

// Canonical is Normalize over bytes. It returns a new slice that the caller
// should clear, so the phrase never passes through an immutable string.
func Canonical(phrase []byte) []byte {
	lower := bytes.ToLower(phrase)
	defer clear(lower)
	return bytes.Join(bytes.Fields(lower), []byte(" "))
}

// Validate checks the word count, every word against the English list and
// the checksum. The phrase is never included in the returned error.
func Validate(phrase []byte) (*Info, error) {
	normalized := Normalize(string(phrase))
	words := strings.Fields(normalized)

	bits := EntropyBitsFor(len(words))
	if bits == 0 {
		return nil, types.NewValidationError("mnemonic",
			fmt.Sprintf("word count %d is not one of 12, 15, 18, 21 or 24", len(words)))
	}
	for i, w := range words {
		if _, ok := bip39.GetWordIndex(w); !ok {
			return nil, types.NewValidationError("mnemonic",
				fmt.Sprintf("word %d is not in the BIP39 English word list", i+1))
		}
	}

	entropy, err := bip39.EntropyFromMnemonic(normalized)
	if err != nil {
		return nil, types.NewValidationError("mnemonic", "checksum mismatch")
	}
	clear(entropy)

	return &Info{WordCount: len(words), EntropyBits: bits}, nil
}

// Generate returns a new random mnemonic with the given number of words.
func Generate(words int) (string, error) {
	bits := EntropyBitsFor(words)
	if bits == 0 {
		return "", types.NewValidationError("words",
			fmt.Sprintf("%d is not one of 12, 15, 18, 21 or 24", words))
	}
	entropy, err := bip39.NewEntropy(bits)
	if err != nil {
		return "", fmt.Errorf("generate entropy: %w", err)
	}
	defer clear(entropy)

	return bip39.NewMnemonic(entropy)
}
