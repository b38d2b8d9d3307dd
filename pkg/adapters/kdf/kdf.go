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

// Package kdf derives per-authenticator wrapping keys.
//
// A wrapping key is never stored. It is re-derived on every decrypt from the
// authenticator's device secret and the credential's salt, so derivation must
// be deterministic: identical (deviceSecret, salt, info) always yields the
// identical key.
package kdf

import (
	"crypto"
	"errors"
)

// KDFAlgorithm represents the key derivation function algorithm type
type KDFAlgorithm string

// AlgorithmHKDF represents HMAC-based Extract-and-Expand Key Derivation Function (RFC 5869)
const AlgorithmHKDF KDFAlgorithm = "HKDF"

const (
	// WrappingKeySize is the length in bytes of a derived wrapping key (AES-256).
	WrappingKeySize = 32

	// SaltSize is the required salt length in bytes.
	SaltSize = 32

	// DefaultInfo is the fixed HKDF context string for seed wrapping keys.
	DefaultInfo = "seed_encryption"
)

// String returns the string representation of the KDF algorithm
func (a KDFAlgorithm) String() string {
	return string(a)
}

// KDFParams contains parameters for key derivation
type KDFParams struct {
	// Algorithm specifies which KDF algorithm to use
	Algorithm KDFAlgorithm

	// Salt is the per-credential salt
	Salt []byte

	// Info is the fixed context string
	Info []byte

	// KeyLength is the desired output key length in bytes
	KeyLength int

	// Hash is the hash function to use
	Hash crypto.Hash
}

// KDFAdapter is the interface for key derivation function adapters
type KDFAdapter interface {
	// DeriveKey derives a key from the input key material using the specified parameters
	DeriveKey(ikm []byte, params *KDFParams) ([]byte, error)

	// Algorithm returns the KDF algorithm this adapter implements
	Algorithm() KDFAlgorithm

	// ValidateParams validates the KDF parameters for this algorithm
	ValidateParams(params *KDFParams) error
}

// Common errors
var (
	// ErrInvalidSalt indicates the salt is missing or not SaltSize bytes
	ErrInvalidSalt = errors.New("kdf: invalid salt")

	// ErrInvalidKeyLength indicates the requested key length is invalid
	ErrInvalidKeyLength = errors.New("kdf: invalid key length")

	// ErrInvalidHash indicates the hash function is invalid or not supported
	ErrInvalidHash = errors.New("kdf: invalid or unsupported hash function")

	// ErrInvalidIKM indicates the input key material (device secret) is empty
	ErrInvalidIKM = errors.New("kdf: invalid input key material")

	// ErrUnsupportedAlgorithm indicates the algorithm is not supported by this adapter
	ErrUnsupportedAlgorithm = errors.New("kdf: unsupported algorithm")
)

// DefaultParams returns the wrapping key parameters for the given salt.
func DefaultParams(salt []byte) *KDFParams {
	return &KDFParams{
		Algorithm: AlgorithmHKDF,
		Salt:      salt,
		Info:      []byte(DefaultInfo),
		KeyLength: WrappingKeySize,
		Hash:      crypto.SHA256,
	}
}
