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

// Package types holds the domain model and error taxonomy shared by the
// seedvault packages: users, registered credentials, salts, seeds, wrapped
// keys and ceremony challenges.
package types

import (
	"encoding/base64"
	"time"
)

const (
	// DefaultMaxCredentials is the per-user credential limit when none is configured.
	DefaultMaxCredentials = 5

	// SaltSize is the size in bytes of every issued salt.
	SaltSize = 32
)

// Purpose identifies which ceremony a challenge belongs to.
type Purpose string

const (
	PurposeRegistration   Purpose = "registration"
	PurposeAuthentication Purpose = "authentication"
)

// Valid reports whether p is a known ceremony purpose.
func (p Purpose) Valid() bool {
	return p == PurposeRegistration || p == PurposeAuthentication
}

// SaltPurpose tags what a salt is used for. A salt is never shared across purposes.
type SaltPurpose string

// SaltPurposeSeedEncryption is the purpose of salts that feed wrapping key derivation.
const SaltPurposeSeedEncryption SaltPurpose = "seed_encryption"

// Capability describes how a credential can produce a device secret.
type Capability string

const (
	// CapabilityDeterministicSecret marks authenticators that support the
	// PRF or hmac-secret extension.
	CapabilityDeterministicSecret Capability = "deterministic_secret"

	// CapabilitySignatureOnly marks authenticators that can only sign.
	CapabilitySignatureOnly Capability = "signature_only"
)

// Valid reports whether c is a known capability.
func (c Capability) Valid() bool {
	return c == CapabilityDeterministicSecret || c == CapabilitySignatureOnly
}

// User owns credentials and at most one seed.
type User struct {
	ID             string
	Name           string
	DisplayName    string
	MaxCredentials int
	CreatedAt      time.Time
}

// CredentialFlags mirrors the authenticator data flags recorded at registration.
type CredentialFlags struct {
	UserPresent    bool `json:"user_present"`
	UserVerified   bool `json:"user_verified"`
	BackupEligible bool `json:"backup_eligible"`
	BackupState    bool `json:"backup_state"`
}

// Credential is a registered hardware authenticator.
type Credential struct {
	ID              []byte
	UserID          string
	PublicKey       []byte
	AttestationType string
	Transports      []string
	AAGUID          []byte
	SignCount       uint32
	CloneWarning    bool
	Flags           CredentialFlags
	Capability      Capability
	Nickname        string
	Primary         bool
	CreatedAt       time.Time
	LastUsedAt      time.Time
}

// EncodedID returns the credential id in unpadded base64url form.
func (c *Credential) EncodedID() string {
	return EncodeID(c.ID)
}

// EncodeID encodes an opaque credential id the way WebAuthn clients do.
func EncodeID(id []byte) string {
	return base64.RawURLEncoding.EncodeToString(id)
}

// DecodeID decodes a base64url credential id, accepting padded input.
func DecodeID(s string) ([]byte, error) {
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.URLEncoding.DecodeString(s)
}

// Salt is a per-credential, per-purpose random value.
type Salt struct {
	ID           string
	CredentialID []byte
	Purpose      SaltPurpose
	Value        []byte
	CreatedAt    time.Time
	LastUsedAt   time.Time
}

// Seed is the encrypted mnemonic. Ciphertext is laid out as nonce‖ct‖tag.
type Seed struct {
	ID             string
	UserID         string
	Ciphertext     []byte
	WordCount      int
	EntropyBits    int
	CreatedAt      time.Time
	LastAccessedAt time.Time
}

// WrappedKey is the data key of a seed encrypted under one credential's wrapping key.
type WrappedKey struct {
	ID           string
	SeedID       string
	CredentialID []byte
	SaltID       string
	Nonce        []byte
	Ciphertext   []byte
	Tag          []byte
	CreatedAt    time.Time
}

// Challenge is the live ceremony state for a (user, purpose) pair.
type Challenge struct {
	UserID    string
	Purpose   Purpose
	Challenge []byte
	Session   []byte
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the challenge is past its expiry at now.
func (c *Challenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
