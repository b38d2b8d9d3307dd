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

// Package envelope implements the two-layer seed encryption.
//
// A random 256-bit Data Key encrypts the seed once. The Data Key is then
// wrapped separately under each authenticator's Wrapping Key. Both layers use
// AES-256-GCM with a fresh 96-bit nonce and a 128-bit tag, and both serialize
// as nonce‖ciphertext‖tag.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"io"

	"github.com/jeremyhahn/go-seedvault/pkg/crypto/aead"
	"github.com/jeremyhahn/go-seedvault/pkg/types"
)

const (
	// KeySize is the size of Data Keys and Wrapping Keys (AES-256).
	KeySize = 32

	// NonceSize is the GCM nonce size.
	NonceSize = aead.NonceSize

	// TagSize is the GCM authentication tag size.
	TagSize = 16
)

// Sealed is one AES-256-GCM output split into its parts.
type Sealed struct {
	Nonce      []byte
	Ciphertext []byte
	Tag        []byte
}

// Bytes returns the nonce‖ciphertext‖tag layout.
func (s *Sealed) Bytes() []byte {
	out := make([]byte, 0, len(s.Nonce)+len(s.Ciphertext)+len(s.Tag))
	out = append(out, s.Nonce...)
	out = append(out, s.Ciphertext...)
	return append(out, s.Tag...)
}

// ParseSealed splits a nonce‖ciphertext‖tag blob. The returned slices alias b.
func ParseSealed(b []byte) (*Sealed, error) {
	if len(b) < NonceSize+TagSize {
		return nil, types.NewValidationError("ciphertext", "too short")
	}
	return &Sealed{
		Nonce:      b[:NonceSize],
		Ciphertext: b[NonceSize : len(b)-TagSize],
		Tag:        b[len(b)-TagSize:],
	}, nil
}

// Cipher performs envelope encryption. It is safe for concurrent use.
type Cipher struct {
	tracker *aead.NonceTracker
	random  io.Reader
}

// Option configures a Cipher.
type Option func(*Cipher)

// WithNonceTracker replaces the default bounded nonce tracker.
func WithNonceTracker(t *aead.NonceTracker) Option {
	return func(c *Cipher) {
		c.tracker = t
	}
}

// WithRandom replaces crypto/rand as the source of keys and nonces.
func WithRandom(r io.Reader) Option {
	return func(c *Cipher) {
		c.random = r
	}
}

// NewCipher creates an envelope cipher.
func NewCipher(opts ...Option) *Cipher {
	c := &Cipher{
		tracker: aead.NewNonceTracker(aead.DefaultCapacity),
		random:  rand.Reader,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EncryptSeed generates a fresh Data Key and encrypts plaintext under it.
// The Data Key is returned only to the caller and must never be persisted;
// callers zero it with Zero once every wrap is done.
func (c *Cipher) EncryptSeed(plaintext []byte) (dataKey []byte, encrypted *Sealed, err error) {
	if len(plaintext) == 0 {
		return nil, nil, types.NewValidationError("seed", "must not be empty")
	}

	dataKey = make([]byte, KeySize)
	if _, err := io.ReadFull(c.random, dataKey); err != nil {
		return nil, nil, fmt.Errorf("failed to generate data key: %w", err)
	}

	encrypted, err = c.seal(dataKey, plaintext)
	if err != nil {
		Zero(dataKey)
		return nil, nil, err
	}
	return dataKey, encrypted, nil
}

// DecryptSeed is the inverse of EncryptSeed.
func (c *Cipher) DecryptSeed(encrypted *Sealed, dataKey []byte) ([]byte, error) {
	return c.open(dataKey, encrypted)
}

// WrapDataKey encrypts dataKey under wrappingKey.
func (c *Cipher) WrapDataKey(dataKey, wrappingKey []byte) (*Sealed, error) {
	if len(dataKey) != KeySize {
		return nil, types.NewValidationError("data_key", "must be 32 bytes")
	}
	return c.seal(wrappingKey, dataKey)
}

// UnwrapDataKey decrypts a wrapped Data Key. A wrong wrapping key and a
// tampered record both return types.ErrAuthenticationFailed.
func (c *Cipher) UnwrapDataKey(wrapped *Sealed, wrappingKey []byte) ([]byte, error) {
	dataKey, err := c.open(wrappingKey, wrapped)
	if err != nil {
		return nil, err
	}
	if len(dataKey) != KeySize {
		Zero(dataKey)
		return nil, types.ErrAuthenticationFailed
	}
	return dataKey, nil
}

func (c *Cipher) seal(key, plaintext []byte) (*Sealed, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(c.random, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	if err := c.tracker.CheckAndRecordNonce(nonce); err != nil {
		return nil, err
	}

	out := gcm.Seal(nil, nonce, plaintext, nil)
	split := len(out) - TagSize
	return &Sealed{
		Nonce:      nonce,
		Ciphertext: out[:split],
		Tag:        out[split:],
	}, nil
}

func (c *Cipher) open(key []byte, s *Sealed) ([]byte, error) {
	if s == nil || len(s.Nonce) != NonceSize || len(s.Tag) != TagSize {
		return nil, types.NewValidationError("ciphertext", "malformed sealed record")
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	in := make([]byte, 0, len(s.Ciphertext)+TagSize)
	in = append(in, s.Ciphertext...)
	in = append(in, s.Tag...)

	plaintext, err := gcm.Open(nil, s.Nonce, in, nil)
	if err != nil {
		return nil, types.ErrAuthenticationFailed
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, types.NewValidationError("key", "must be 32 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	return cipher.NewGCMWithTagSize(block, TagSize)
}

// Zero overwrites b with zeros.
func Zero(b []byte) {
	clear(b)
}

// Equal compares two keys in constant time.
func Equal(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
