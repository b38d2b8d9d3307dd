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

package http

import (
	"encoding/json"
	"time"

	"github.com/jeremyhahn/go-seedvault/pkg/seedvault"
	"github.com/jeremyhahn/go-seedvault/pkg/types"
)

// CreateUserRequest is the request body for creating a user.
type CreateUserRequest struct {
	// Name is the unique account name (required).
	Name string `json:"name"`

	// DisplayName is shown by authenticators (optional, defaults to name).
	DisplayName string `json:"display_name,omitempty"`
}

// UserResponse describes a user.
type UserResponse struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	DisplayName    string    `json:"display_name"`
	MaxCredentials int       `json:"max_credentials"`
	CreatedAt      time.Time `json:"created_at"`
}

// BeginRequest is the request body for starting a ceremony.
type BeginRequest struct {
	UserID string `json:"user_id"`
}

// FinishRegistrationRequest carries an attestation response.
type FinishRegistrationRequest struct {
	UserID string `json:"user_id"`

	// Credential is the PublicKeyCredential returned by
	// navigator.credentials.create, as JSON.
	Credential json.RawMessage `json:"credential"`
}

// FinishAuthenticationRequest carries one assertion response.
type FinishAuthenticationRequest struct {
	UserID string `json:"user_id"`

	// Assertion is the PublicKeyCredential returned by
	// navigator.credentials.get, as JSON.
	Assertion json.RawMessage `json:"assertion"`
}

// CredentialResponse describes a registered credential. It never carries
// key material.
type CredentialResponse struct {
	ID           string           `json:"id"`
	Capability   types.Capability `json:"capability"`
	Nickname     string           `json:"nickname,omitempty"`
	Primary      bool             `json:"primary"`
	Transports   []string         `json:"transports,omitempty"`
	SignCount    uint32           `json:"sign_count"`
	CloneWarning bool             `json:"clone_warning,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	LastUsedAt   *time.Time       `json:"last_used_at,omitempty"`
}

// AuthResponse is the response after a successful authentication.
type AuthResponse struct {
	// Token is the bearer token for the credential management routes.
	Token string `json:"token"`

	// UserID is the authenticated user.
	UserID string `json:"user_id"`

	// CloneWarning is set when the authenticator's counter did not advance.
	CloneWarning bool `json:"clone_warning,omitempty"`
}

// StoreSeedRequest carries a mnemonic and one assertion per registered
// credential, all answering the same authentication challenge.
type StoreSeedRequest struct {
	UserID     string            `json:"user_id"`
	Mnemonic   string            `json:"mnemonic"`
	Assertions []json.RawMessage `json:"assertions"`
}

// StoreSeedResponse identifies the stored seed.
type StoreSeedResponse struct {
	SeedID string `json:"seed_id"`
}

// RetrieveSeedRequest carries the assertion that unlocks the seed.
type RetrieveSeedRequest struct {
	UserID    string          `json:"user_id"`
	Assertion json.RawMessage `json:"assertion"`
}

// HandleResponse names a secure memory handle holding a decrypted seed.
type HandleResponse struct {
	Handle    string    `json:"handle"`
	ExpiresAt time.Time `json:"expires_at"`

	// Token is set by /seed/retrieve: the bearer token the /memory routes
	// require.
	Token string `json:"token,omitempty"`
}

// ProfileRequest updates the user's display name. An empty name clears it.
type ProfileRequest struct {
	DisplayName string `json:"display_name"`
}

// ExtendRequest asks for a handle to stay readable for Seconds more.
type ExtendRequest struct {
	Seconds int `json:"seconds"`
}

// MnemonicResponse is the content of a live handle.
type MnemonicResponse struct {
	Mnemonic  string    `json:"mnemonic"`
	ExpiresAt time.Time `json:"expires_at"`
}

// EnrollRequest carries two assertions answering the same challenge: one
// from a credential that can already unlock the seed, and one from the
// credential being enrolled.
type EnrollRequest struct {
	UserID string          `json:"user_id"`
	Unlock json.RawMessage `json:"unlock"`
	Target json.RawMessage `json:"target"`
}

// RotationResponse names the salt a rotation issued.
type RotationResponse struct {
	SaltID    string    `json:"salt_id"`
	CreatedAt time.Time `json:"created_at"`
}

// RenameRequest sets a credential nickname. An empty nickname clears it.
type RenameRequest struct {
	Nickname string `json:"nickname"`
}

// StatusResponse summarizes a user's seed and credentials.
type StatusResponse struct {
	UserID         string                     `json:"user_id"`
	HasSeed        bool                       `json:"has_seed"`
	SeedID         string                     `json:"seed_id,omitempty"`
	WordCount      int                        `json:"word_count,omitempty"`
	EntropyBits    int                        `json:"entropy_bits,omitempty"`
	CreatedAt      *time.Time                 `json:"created_at,omitempty"`
	LastAccessedAt *time.Time                 `json:"last_accessed_at,omitempty"`
	Credentials    []CredentialStatusResponse `json:"credentials"`
}

// CredentialStatusResponse is one credential in a StatusResponse.
type CredentialStatusResponse struct {
	CredentialResponse
	Wrapped         bool `json:"wrapped"`
	RotationPending bool `json:"rotation_pending"`
}

// ErrorResponse is the response format for errors.
type ErrorResponse struct {
	// Error is the error code.
	Error string `json:"error"`

	// Message is a human-readable error message.
	Message string `json:"message"`
}

// Error codes returned in ErrorResponse.
const (
	ErrorCodeInvalidRequest        = "invalid_request"
	ErrorCodeInvalidSession        = "invalid_session"
	ErrorCodeUnauthorized          = "unauthorized"
	ErrorCodeUserNotFound          = "user_not_found"
	ErrorCodeUserExists            = "user_exists"
	ErrorCodeNoCredentials         = "no_credentials"
	ErrorCodeCredentialExists      = "credential_exists"
	ErrorCodeLimitExceeded         = "limit_exceeded"
	ErrorCodeLastCredential        = "last_credential"
	ErrorCodeSeedNotFound          = "seed_not_found"
	ErrorCodeNotEnrolled           = "not_enrolled"
	ErrorCodeCapabilityUnavailable = "capability_unavailable"
	ErrorCodeHandleExpired         = "handle_expired"
	ErrorCodeVerificationFailed    = "verification_failed"
	ErrorCodeInternalError         = "internal_error"
)

func userResponse(u *types.User) UserResponse {
	return UserResponse{
		ID:             u.ID,
		Name:           u.Name,
		DisplayName:    u.DisplayName,
		MaxCredentials: u.MaxCredentials,
		CreatedAt:      u.CreatedAt,
	}
}

func credentialResponse(c *types.Credential) CredentialResponse {
	out := CredentialResponse{
		ID:           c.EncodedID(),
		Capability:   c.Capability,
		Nickname:     c.Nickname,
		Primary:      c.Primary,
		Transports:   c.Transports,
		SignCount:    c.SignCount,
		CloneWarning: c.CloneWarning,
		CreatedAt:    c.CreatedAt,
	}
	if !c.LastUsedAt.IsZero() {
		t := c.LastUsedAt
		out.LastUsedAt = &t
	}
	return out
}

func statusResponse(s *seedvault.Status) StatusResponse {
	out := StatusResponse{
		UserID:      s.UserID,
		HasSeed:     s.HasSeed(),
		SeedID:      s.SeedID,
		WordCount:   s.WordCount,
		EntropyBits: s.EntropyBits,
		Credentials: make([]CredentialStatusResponse, 0, len(s.Credentials)),
	}
	if out.HasSeed {
		created := s.CreatedAt
		out.CreatedAt = &created
		if !s.LastAccessedAt.IsZero() {
			accessed := s.LastAccessedAt
			out.LastAccessedAt = &accessed
		}
	}
	for _, c := range s.Credentials {
		out.Credentials = append(out.Credentials, CredentialStatusResponse{
			CredentialResponse: credentialResponse(c.Credential),
			Wrapped:            c.Wrapped,
			RotationPending:    c.RotationPending,
		})
	}
	return out
}
