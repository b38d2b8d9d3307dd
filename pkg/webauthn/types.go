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

package webauthn

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/jeremyhahn/go-seedvault/pkg/types"
)

// user adapts a stored user and its credentials to webauthn.User.
type user struct {
	u     *types.User
	creds []*types.Credential
}

func (u *user) WebAuthnID() []byte {
	return []byte(u.u.ID)
}

func (u *user) WebAuthnName() string {
	return u.u.Name
}

func (u *user) WebAuthnDisplayName() string {
	if u.u.DisplayName == "" {
		return u.u.Name
	}
	return u.u.DisplayName
}

func (u *user) WebAuthnCredentials() []webauthn.Credential {
	out := make([]webauthn.Credential, len(u.creds))
	for i, c := range u.creds {
		out[i] = toWebAuthn(c)
	}
	return out
}

// toWebAuthn converts a stored credential to the go-webauthn type.
func toWebAuthn(c *types.Credential) webauthn.Credential {
	return webauthn.Credential{
		ID:              c.ID,
		PublicKey:       c.PublicKey,
		AttestationType: c.AttestationType,
		Transport:       toTransports(c.Transports),
		Flags: webauthn.CredentialFlags{
			UserPresent:    c.Flags.UserPresent,
			UserVerified:   c.Flags.UserVerified,
			BackupEligible: c.Flags.BackupEligible,
			BackupState:    c.Flags.BackupState,
		},
		Authenticator: webauthn.Authenticator{
			AAGUID:       c.AAGUID,
			SignCount:    c.SignCount,
			CloneWarning: c.CloneWarning,
		},
	}
}

// fromWebAuthn builds the credential row for a verified registration.
func fromWebAuthn(userID string, wc *webauthn.Credential, capability types.Capability, now time.Time) *types.Credential {
	transports := make([]string, len(wc.Transport))
	for i, t := range wc.Transport {
		transports[i] = string(t)
	}
	return &types.Credential{
		ID:              wc.ID,
		UserID:          userID,
		PublicKey:       wc.PublicKey,
		AttestationType: wc.AttestationType,
		Transports:      transports,
		AAGUID:          wc.Authenticator.AAGUID,
		SignCount:       wc.Authenticator.SignCount,
		Flags: types.CredentialFlags{
			UserPresent:    wc.Flags.UserPresent,
			UserVerified:   wc.Flags.UserVerified,
			BackupEligible: wc.Flags.BackupEligible,
			BackupState:    wc.Flags.BackupState,
		},
		Capability: capability,
		CreatedAt:  now,
	}
}

func toTransports(in []string) []protocol.AuthenticatorTransport {
	out := make([]protocol.AuthenticatorTransport, len(in))
	for i, t := range in {
		out[i] = protocol.AuthenticatorTransport(t)
	}
	return out
}

// descriptors lists credentials for an exclude or allow list.
func descriptors(creds []*types.Credential) []protocol.CredentialDescriptor {
	out := make([]protocol.CredentialDescriptor, len(creds))
	for i, c := range creds {
		out[i] = protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: c.ID,
			Transport:    toTransports(c.Transports),
		}
	}
	return out
}

// Assertion is the outcome of one verified authentication response.
type Assertion struct {
	UserID       string
	CredentialID []byte
	Capability   types.Capability

	// SaltID and DeviceSecret are the salt the credential's wrapped key is
	// bound to and the authenticator's output for it. DeviceSecret is nil
	// for signature-only credentials.
	SaltID       string
	DeviceSecret []byte

	// NextSaltID and NextDeviceSecret are set while a salt rotation is pending.
	NextSaltID       string
	NextDeviceSecret []byte

	SignCount uint32

	// Warning wraps types.ErrPossibleCloneDetected when the counter did not
	// advance. The assertion is still valid.
	Warning error
}

// HasSecret reports whether the assertion carries a device secret.
func (a *Assertion) HasSecret() bool {
	return len(a.DeviceSecret) > 0
}

// HasPendingRotation reports whether the assertion carries a secret for a
// newer salt.
func (a *Assertion) HasPendingRotation() bool {
	return a.NextSaltID != "" && len(a.NextDeviceSecret) > 0
}

// Zero clears both device secrets.
func (a *Assertion) Zero() {
	if a == nil {
		return
	}
	clear(a.DeviceSecret)
	clear(a.NextDeviceSecret)
}

// ZeroAll clears the secrets of every assertion.
func ZeroAll(assertions []*Assertion) {
	for _, a := range assertions {
		a.Zero()
	}
}

// saltPair records which salts were sent as PRF inputs for a credential.
type saltPair struct {
	Current string `json:"current"`
	Pending string `json:"pending,omitempty"`
}

// ceremonyState is persisted in the challenge row between begin and complete.
type ceremonyState struct {
	Session webauthn.SessionData `json:"session"`

	// Salts is keyed by base64url credential id.
	Salts map[string]saltPair `json:"salts,omitempty"`
}

func encodeState(s *ceremonyState) ([]byte, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode ceremony state: %w", err)
	}
	return b, nil
}

func decodeState(b []byte) (*ceremonyState, error) {
	var s ceremonyState
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	return &s, nil
}
