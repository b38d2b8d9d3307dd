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

package authenticator

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncbor"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"
	"github.com/jeremyhahn/go-seedvault/pkg/types"
)

// Software simulates a hardware security key in memory. It implements both
// Signer (Ed25519) and SecretExtension (HMAC-SHA256 over a device key, the
// construction CTAP2 hmac-secret uses).
//
// It exists for tests and for development setups without a physical key.
type Software struct {
	// CredentialID is the credential identifier.
	CredentialID []byte

	privateKey ed25519.PrivateKey
	deviceKey  []byte
}

// SoftwareOption is a functional option for configuring a Software authenticator.
type SoftwareOption func(*Software)

// WithSoftwareCredentialID sets a custom credential ID.
func WithSoftwareCredentialID(id []byte) SoftwareOption {
	return func(s *Software) {
		s.CredentialID = id
	}
}

// WithDeviceKey sets the hmac-secret device key.
func WithDeviceKey(key []byte) SoftwareOption {
	return func(s *Software) {
		s.deviceKey = key
	}
}

// NewSoftware creates a software authenticator with fresh keys.
func NewSoftware(opts ...SoftwareOption) (*Software, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}

	credID := make([]byte, 32)
	if _, err := rand.Read(credID); err != nil {
		return nil, err
	}

	deviceKey := make([]byte, 32)
	if _, err := rand.Read(deviceKey); err != nil {
		return nil, err
	}

	s := &Software{
		CredentialID: credID,
		privateKey:   priv,
		deviceKey:    deviceKey,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// PublicKeyBytes returns the Ed25519 public key in COSE format.
func (s *Software) PublicKeyBytes() ([]byte, error) {
	pub := s.privateKey.Public().(ed25519.PublicKey)

	coseKey := map[int]any{
		1:  int(webauthncose.OctetKey), // kty: OKP
		3:  int(webauthncose.AlgEdDSA), // alg: EdDSA
		-1: int(webauthncose.Ed25519),  // crv: Ed25519
		-2: []byte(pub),                // x
	}
	return webauthncbor.Marshal(coseKey)
}

// Credential returns a registered credential record for this authenticator.
func (s *Software) Credential(userID string, capability types.Capability) (*types.Credential, error) {
	pub, err := s.PublicKeyBytes()
	if err != nil {
		return nil, err
	}
	return &types.Credential{
		ID:              append([]byte(nil), s.CredentialID...),
		UserID:          userID,
		PublicKey:       pub,
		AttestationType: "none",
		Transports:      []string{string(protocol.USB)},
		AAGUID:          make([]byte, 16),
		Capability:      capability,
		Flags: types.CredentialFlags{
			UserPresent:  true,
			UserVerified: true,
		},
	}, nil
}

// Sign signs data with the credential key.
func (s *Software) Sign(_ context.Context, credentialID, data []byte) ([]byte, error) {
	if !bytes.Equal(credentialID, s.CredentialID) {
		return nil, types.ErrCredentialNotFound
	}
	return ed25519.Sign(s.privateKey, data), nil
}

// ExtensionSecret evaluates HMAC-SHA256(deviceKey, salt).
func (s *Software) ExtensionSecret(_ context.Context, credentialID, salt []byte) ([]byte, error) {
	if !bytes.Equal(credentialID, s.CredentialID) {
		return nil, types.ErrCredentialNotFound
	}
	mac := hmac.New(sha256.New, s.deviceKey)
	mac.Write(salt)
	return mac.Sum(nil), nil
}

// ClientExtensionResults answers a PRF assertion request the way a browser
// would serialize it. It returns nil when the request does not name this
// credential.
func (s *Software) ClientExtensionResults(ext protocol.AuthenticationExtensions) (protocol.AuthenticationExtensionsClientOutputs, error) {
	prf, ok := ext[ExtensionPRF].(map[string]any)
	if !ok {
		return nil, nil
	}
	byCredential, ok := prf["evalByCredential"].(map[string]any)
	if !ok {
		return nil, nil
	}
	values, ok := byCredential[base64.RawURLEncoding.EncodeToString(s.CredentialID)].(map[string]any)
	if !ok {
		return nil, nil
	}

	results := map[string]any{}
	for _, key := range []string{"first", "second"} {
		raw, ok := values[key]
		if !ok {
			continue
		}
		salt, err := decodeBinary(raw)
		if err != nil {
			return nil, err
		}
		out, err := s.ExtensionSecret(context.Background(), s.CredentialID, salt)
		if err != nil {
			return nil, err
		}
		results[key] = base64.RawURLEncoding.EncodeToString(out)
	}

	return protocol.AuthenticationExtensionsClientOutputs{
		ExtensionPRF: map[string]any{
			"results": results,
		},
	}, nil
}

// RegistrationResults reports PRF support the way a browser would.
func (s *Software) RegistrationResults() protocol.AuthenticationExtensionsClientOutputs {
	return protocol.AuthenticationExtensionsClientOutputs{
		ExtensionPRF: map[string]any{
			"enabled": true,
		},
	}
}
