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

// Package authenticator models what a hardware security key can do for the
// vault and turns it into a device secret.
//
// Two capabilities exist. Keys supporting the WebAuthn PRF or CTAP2
// hmac-secret extension return a deterministic secret for a given salt.
// Keys that can only sign produce a device secret by signing a fixed message
// built from the credential id and the salt; this only works when the
// credential's signature scheme is itself deterministic.
package authenticator

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/go-webauthn/webauthn/protocol/webauthncose"
	"github.com/jeremyhahn/go-seedvault/pkg/types"
)

// MinSecretSize is the smallest device secret accepted from an authenticator.
const MinSecretSize = 16

// signatureDomain separates device-secret signatures from ceremony signatures.
const signatureDomain = "seedvault-device-secret-v1"

var (
	// ErrSecretTooShort is returned when an extension output is shorter than MinSecretSize.
	ErrSecretTooShort = errors.New("authenticator: device secret too short")

	// ErrNondeterministicAlgorithm is returned for signature-only credentials
	// whose algorithm produces randomized signatures.
	ErrNondeterministicAlgorithm = errors.New("authenticator: signature algorithm is not deterministic")
)

// Signer signs data with the private key of a registered credential.
type Signer interface {
	Sign(ctx context.Context, credentialID, data []byte) ([]byte, error)
}

// SecretExtension evaluates the PRF / hmac-secret function of a credential.
type SecretExtension interface {
	ExtensionSecret(ctx context.Context, credentialID, salt []byte) ([]byte, error)
}

// DeviceSecret obtains the device secret for cred and salt from a locally
// attached authenticator. dev must implement SecretExtension for
// deterministic-secret credentials and Signer for signature-only ones.
func DeviceSecret(ctx context.Context, dev any, cred *types.Credential, salt []byte) ([]byte, error) {
	if cred == nil {
		return nil, types.NewValidationError("credential", "required")
	}
	if len(salt) != types.SaltSize {
		return nil, types.NewValidationError("salt", "must be 32 bytes")
	}

	switch cred.Capability {
	case types.CapabilityDeterministicSecret:
		ext, ok := dev.(SecretExtension)
		if !ok {
			return nil, types.ErrCapabilityUnavailable
		}
		secret, err := ext.ExtensionSecret(ctx, cred.ID, salt)
		if err != nil {
			return nil, fmt.Errorf("extension secret: %w", err)
		}
		if len(secret) < MinSecretSize {
			return nil, ErrSecretTooShort
		}
		return secret, nil

	case types.CapabilitySignatureOnly:
		signer, ok := dev.(Signer)
		if !ok {
			return nil, types.ErrCapabilityUnavailable
		}
		return signatureSecret(ctx, signer, cred, salt)

	default:
		return nil, types.NewValidationError("capability", fmt.Sprintf("unknown capability %q", cred.Capability))
	}
}

// SignatureMessage returns the message a signature-only authenticator signs
// to produce its device secret.
func SignatureMessage(credentialID, salt []byte) []byte {
	msg := make([]byte, 0, len(signatureDomain)+len(credentialID)+len(salt))
	msg = append(msg, signatureDomain...)
	msg = append(msg, credentialID...)
	return append(msg, salt...)
}

func signatureSecret(ctx context.Context, signer Signer, cred *types.Credential, salt []byte) ([]byte, error) {
	key, err := webauthncose.ParsePublicKey(cred.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("parse credential public key: %w", err)
	}
	if !deterministicKey(key) {
		return nil, ErrNondeterministicAlgorithm
	}

	msg := SignatureMessage(cred.ID, salt)
	sig, err := signer.Sign(ctx, cred.ID, msg)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}

	// The signature is only trusted once it verifies under the registered key.
	ok, err := webauthncose.VerifySignature(key, msg, sig)
	if err != nil || !ok {
		return nil, types.ErrAuthenticationFailed
	}

	sum := sha256.Sum256(sig)
	return sum[:], nil
}

// deterministicKey reports whether signatures under key are reproducible.
// EdDSA and RSASSA-PKCS1-v1_5 are; ECDSA and RSASSA-PSS are not.
func deterministicKey(key any) bool {
	switch k := key.(type) {
	case webauthncose.OKPPublicKeyData:
		return webauthncose.COSEAlgorithmIdentifier(k.Algorithm) == webauthncose.AlgEdDSA
	case webauthncose.RSAPublicKeyData:
		switch webauthncose.COSEAlgorithmIdentifier(k.Algorithm) {
		case webauthncose.AlgRS256, webauthncose.AlgRS384, webauthncose.AlgRS512:
			return true
		}
	}
	return false
}
