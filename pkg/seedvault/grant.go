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

package seedvault

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/jeremyhahn/go-seedvault/pkg/authenticator"
	"github.com/jeremyhahn/go-seedvault/pkg/crypto/envelope"
	"github.com/jeremyhahn/go-seedvault/pkg/storage"
	"github.com/jeremyhahn/go-seedvault/pkg/types"
	"github.com/jeremyhahn/go-seedvault/pkg/webauthn"
)

// Grant is proof of possession of one credential: the device secret it
// produced for one of its salts.
type Grant struct {
	CredentialID []byte
	SaltID       string
	DeviceSecret []byte
}

// Zero clears the device secret.
func (g *Grant) Zero() {
	clear(g.DeviceSecret)
}

// GrantFrom returns the grant carried by a verified assertion. The grant
// shares the assertion's secret; zeroing either clears both.
func GrantFrom(a *webauthn.Assertion) Grant {
	return Grant{
		CredentialID: a.CredentialID,
		SaltID:       a.SaltID,
		DeviceSecret: a.DeviceSecret,
	}
}

// GrantsFrom is GrantFrom over a set of assertions.
func GrantsFrom(assertions []*webauthn.Assertion) []Grant {
	out := make([]Grant, len(assertions))
	for i, a := range assertions {
		out[i] = GrantFrom(a)
	}
	return out
}

// LocalAssertion asks a locally attached authenticator for the device
// secrets of one credential, for its current salt and, during a rotation,
// for its pending salt. dev must satisfy authenticator.SecretExtension or
// authenticator.Signer according to the credential's capability.
func (v *Vault) LocalAssertion(ctx context.Context, userID string, credentialID []byte, dev any) (*webauthn.Assertion, error) {
	var a *webauthn.Assertion
	err := v.store.InTx(ctx, func(ctx context.Context, r *storage.Repositories) error {
		cred, err := r.Credentials.GetForUser(ctx, userID, credentialID)
		if err != nil {
			return err
		}
		res, err := v.salts.ResolveWith(ctx, r, cred.ID, types.SaltPurposeSeedEncryption)
		if err != nil {
			return err
		}

		secret, err := authenticator.DeviceSecret(ctx, dev, cred, res.Current.Value)
		if err != nil {
			return err
		}
		a = &webauthn.Assertion{
			UserID:       userID,
			CredentialID: cred.ID,
			Capability:   cred.Capability,
			SaltID:       res.Current.ID,
			DeviceSecret: secret,
			SignCount:    cred.SignCount,
		}

		if res.Pending != nil {
			next, err := authenticator.DeviceSecret(ctx, dev, cred, res.Pending.Value)
			if err != nil {
				a.Zero()
				return err
			}
			a.NextSaltID = res.Pending.ID
			a.NextDeviceSecret = next
		}
		return nil
	})
	if err != nil {
		return nil, types.WrapError("seedvault.LocalAssertion", err)
	}
	return a, nil
}

// wrappingKey derives the Wrapping Key a grant proves for cred. The salt
// must be one of cred's seed_encryption salts.
func (v *Vault) wrappingKey(ctx context.Context, r *storage.Repositories, cred *types.Credential, g Grant) ([]byte, error) {
	if len(g.DeviceSecret) == 0 {
		return nil, fmt.Errorf("%w: no device secret for credential %s",
			types.ErrCapabilityUnavailable, cred.EncodedID())
	}
	s, err := r.Salts.Get(ctx, g.SaltID)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(s.CredentialID, cred.ID) || s.Purpose != types.SaltPurposeSeedEncryption {
		return nil, types.NewValidationError("salt_id", "does not belong to the credential")
	}
	return v.kdf.DeriveWrappingKey(g.DeviceSecret, s.Value)
}

// unlock recovers the Data Key of seed through the credential named by g.
// A grant without a salt id uses the salt the wrapped key is bound to.
func (v *Vault) unlock(ctx context.Context, r *storage.Repositories, userID string, seed *types.Seed, g Grant) (*types.WrappedKey, []byte, error) {
	cred, err := r.Credentials.GetForUser(ctx, userID, g.CredentialID)
	if err != nil {
		return nil, nil, err
	}
	wk, err := r.WrappedKeys.Get(ctx, seed.ID, cred.ID)
	if err != nil {
		return nil, nil, err
	}
	if g.SaltID == "" {
		g.SaltID = wk.SaltID
	}
	if g.SaltID != wk.SaltID {
		return nil, nil, types.NewValidationError("salt_id", "does not match the wrapped key")
	}

	key, err := v.wrappingKey(ctx, r, cred, g)
	if err != nil {
		return nil, nil, err
	}
	defer envelope.Zero(key)

	dataKey, err := v.cipher.UnwrapDataKey(sealedKey(wk), key)
	if err != nil {
		return nil, nil, err
	}
	return wk, dataKey, nil
}

func sealedKey(wk *types.WrappedKey) *envelope.Sealed {
	return &envelope.Sealed{Nonce: wk.Nonce, Ciphertext: wk.Ciphertext, Tag: wk.Tag}
}

// boundKey is a derived Wrapping Key and the salt it was derived from.
type boundKey struct {
	cred   *types.Credential
	saltID string
	key    []byte
}

func zeroKeys(keys []boundKey) {
	for _, k := range keys {
		envelope.Zero(k.key)
	}
}

// bindGrants derives one Wrapping Key per grant. Every grant must name a
// distinct credential of the user.
func (v *Vault) bindGrants(ctx context.Context, r *storage.Repositories, userID string, grants []Grant) (keys []boundKey, err error) {
	defer func() {
		if err != nil {
			zeroKeys(keys)
			keys = nil
		}
	}()

	seen := make(map[string]struct{}, len(grants))
	for _, g := range grants {
		id := types.EncodeID(g.CredentialID)
		if _, dup := seen[id]; dup {
			return keys, types.NewValidationError("grants", fmt.Sprintf("credential %s granted twice", id))
		}
		seen[id] = struct{}{}

		cred, err := r.Credentials.GetForUser(ctx, userID, g.CredentialID)
		if err != nil {
			return keys, err
		}
		key, err := v.wrappingKey(ctx, r, cred, g)
		if err != nil {
			return keys, err
		}
		keys = append(keys, boundKey{cred: cred, saltID: g.SaltID, key: key})
	}
	return keys, nil
}

// loadSeed returns the user's seed, checking the user exists first so that
// an unknown user is not reported as a missing seed.
func loadSeed(ctx context.Context, r *storage.Repositories, userID string) (*types.Seed, error) {
	if _, err := r.Users.Get(ctx, userID); err != nil {
		return nil, err
	}
	return r.Seeds.GetByUser(ctx, userID)
}

// optionalSeed is loadSeed that reports a missing seed as nil.
func optionalSeed(ctx context.Context, r *storage.Repositories, userID string) (*types.Seed, error) {
	seed, err := loadSeed(ctx, r, userID)
	if errors.Is(err, types.ErrSeedNotFound) {
		return nil, nil
	}
	return seed, err
}
