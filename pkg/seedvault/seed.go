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
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-seedvault/pkg/adapters/audit"
	"github.com/jeremyhahn/go-seedvault/pkg/adapters/logger"
	"github.com/jeremyhahn/go-seedvault/pkg/crypto/envelope"
	"github.com/jeremyhahn/go-seedvault/pkg/metrics"
	"github.com/jeremyhahn/go-seedvault/pkg/mnemonic"
	"github.com/jeremyhahn/go-seedvault/pkg/secmem"
	"github.com/jeremyhahn/go-seedvault/pkg/storage"
	"github.com/jeremyhahn/go-seedvault/pkg/types"
)

// StoreSeed validates plaintext as a BIP39 mnemonic, encrypts it under a
// fresh Data Key and wraps that key for every grant. Every
// deterministic-secret credential of the user needs a grant. A
// signature-only credential is wrapped only when its grant carries a
// device secret; otherwise it stays pending and can join later through
// EnrollCredential. Any earlier seed of the user is replaced, along with
// its wrapped keys, in the same transaction.
//
// The canonical lower-case, single-spaced phrase is what gets encrypted.
// The caller still owns plaintext and should clear it.
func (v *Vault) StoreSeed(ctx context.Context, userID string, plaintext []byte, grants ...Grant) (seedID string, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordOperation(metrics.OpStoreSeed, err, time.Since(start).Seconds())
		v.record(ctx, audit.EventSeedStore, userID, nil, err)
	}()

	info, err := mnemonic.Validate(plaintext)
	if err != nil {
		return "", types.WrapError("seedvault.StoreSeed", err)
	}
	if len(grants) == 0 {
		return "", types.WrapError("seedvault.StoreSeed",
			types.NewValidationError("grants", "at least one grant is required"))
	}

	phrase := mnemonic.Canonical(plaintext)
	defer clear(phrase)

	var wrapped, pending int
	err = v.store.InTx(ctx, func(ctx context.Context, r *storage.Repositories) error {
		if _, err := r.Users.Get(ctx, userID); err != nil {
			return err
		}
		creds, err := r.Credentials.ListByUser(ctx, userID)
		if err != nil {
			return err
		}

		keys, err := v.bindGrants(ctx, r, userID, wrappable(creds, grants))
		if err != nil {
			return err
		}
		defer zeroKeys(keys)

		for _, c := range creds {
			if hasKeyFor(keys, c.ID) {
				continue
			}
			if c.Capability != types.CapabilitySignatureOnly {
				return types.NewValidationError("grants",
					fmt.Sprintf("missing grant for credential %s", c.EncodedID()))
			}
			pending++
		}
		if len(keys) == 0 {
			return fmt.Errorf("%w: no grant carries a device secret", types.ErrCapabilityUnavailable)
		}

		dataKey, sealed, err := v.cipher.EncryptSeed(phrase)
		if err != nil {
			return err
		}
		defer envelope.Zero(dataKey)

		if _, err := r.Seeds.DeleteByUser(ctx, userID); err != nil {
			return err
		}

		now := v.now()
		seed := &types.Seed{
			ID:          uuid.NewString(),
			UserID:      userID,
			Ciphertext:  sealed.Bytes(),
			WordCount:   info.WordCount,
			EntropyBits: info.EntropyBits,
			CreatedAt:   now,
		}
		if err := r.Seeds.Create(ctx, seed); err != nil {
			return err
		}

		for _, k := range keys {
			w, err := v.cipher.WrapDataKey(dataKey, k.key)
			if err != nil {
				return err
			}
			if err := r.WrappedKeys.Create(ctx, &types.WrappedKey{
				ID:           uuid.NewString(),
				SeedID:       seed.ID,
				CredentialID: k.cred.ID,
				SaltID:       k.saltID,
				Nonce:        w.Nonce,
				Ciphertext:   w.Ciphertext,
				Tag:          w.Tag,
				CreatedAt:    now,
			}); err != nil {
				return err
			}
		}

		seedID = seed.ID
		wrapped = len(keys)
		return nil
	})
	if err != nil {
		return "", types.WrapError("seedvault.StoreSeed", err)
	}

	v.logger.WithContext(ctx).Info("seed stored",
		logger.UserID(userID),
		logger.String("seed_id", seedID),
		logger.Int("word_count", info.WordCount),
		logger.Int("wrapped_keys", wrapped),
		logger.Int("pending_credentials", pending))
	return seedID, nil
}

// wrappable drops grants of signature-only credentials that carry no
// device secret, as a web assertion of such a credential never does.
func wrappable(creds []*types.Credential, grants []Grant) []Grant {
	out := make([]Grant, 0, len(grants))
	for _, g := range grants {
		if len(g.DeviceSecret) == 0 {
			idx := storage.IndexOf(creds, g.CredentialID)
			if idx >= 0 && creds[idx].Capability == types.CapabilitySignatureOnly {
				continue
			}
		}
		out = append(out, g)
	}
	return out
}

func hasKeyFor(keys []boundKey, credentialID []byte) bool {
	for _, k := range keys {
		if string(k.cred.ID) == string(credentialID) {
			return true
		}
	}
	return false
}

// RetrieveSeed unwraps the Data Key with the grant's credential, decrypts
// the seed and holds the plaintext in the guard on behalf of userID. The
// returned handle is read with ReadSeed and expires after the guard's TTL.
//
// A wrong device secret and a tampered record both return
// types.ErrAuthenticationFailed.
func (v *Vault) RetrieveSeed(ctx context.Context, userID string, grant Grant) (h secmem.Handle, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordOperation(metrics.OpRetrieveSeed, err, time.Since(start).Seconds())
		v.record(ctx, audit.EventSeedRetrieve, userID, grant.CredentialID, err)
	}()

	var plaintext []byte
	defer func() { clear(plaintext) }()

	err = v.store.InTx(ctx, func(ctx context.Context, r *storage.Repositories) error {
		seed, err := loadSeed(ctx, r, userID)
		if err != nil {
			return err
		}
		wk, dataKey, err := v.unlock(ctx, r, userID, seed, grant)
		if err != nil {
			return err
		}
		defer envelope.Zero(dataKey)

		sealed, err := envelope.ParseSealed(seed.Ciphertext)
		if err != nil {
			return err
		}
		plaintext, err = v.cipher.DecryptSeed(sealed, dataKey)
		if err != nil {
			return err
		}

		if err := r.Seeds.TouchAccessed(ctx, seed.ID, v.now()); err != nil {
			return err
		}
		return v.salts.TouchWith(ctx, r, wk.SaltID)
	})
	if err == nil {
		h, err = v.guard.HoldAs(userID, plaintext)
	}

	log := v.logger.WithContext(ctx).With(logger.UserID(userID), logger.CredentialID(grant.CredentialID))
	if err != nil {
		if errors.Is(err, types.ErrAuthenticationFailed) {
			log.Warn("seed retrieval rejected")
		}
		return "", types.WrapError("seedvault.RetrieveSeed", err)
	}

	metrics.SetSecureMemoryHeld(v.guard.Len())
	log.Info("seed retrieved", logger.String("handle", string(h)))
	return h, nil
}

// ReadSeed returns a copy of a retrieved seed. The caller should clear it.
func (v *Vault) ReadSeed(h secmem.Handle) ([]byte, error) {
	b, err := v.guard.Read(h)
	if err != nil {
		return nil, types.WrapError("seedvault.ReadSeed", err)
	}
	return b, nil
}

// ExtendSeed keeps a retrieved seed readable for d more. A non-positive d
// uses the guard's default TTL.
func (v *Vault) ExtendSeed(h secmem.Handle, d time.Duration) error {
	return types.WrapError("seedvault.ExtendSeed", v.guard.Extend(h, d))
}

// ReleaseSeed zeroes a retrieved seed at once. It reports whether the
// handle was still held.
func (v *Vault) ReleaseSeed(h secmem.Handle) bool {
	ok := v.guard.Release(h)
	metrics.SetSecureMemoryHeld(v.guard.Len())
	return ok
}

// DeleteSeed removes the user's seed and every wrapped key of it.
func (v *Vault) DeleteSeed(ctx context.Context, userID string) (err error) {
	defer func() { v.record(ctx, audit.EventSeedDelete, userID, nil, err) }()

	err = v.store.InTx(ctx, func(ctx context.Context, r *storage.Repositories) error {
		if _, err := loadSeed(ctx, r, userID); err != nil {
			return err
		}
		_, err := r.Seeds.DeleteByUser(ctx, userID)
		return err
	})
	if err != nil {
		return types.WrapError("seedvault.DeleteSeed", err)
	}
	v.logger.WithContext(ctx).Info("seed deleted", logger.UserID(userID))
	return nil
}
