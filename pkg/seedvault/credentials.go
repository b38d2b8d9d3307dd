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
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-seedvault/pkg/adapters/audit"
	"github.com/jeremyhahn/go-seedvault/pkg/adapters/logger"
	"github.com/jeremyhahn/go-seedvault/pkg/crypto/envelope"
	"github.com/jeremyhahn/go-seedvault/pkg/metrics"
	"github.com/jeremyhahn/go-seedvault/pkg/storage"
	"github.com/jeremyhahn/go-seedvault/pkg/types"
	"github.com/jeremyhahn/go-seedvault/pkg/webauthn"
)

// ListCredentials returns the user's credentials in registration order.
func (v *Vault) ListCredentials(ctx context.Context, userID string) ([]*types.Credential, error) {
	var creds []*types.Credential
	err := v.store.InTx(ctx, func(ctx context.Context, r *storage.Repositories) error {
		if _, err := r.Users.Get(ctx, userID); err != nil {
			return err
		}
		var err error
		creds, err = r.Credentials.ListByUser(ctx, userID)
		return err
	})
	if err != nil {
		return nil, types.WrapError("seedvault.ListCredentials", err)
	}
	return creds, nil
}

// RevokeCredential deletes a credential with its salts and wrapped keys.
//
// It fails with types.ErrLastCredential when fewer than MinCredentials
// would remain, or when the credential holds the seed's only wrapped key.
// Revoking the primary credential promotes the oldest survivor.
func (v *Vault) RevokeCredential(ctx context.Context, userID string, credentialID []byte) (err error) {
	start := time.Now()
	defer func() {
		metrics.RecordOperation(metrics.OpRevokeCredential, err, time.Since(start).Seconds())
		v.record(ctx, audit.EventCredentialRevoke, userID, credentialID, err)
	}()

	var promoted *types.Credential
	err = v.store.InTx(ctx, func(ctx context.Context, r *storage.Repositories) error {
		seed, err := optionalSeed(ctx, r, userID)
		if err != nil {
			return err
		}
		creds, err := r.Credentials.ListByUser(ctx, userID)
		if err != nil {
			return err
		}
		idx := storage.IndexOf(creds, credentialID)
		if idx < 0 {
			return types.ErrCredentialNotFound
		}
		if len(creds)-1 < v.minCredentials {
			return types.ErrLastCredential
		}

		if seed != nil {
			_, err := r.WrappedKeys.Get(ctx, seed.ID, credentialID)
			switch {
			case err == nil:
				n, err := r.WrappedKeys.CountBySeed(ctx, seed.ID)
				if err != nil {
					return err
				}
				if n <= 1 {
					return types.ErrLastCredential
				}
			case !errors.Is(err, types.ErrWrappedKeyNotFound):
				return err
			}
		}

		if err := r.Credentials.Delete(ctx, userID, credentialID); err != nil {
			return err
		}

		if creds[idx].Primary {
			for _, c := range creds {
				if !bytes.Equal(c.ID, credentialID) {
					promoted = c
					break
				}
			}
			if promoted != nil {
				return r.Credentials.SetPrimary(ctx, userID, promoted.ID)
			}
		}
		return nil
	})
	if err != nil {
		return types.WrapError("seedvault.RevokeCredential", err)
	}

	log := v.logger.WithContext(ctx).With(logger.UserID(userID))
	log.Info("credential revoked", logger.CredentialID(credentialID))
	if promoted != nil {
		log.Info("primary credential promoted", logger.CredentialID(promoted.ID))
	}
	return nil
}

// SetPrimary marks the credential as the user's primary one.
func (v *Vault) SetPrimary(ctx context.Context, userID string, credentialID []byte) error {
	err := v.store.InTx(ctx, func(ctx context.Context, r *storage.Repositories) error {
		return r.Credentials.SetPrimary(ctx, userID, credentialID)
	})
	return types.WrapError("seedvault.SetPrimary", err)
}

// RenameCredential sets a credential's nickname. An empty nickname clears it.
func (v *Vault) RenameCredential(ctx context.Context, userID string, credentialID []byte, nickname string) error {
	nickname = strings.TrimSpace(nickname)
	if nickname != "" {
		if err := checkName("nickname", nickname); err != nil {
			return types.WrapError("seedvault.RenameCredential", err)
		}
	}
	err := v.store.InTx(ctx, func(ctx context.Context, r *storage.Repositories) error {
		return r.Credentials.SetNickname(ctx, userID, credentialID, nickname)
	})
	return types.WrapError("seedvault.RenameCredential", err)
}

// RotateSalt issues a new seed_encryption salt for the credential. If the
// credential's wrapped key still references the old salt, the new one stays
// pending until CompleteRotation re-wraps under it.
func (v *Vault) RotateSalt(ctx context.Context, userID string, credentialID []byte) (s *types.Salt, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordOperation(metrics.OpRotateSalt, err, time.Since(start).Seconds())
		v.record(ctx, audit.EventSaltRotate, userID, credentialID, err)
	}()

	err = v.store.InTx(ctx, func(ctx context.Context, r *storage.Repositories) error {
		if _, err := r.Credentials.GetForUser(ctx, userID, credentialID); err != nil {
			return err
		}
		s, err = v.salts.RotateWith(ctx, r, credentialID, types.SaltPurposeSeedEncryption)
		return err
	})
	if err != nil {
		return nil, types.WrapError("seedvault.RotateSalt", err)
	}

	v.logger.WithContext(ctx).Info("salt rotated",
		logger.UserID(userID),
		logger.CredentialID(credentialID),
		logger.String("salt_id", s.ID))
	return s, nil
}

// CompleteRotation moves a credential's wrapped key from its current salt
// to the pending one and revokes the old salt. The assertion must carry
// device secrets for both salts.
func (v *Vault) CompleteRotation(ctx context.Context, userID string, a *webauthn.Assertion) (err error) {
	start := time.Now()
	defer func() {
		metrics.RecordOperation(metrics.OpCompleteRotation, err, time.Since(start).Seconds())
		v.record(ctx, audit.EventSaltRewrap, userID, assertionCredential(a), err)
	}()

	if a == nil || !a.HasPendingRotation() {
		return types.WrapError("seedvault.CompleteRotation",
			types.NewValidationError("assertion", "carries no pending rotation"))
	}
	if a.UserID != "" && a.UserID != userID {
		return types.WrapError("seedvault.CompleteRotation",
			types.NewValidationError("assertion", "belongs to another user"))
	}

	err = v.store.InTx(ctx, func(ctx context.Context, r *storage.Repositories) error {
		seed, err := loadSeed(ctx, r, userID)
		if err != nil {
			return err
		}
		wk, dataKey, err := v.unlock(ctx, r, userID, seed, GrantFrom(a))
		if err != nil {
			return err
		}
		defer envelope.Zero(dataKey)

		cred, err := r.Credentials.Get(ctx, wk.CredentialID)
		if err != nil {
			return err
		}
		next, err := v.wrappingKey(ctx, r, cred, Grant{
			CredentialID: cred.ID,
			SaltID:       a.NextSaltID,
			DeviceSecret: a.NextDeviceSecret,
		})
		if err != nil {
			return err
		}
		defer envelope.Zero(next)

		w, err := v.cipher.WrapDataKey(dataKey, next)
		if err != nil {
			return err
		}
		if err := r.WrappedKeys.Rewrap(ctx, &types.WrappedKey{
			ID:         wk.ID,
			SaltID:     a.NextSaltID,
			Nonce:      w.Nonce,
			Ciphertext: w.Ciphertext,
			Tag:        w.Tag,
		}); err != nil {
			return err
		}
		return v.salts.RevokeWith(ctx, r, wk.SaltID)
	})
	if err != nil {
		return types.WrapError("seedvault.CompleteRotation", err)
	}

	v.logger.WithContext(ctx).Info("salt rotation completed",
		logger.UserID(userID),
		logger.CredentialID(a.CredentialID),
		logger.String("salt_id", a.NextSaltID))
	return nil
}

// EnrollCredential wraps the seed's Data Key for a newly registered
// credential. unlock proves possession of a credential that can already
// decrypt the seed; target is the grant of the new credential. Enrolling a
// credential that already has a wrapped key replaces it.
func (v *Vault) EnrollCredential(ctx context.Context, userID string, unlock, target Grant) (err error) {
	start := time.Now()
	defer func() {
		metrics.RecordOperation(metrics.OpEnrollCredential, err, time.Since(start).Seconds())
		v.record(ctx, audit.EventCredentialEnroll, userID, target.CredentialID, err)
	}()

	if bytes.Equal(unlock.CredentialID, target.CredentialID) {
		return types.WrapError("seedvault.EnrollCredential",
			types.NewValidationError("target", "must differ from the unlocking credential"))
	}

	err = v.store.InTx(ctx, func(ctx context.Context, r *storage.Repositories) error {
		seed, err := loadSeed(ctx, r, userID)
		if err != nil {
			return err
		}
		_, dataKey, err := v.unlock(ctx, r, userID, seed, unlock)
		if err != nil {
			return err
		}
		defer envelope.Zero(dataKey)

		keys, err := v.bindGrants(ctx, r, userID, []Grant{target})
		if err != nil {
			return err
		}
		defer zeroKeys(keys)
		k := keys[0]

		w, err := v.cipher.WrapDataKey(dataKey, k.key)
		if err != nil {
			return err
		}
		wk := &types.WrappedKey{
			SeedID:       seed.ID,
			CredentialID: k.cred.ID,
			SaltID:       k.saltID,
			Nonce:        w.Nonce,
			Ciphertext:   w.Ciphertext,
			Tag:          w.Tag,
			CreatedAt:    v.now(),
		}

		existing, err := r.WrappedKeys.Get(ctx, seed.ID, k.cred.ID)
		switch {
		case err == nil:
			wk.ID = existing.ID
			if err := r.WrappedKeys.Rewrap(ctx, wk); err != nil {
				return err
			}
			if existing.SaltID != wk.SaltID {
				return v.salts.PruneWith(ctx, r, k.cred.ID, types.SaltPurposeSeedEncryption, wk.SaltID)
			}
			return nil
		case errors.Is(err, types.ErrWrappedKeyNotFound):
			wk.ID = uuid.NewString()
			return r.WrappedKeys.Create(ctx, wk)
		default:
			return err
		}
	})
	if err != nil {
		return types.WrapError("seedvault.EnrollCredential", err)
	}

	v.logger.WithContext(ctx).Info("credential enrolled",
		logger.UserID(userID),
		logger.CredentialID(target.CredentialID),
		logger.String("unlocked_by", types.EncodeID(unlock.CredentialID)))
	return nil
}

func assertionCredential(a *webauthn.Assertion) []byte {
	if a == nil {
		return nil
	}
	return a.CredentialID
}
