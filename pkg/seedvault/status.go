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
	"time"

	"github.com/jeremyhahn/go-seedvault/pkg/storage"
	"github.com/jeremyhahn/go-seedvault/pkg/types"
)

// Status summarizes a user's seed and which credentials can open it.
type Status struct {
	UserID string

	// SeedID is empty when the user has no seed.
	SeedID         string
	WordCount      int
	EntropyBits    int
	CreatedAt      time.Time
	LastAccessedAt time.Time

	Credentials []CredentialStatus
}

// CredentialStatus is one credential's relation to the seed.
type CredentialStatus struct {
	Credential *types.Credential

	// Wrapped reports whether the credential holds a wrapped key of the seed.
	Wrapped bool

	// RotationPending reports whether a newer salt awaits CompleteRotation.
	RotationPending bool
}

// HasSeed reports whether a seed is stored.
func (s *Status) HasSeed() bool {
	return s.SeedID != ""
}

// Pending returns the credentials that cannot open the seed yet.
func (s *Status) Pending() []*types.Credential {
	if !s.HasSeed() {
		return nil
	}
	var out []*types.Credential
	for _, c := range s.Credentials {
		if !c.Wrapped {
			out = append(out, c.Credential)
		}
	}
	return out
}

// SeedStatus reports the user's seed metadata and per-credential coverage.
func (v *Vault) SeedStatus(ctx context.Context, userID string) (*Status, error) {
	st := &Status{UserID: userID}
	err := v.store.InTx(ctx, func(ctx context.Context, r *storage.Repositories) error {
		seed, err := optionalSeed(ctx, r, userID)
		if err != nil {
			return err
		}
		wrapped := map[string]bool{}
		if seed != nil {
			st.SeedID = seed.ID
			st.WordCount = seed.WordCount
			st.EntropyBits = seed.EntropyBits
			st.CreatedAt = seed.CreatedAt
			st.LastAccessedAt = seed.LastAccessedAt

			keys, err := r.WrappedKeys.ListBySeed(ctx, seed.ID)
			if err != nil {
				return err
			}
			for _, k := range keys {
				wrapped[types.EncodeID(k.CredentialID)] = true
			}
		}

		creds, err := r.Credentials.ListByUser(ctx, userID)
		if err != nil {
			return err
		}
		for _, c := range creds {
			cs := CredentialStatus{Credential: c, Wrapped: wrapped[c.EncodedID()]}
			res, err := v.salts.ResolveWith(ctx, r, c.ID, types.SaltPurposeSeedEncryption)
			switch {
			case err == nil:
				cs.RotationPending = res.Pending != nil
			case !errors.Is(err, types.ErrSaltNotFound):
				return err
			}
			st.Credentials = append(st.Credentials, cs)
		}
		return nil
	})
	if err != nil {
		return nil, types.WrapError("seedvault.SeedStatus", err)
	}
	return st, nil
}
