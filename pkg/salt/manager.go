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

// Package salt issues, resolves, rotates and revokes the per-credential
// salts that feed wrapping key derivation.
//
// A credential may hold two seed_encryption salts during a rotation: the
// current one, still referenced by its wrapped key, and the pending one
// that the next re-wrap moves to. Revoking a salt that a wrapped key still
// references deletes that wrapped key when the seed has other wrapped keys,
// and is refused with types.ErrLastCredential otherwise.
package salt

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-seedvault/pkg/adapters/logger"
	"github.com/jeremyhahn/go-seedvault/pkg/storage"
	"github.com/jeremyhahn/go-seedvault/pkg/types"
)

// Manager manages salts.
type Manager struct {
	store  *storage.Store
	logger logger.Logger
	now    func() time.Time
	random io.Reader
}

// ManagerParams contains dependencies for creating a Manager.
type ManagerParams struct {
	// Store is the persistence layer (required).
	Store *storage.Store

	// Logger receives revocation warnings. Defaults to a discarding logger.
	Logger logger.Logger

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time

	// Random is the salt entropy source. Defaults to crypto/rand.
	Random io.Reader
}

// NewManager creates a salt manager.
func NewManager(params ManagerParams) (*Manager, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	m := &Manager{
		store:  params.Store,
		logger: logger.OrDiscard(params.Logger),
		now:    params.Clock,
		random: params.Random,
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.random == nil {
		m.random = rand.Reader
	}
	return m, nil
}

// Resolution is the salt state of one credential.
type Resolution struct {
	// Current is the salt the credential's wrapped key was derived with,
	// or the newest salt when no wrapped key exists yet.
	Current *types.Salt

	// Pending is a newer salt awaiting re-wrap, or nil.
	Pending *types.Salt
}

// Issue creates a new random salt for the credential.
func (m *Manager) Issue(ctx context.Context, credentialID []byte, purpose types.SaltPurpose) (*types.Salt, error) {
	var s *types.Salt
	err := m.store.InTx(ctx, func(ctx context.Context, r *storage.Repositories) error {
		var err error
		s, err = m.IssueWith(ctx, r, credentialID, purpose)
		return err
	})
	if err != nil {
		return nil, types.WrapError("salt.Issue", err)
	}
	return s, nil
}

// IssueWith is Issue inside the caller's transaction.
func (m *Manager) IssueWith(ctx context.Context, r *storage.Repositories, credentialID []byte, purpose types.SaltPurpose) (*types.Salt, error) {
	if purpose == "" {
		return nil, types.NewValidationError("purpose", "must not be empty")
	}
	if _, err := r.Credentials.Get(ctx, credentialID); err != nil {
		return nil, err
	}

	value := make([]byte, types.SaltSize)
	if _, err := io.ReadFull(m.random, value); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	s := &types.Salt{
		ID:           uuid.NewString(),
		CredentialID: credentialID,
		Purpose:      purpose,
		Value:        value,
		CreatedAt:    m.now(),
	}
	if err := r.Salts.Create(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// ListFor returns the credential's salts, oldest first. An empty purpose
// lists all purposes.
func (m *Manager) ListFor(ctx context.Context, credentialID []byte, purpose types.SaltPurpose) ([]*types.Salt, error) {
	var salts []*types.Salt
	err := m.store.InTx(ctx, func(ctx context.Context, r *storage.Repositories) error {
		if _, err := r.Credentials.Get(ctx, credentialID); err != nil {
			return err
		}
		var err error
		salts, err = r.Salts.ListByCredential(ctx, credentialID, purpose)
		return err
	})
	if err != nil {
		return nil, types.WrapError("salt.ListFor", err)
	}
	return salts, nil
}

// Get returns a salt by id.
func (m *Manager) Get(ctx context.Context, saltID string) (*types.Salt, error) {
	var s *types.Salt
	err := m.store.InTx(ctx, func(ctx context.Context, r *storage.Repositories) error {
		var err error
		s, err = r.Salts.Get(ctx, saltID)
		return err
	})
	if err != nil {
		return nil, types.WrapError("salt.Get", err)
	}
	return s, nil
}

// Revoke deletes a salt, applying the orphaning policy to wrapped keys
// that reference it.
func (m *Manager) Revoke(ctx context.Context, saltID string) error {
	err := m.store.InTx(ctx, func(ctx context.Context, r *storage.Repositories) error {
		return m.RevokeWith(ctx, r, saltID)
	})
	return types.WrapError("salt.Revoke", err)
}

// RevokeWith is Revoke inside the caller's transaction.
func (m *Manager) RevokeWith(ctx context.Context, r *storage.Repositories, saltID string) error {
	s, err := r.Salts.Get(ctx, saltID)
	if err != nil {
		return err
	}

	keys, err := r.WrappedKeys.ListBySalt(ctx, saltID)
	if err != nil {
		return err
	}
	for _, k := range keys {
		n, err := r.WrappedKeys.CountBySeed(ctx, k.SeedID)
		if err != nil {
			return err
		}
		if n <= 1 {
			return types.ErrLastCredential
		}
		if err := r.WrappedKeys.Delete(ctx, k.ID); err != nil {
			return err
		}
		m.logger.WithContext(ctx).Warn("wrapped key removed with revoked salt",
			logger.CredentialID(s.CredentialID),
			logger.String("salt_id", saltID),
			logger.String("seed_id", k.SeedID))
	}

	return r.Salts.Delete(ctx, saltID)
}

// Rotate issues a new salt for the credential and revokes every older salt
// of the same purpose that no wrapped key references. A referenced salt is
// kept as the current salt until the wrapped key is re-wrapped.
func (m *Manager) Rotate(ctx context.Context, credentialID []byte, purpose types.SaltPurpose) (*types.Salt, error) {
	var next *types.Salt
	err := m.store.InTx(ctx, func(ctx context.Context, r *storage.Repositories) error {
		var err error
		next, err = m.RotateWith(ctx, r, credentialID, purpose)
		return err
	})
	if err != nil {
		return nil, types.WrapError("salt.Rotate", err)
	}
	m.logger.WithContext(ctx).Info("salt rotated",
		logger.CredentialID(credentialID),
		logger.String("salt_id", next.ID))
	return next, nil
}

// RotateWith is Rotate inside the caller's transaction.
func (m *Manager) RotateWith(ctx context.Context, r *storage.Repositories, credentialID []byte, purpose types.SaltPurpose) (*types.Salt, error) {
	next, err := m.IssueWith(ctx, r, credentialID, purpose)
	if err != nil {
		return nil, err
	}
	if err := m.PruneWith(ctx, r, credentialID, purpose, next.ID); err != nil {
		return nil, err
	}
	return next, nil
}

// PruneWith revokes every salt of the credential and purpose, other than
// keep, that no wrapped key references.
func (m *Manager) PruneWith(ctx context.Context, r *storage.Repositories, credentialID []byte, purpose types.SaltPurpose, keep string) error {
	salts, err := r.Salts.ListByCredential(ctx, credentialID, purpose)
	if err != nil {
		return err
	}
	for _, s := range salts {
		if s.ID == keep {
			continue
		}
		refs, err := r.WrappedKeys.ListBySalt(ctx, s.ID)
		if err != nil {
			return err
		}
		if len(refs) > 0 {
			continue
		}
		if err := r.Salts.Delete(ctx, s.ID); err != nil {
			return err
		}
	}
	return nil
}

// ResolveWith reports the current and pending salt of a credential.
// A credential without salts returns types.ErrSaltNotFound.
func (m *Manager) ResolveWith(ctx context.Context, r *storage.Repositories, credentialID []byte, purpose types.SaltPurpose) (*Resolution, error) {
	latest, err := r.Salts.Latest(ctx, credentialID, purpose)
	if err != nil {
		return nil, err
	}

	wk, err := r.WrappedKeys.GetByCredential(ctx, credentialID)
	if errors.Is(err, types.ErrWrappedKeyNotFound) {
		return &Resolution{Current: latest}, nil
	}
	if err != nil {
		return nil, err
	}

	current, err := r.Salts.Get(ctx, wk.SaltID)
	if err != nil {
		return nil, err
	}
	res := &Resolution{Current: current}
	if current.ID != latest.ID {
		res.Pending = latest
	}
	return res, nil
}

// Resolve is ResolveWith in its own transaction.
func (m *Manager) Resolve(ctx context.Context, credentialID []byte, purpose types.SaltPurpose) (*Resolution, error) {
	var res *Resolution
	err := m.store.InTx(ctx, func(ctx context.Context, r *storage.Repositories) error {
		var err error
		res, err = m.ResolveWith(ctx, r, credentialID, purpose)
		return err
	})
	if err != nil {
		return nil, types.WrapError("salt.Resolve", err)
	}
	return res, nil
}

// TouchWith records a use of the salt.
func (m *Manager) TouchWith(ctx context.Context, r *storage.Repositories, saltID string) error {
	return r.Salts.Touch(ctx, saltID, m.now())
}
