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

// Package seedvault stores a BIP39 seed under envelope encryption bound to
// the user's hardware authenticators.
//
// The seed is encrypted once with a random Data Key. The Data Key is then
// wrapped once per registered credential under a Wrapping Key derived with
// HKDF-SHA256 from that credential's device secret and its current salt.
// Any single registered credential can therefore recover the seed, and no
// credential can recover it with another credential's secret.
//
// Device secrets reach the vault as Grants. Over the web they come from the
// PRF outputs of a verified WebAuthn assertion (see GrantFrom); for locally
// attached authenticators LocalAssertion produces them directly. Decrypted
// seeds are never returned: RetrieveSeed places the plaintext in a
// secmem.Guard and hands back an opaque handle.
//
// Basic usage:
//
//	v, err := seedvault.New(seedvault.Params{
//	    Store: store,
//	    Salts: salts,
//	    Guard: guard,
//	})
//
//	assertions, err := svc.CompleteAuthenticationSet(ctx, userID, responses...)
//	defer webauthn.ZeroAll(assertions)
//	seedID, err := v.StoreSeed(ctx, userID, phrase, seedvault.GrantsFrom(assertions)...)
//
//	handle, err := v.RetrieveSeed(ctx, userID, seedvault.GrantFrom(assertion))
//	phrase, err := v.ReadSeed(handle)
package seedvault

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-seedvault/pkg/adapters/audit"
	"github.com/jeremyhahn/go-seedvault/pkg/adapters/kdf"
	"github.com/jeremyhahn/go-seedvault/pkg/adapters/logger"
	"github.com/jeremyhahn/go-seedvault/pkg/crypto/envelope"
	"github.com/jeremyhahn/go-seedvault/pkg/salt"
	"github.com/jeremyhahn/go-seedvault/pkg/secmem"
	"github.com/jeremyhahn/go-seedvault/pkg/storage"
	"github.com/jeremyhahn/go-seedvault/pkg/types"
)

const (
	// DefaultMinCredentials is the number of credentials a user must keep.
	DefaultMinCredentials = 1

	// MaxNameLength bounds user names and credential nicknames, in runes.
	MaxNameLength = 64
)

// Vault orchestrates seed storage, retrieval and credential management.
type Vault struct {
	store  *storage.Store
	salts  *salt.Manager
	guard  *secmem.Guard
	cipher *envelope.Cipher
	kdf    *kdf.Engine
	logger logger.Logger
	audit  audit.Recorder
	now    func() time.Time

	minCredentials int
	maxCredentials int
}

// Params contains dependencies for creating a Vault.
type Params struct {
	// Store is the persistence layer (required).
	Store *storage.Store

	// Salts manages per-credential salts (required).
	Salts *salt.Manager

	// Guard holds decrypted seeds (required).
	Guard *secmem.Guard

	// Cipher defaults to envelope.NewCipher().
	Cipher *envelope.Cipher

	// KDF defaults to kdf.NewEngine(kdf.DefaultInfo).
	KDF *kdf.Engine

	// Logger defaults to a discarding logger.
	Logger logger.Logger

	// Audit receives an event for every seed and credential mutation and
	// every retrieval attempt. Defaults to audit.Nop.
	Audit audit.Recorder

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time

	// MinCredentials is how many credentials RevokeCredential must leave.
	// Values below 1 select DefaultMinCredentials.
	MinCredentials int

	// MaxCredentials is the limit given to users created by CreateUser.
	// Values below 1 select types.DefaultMaxCredentials.
	MaxCredentials int
}

// New creates a Vault.
func New(params Params) (*Vault, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if params.Salts == nil {
		return nil, fmt.Errorf("salt manager is required")
	}
	if params.Guard == nil {
		return nil, fmt.Errorf("guard is required")
	}

	v := &Vault{
		store:          params.Store,
		salts:          params.Salts,
		guard:          params.Guard,
		cipher:         params.Cipher,
		kdf:            params.KDF,
		logger:         logger.OrDiscard(params.Logger),
		audit:          params.Audit,
		now:            params.Clock,
		minCredentials: params.MinCredentials,
		maxCredentials: params.MaxCredentials,
	}
	if v.cipher == nil {
		v.cipher = envelope.NewCipher()
	}
	if v.kdf == nil {
		v.kdf = kdf.NewEngine(kdf.DefaultInfo)
	}
	if v.audit == nil {
		v.audit = audit.Nop{}
	}
	if v.now == nil {
		v.now = time.Now
	}
	if v.minCredentials < 1 {
		v.minCredentials = DefaultMinCredentials
	}
	if v.maxCredentials < 1 {
		v.maxCredentials = types.DefaultMaxCredentials
	}
	return v, nil
}

// Guard returns the secure memory guard holding retrieved seeds.
func (v *Vault) Guard() *secmem.Guard {
	return v.guard
}

// MinCredentials returns the configured credential floor.
func (v *Vault) MinCredentials() int {
	return v.minCredentials
}

// CreateUser creates a user with the configured credential limit.
func (v *Vault) CreateUser(ctx context.Context, name, displayName string) (*types.User, error) {
	name = strings.TrimSpace(name)
	if err := checkName("name", name); err != nil {
		return nil, types.WrapError("seedvault.CreateUser", err)
	}
	displayName = strings.TrimSpace(displayName)
	if err := checkDisplayName(displayName); err != nil {
		return nil, types.WrapError("seedvault.CreateUser", err)
	}

	u := &types.User{
		ID:             uuid.NewString(),
		Name:           name,
		DisplayName:    displayName,
		MaxCredentials: v.maxCredentials,
		CreatedAt:      v.now(),
	}
	err := v.store.InTx(ctx, func(ctx context.Context, r *storage.Repositories) error {
		return r.Users.Create(ctx, u)
	})
	if err != nil {
		return nil, types.WrapError("seedvault.CreateUser", err)
	}

	v.logger.WithContext(ctx).Info("user created", logger.UserID(u.ID), logger.String("name", u.Name))
	return u, nil
}

// GetUser returns a user by id.
func (v *Vault) GetUser(ctx context.Context, userID string) (*types.User, error) {
	var u *types.User
	err := v.store.InTx(ctx, func(ctx context.Context, r *storage.Repositories) error {
		var err error
		u, err = r.Users.Get(ctx, userID)
		return err
	})
	if err != nil {
		return nil, types.WrapError("seedvault.GetUser", err)
	}
	return u, nil
}

// UpdateDisplayName changes the user's display name. An empty name clears
// it. The updated user is returned.
func (v *Vault) UpdateDisplayName(ctx context.Context, userID, displayName string) (*types.User, error) {
	displayName = strings.TrimSpace(displayName)
	if err := checkDisplayName(displayName); err != nil {
		return nil, types.WrapError("seedvault.UpdateDisplayName", err)
	}

	var u *types.User
	err := v.store.InTx(ctx, func(ctx context.Context, r *storage.Repositories) error {
		if err := r.Users.SetDisplayName(ctx, userID, displayName); err != nil {
			return err
		}
		var err error
		u, err = r.Users.Get(ctx, userID)
		return err
	})
	if err != nil {
		return nil, types.WrapError("seedvault.UpdateDisplayName", err)
	}

	v.logger.WithContext(ctx).Info("display name updated", logger.UserID(userID))
	return u, nil
}

// LookupUser returns a user by name.
func (v *Vault) LookupUser(ctx context.Context, name string) (*types.User, error) {
	var u *types.User
	err := v.store.InTx(ctx, func(ctx context.Context, r *storage.Repositories) error {
		var err error
		u, err = r.Users.GetByName(ctx, strings.TrimSpace(name))
		return err
	})
	if err != nil {
		return nil, types.WrapError("seedvault.LookupUser", err)
	}
	return u, nil
}

func checkName(field, value string) error {
	if value == "" {
		return types.NewValidationError(field, "must not be empty")
	}
	if utf8.RuneCountInString(value) > MaxNameLength {
		return types.NewValidationError(field, fmt.Sprintf("longer than %d characters", MaxNameLength))
	}
	return nil
}

func checkDisplayName(value string) error {
	if utf8.RuneCountInString(value) > MaxNameLength {
		return types.NewValidationError("display_name", fmt.Sprintf("longer than %d characters", MaxNameLength))
	}
	return nil
}

func (v *Vault) record(ctx context.Context, typ audit.EventType, userID string, credentialID []byte, err error) {
	e := audit.NewEvent(ctx, typ, userID, credentialID, err)
	e.Timestamp = v.now().UTC()
	if rerr := v.audit.Record(ctx, e); rerr != nil {
		v.logger.WithContext(ctx).Warn("audit record failed",
			logger.String("event", string(typ)),
			logger.Error(rerr))
	}
}
