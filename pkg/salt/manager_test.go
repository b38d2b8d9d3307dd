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

package salt

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-seedvault/pkg/storage"
	"github.com/jeremyhahn/go-seedvault/pkg/types"
)

var epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store *storage.Store
	mgr   *Manager
	credA []byte
	credB []byte
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store, err := storage.OpenInMemory(ctx, t.Name())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	mgr, err := NewManager(ManagerParams{Store: store, Clock: func() time.Time { return epoch }})
	require.NoError(t, err)

	f := &fixture{store: store, mgr: mgr, credA: []byte("cred-a"), credB: []byte("cred-b")}
	r := store.Repositories()
	require.NoError(t, r.Users.Create(ctx, &types.User{ID: "u1", Name: "alice", MaxCredentials: 5, CreatedAt: epoch}))
	for _, id := range [][]byte{f.credA, f.credB} {
		require.NoError(t, r.Credentials.Create(ctx, &types.Credential{
			ID: id, UserID: "u1", PublicKey: []byte{1},
			Capability: types.CapabilityDeterministicSecret, CreatedAt: epoch,
		}))
	}
	return f
}

// wrap stores a wrapped key for cred on the user's seed, creating the seed
// on first use.
func (f *fixture) wrap(t *testing.T, cred []byte, saltID string) {
	t.Helper()
	ctx := context.Background()
	r := f.store.Repositories()

	if _, err := r.Seeds.GetByUser(ctx, "u1"); err != nil {
		require.NoError(t, r.Seeds.Create(ctx, &types.Seed{
			ID: "seed1", UserID: "u1", Ciphertext: []byte("x"), WordCount: 12, EntropyBits: 128, CreatedAt: epoch,
		}))
	}
	require.NoError(t, r.WrappedKeys.Create(ctx, &types.WrappedKey{
		ID: "wk-" + string(cred), SeedID: "seed1", CredentialID: cred, SaltID: saltID,
		Nonce: []byte("n"), Ciphertext: []byte("c"), Tag: []byte("t"), CreatedAt: epoch,
	}))
}

func TestNewManager_RequiresStore(t *testing.T) {
	_, err := NewManager(ManagerParams{})
	assert.Error(t, err)
}

func TestManager_Issue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s1, err := f.mgr.Issue(ctx, f.credA, types.SaltPurposeSeedEncryption)
	require.NoError(t, err)
	s2, err := f.mgr.Issue(ctx, f.credA, types.SaltPurposeSeedEncryption)
	require.NoError(t, err)

	assert.Len(t, s1.Value, types.SaltSize)
	assert.False(t, bytes.Equal(s1.Value, s2.Value))
	assert.NotEqual(t, s1.ID, s2.ID)
	assert.Equal(t, epoch, s1.CreatedAt)

	got, err := f.mgr.Get(ctx, s1.ID)
	require.NoError(t, err)
	assert.Equal(t, s1.Value, got.Value)

	list, err := f.mgr.ListFor(ctx, f.credA, types.SaltPurposeSeedEncryption)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, s1.ID, list[0].ID)
}

func TestManager_IssueErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mgr.Issue(ctx, []byte("unknown"), types.SaltPurposeSeedEncryption)
	assert.ErrorIs(t, err, types.ErrCredentialNotFound)

	_, err = f.mgr.Issue(ctx, f.credA, "")
	assert.True(t, types.IsValidation(err))

	_, err = f.mgr.ListFor(ctx, []byte("unknown"), "")
	assert.ErrorIs(t, err, types.ErrCredentialNotFound)

	_, err = f.mgr.Get(ctx, "missing")
	assert.ErrorIs(t, err, types.ErrSaltNotFound)
}

func TestManager_RevokeUnreferenced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.mgr.Issue(ctx, f.credA, types.SaltPurposeSeedEncryption)
	require.NoError(t, err)

	require.NoError(t, f.mgr.Revoke(ctx, s.ID))
	_, err = f.mgr.Get(ctx, s.ID)
	assert.ErrorIs(t, err, types.ErrSaltNotFound)
	assert.ErrorIs(t, f.mgr.Revoke(ctx, s.ID), types.ErrSaltNotFound)
}

func TestManager_RevokeCascadesWhenOtherKeysRemain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sa, err := f.mgr.Issue(ctx, f.credA, types.SaltPurposeSeedEncryption)
	require.NoError(t, err)
	sb, err := f.mgr.Issue(ctx, f.credB, types.SaltPurposeSeedEncryption)
	require.NoError(t, err)
	f.wrap(t, f.credA, sa.ID)
	f.wrap(t, f.credB, sb.ID)

	require.NoError(t, f.mgr.Revoke(ctx, sa.ID))

	r := f.store.Repositories()
	_, err = r.WrappedKeys.Get(ctx, "seed1", f.credA)
	assert.ErrorIs(t, err, types.ErrWrappedKeyNotFound)
	_, err = r.WrappedKeys.Get(ctx, "seed1", f.credB)
	assert.NoError(t, err)
}

func TestManager_RevokeBlocksLastWrappedKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sa, err := f.mgr.Issue(ctx, f.credA, types.SaltPurposeSeedEncryption)
	require.NoError(t, err)
	f.wrap(t, f.credA, sa.ID)

	err = f.mgr.Revoke(ctx, sa.ID)
	assert.ErrorIs(t, err, types.ErrLastCredential)

	_, err = f.mgr.Get(ctx, sa.ID)
	assert.NoError(t, err, "blocked revocation must leave the salt in place")
}

func TestManager_RotateWithoutWrappedKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	old, err := f.mgr.Issue(ctx, f.credA, types.SaltPurposeSeedEncryption)
	require.NoError(t, err)

	next, err := f.mgr.Rotate(ctx, f.credA, types.SaltPurposeSeedEncryption)
	require.NoError(t, err)
	assert.NotEqual(t, old.ID, next.ID)

	list, err := f.mgr.ListFor(ctx, f.credA, types.SaltPurposeSeedEncryption)
	require.NoError(t, err)
	require.Len(t, list, 1, "unreferenced salts are revoked on rotation")
	assert.Equal(t, next.ID, list[0].ID)

	res, err := f.mgr.Resolve(ctx, f.credA, types.SaltPurposeSeedEncryption)
	require.NoError(t, err)
	assert.Equal(t, next.ID, res.Current.ID)
	assert.Nil(t, res.Pending)
}

func TestManager_RotateWithRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	current, err := f.mgr.Issue(ctx, f.credA, types.SaltPurposeSeedEncryption)
	require.NoError(t, err)

	abort := errors.New("abort")
	err = f.store.InTx(ctx, func(ctx context.Context, r *storage.Repositories) error {
		next, err := f.mgr.RotateWith(ctx, r, f.credA, types.SaltPurposeSeedEncryption)
		require.NoError(t, err)
		require.NotEqual(t, current.ID, next.ID)
		return abort
	})
	require.ErrorIs(t, err, abort)

	list, err := f.mgr.ListFor(ctx, f.credA, types.SaltPurposeSeedEncryption)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, current.ID, list[0].ID)
}

func TestManager_RotateKeepsReferencedSalt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	current, err := f.mgr.Issue(ctx, f.credA, types.SaltPurposeSeedEncryption)
	require.NoError(t, err)
	f.wrap(t, f.credA, current.ID)

	first, err := f.mgr.Rotate(ctx, f.credA, types.SaltPurposeSeedEncryption)
	require.NoError(t, err)
	second, err := f.mgr.Rotate(ctx, f.credA, types.SaltPurposeSeedEncryption)
	require.NoError(t, err)

	list, err := f.mgr.ListFor(ctx, f.credA, "")
	require.NoError(t, err)
	ids := make([]string, 0, len(list))
	for _, s := range list {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{current.ID, second.ID}, ids, "superseded pending salt %s must be pruned", first.ID)

	res, err := f.mgr.Resolve(ctx, f.credA, types.SaltPurposeSeedEncryption)
	require.NoError(t, err)
	assert.Equal(t, current.ID, res.Current.ID)
	require.NotNil(t, res.Pending)
	assert.Equal(t, second.ID, res.Pending.ID)
}

func TestManager_ResolveWithoutSalts(t *testing.T) {
	f := newFixture(t)

	_, err := f.mgr.Resolve(context.Background(), f.credA, types.SaltPurposeSeedEncryption)
	assert.ErrorIs(t, err, types.ErrSaltNotFound)
}

func TestManager_TouchWith(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.mgr.Issue(ctx, f.credA, types.SaltPurposeSeedEncryption)
	require.NoError(t, err)

	require.NoError(t, f.store.InTx(ctx, func(ctx context.Context, r *storage.Repositories) error {
		return f.mgr.TouchWith(ctx, r, s.ID)
	}))
	got, err := f.mgr.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, epoch, got.LastUsedAt)
}
