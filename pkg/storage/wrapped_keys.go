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

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jeremyhahn/go-seedvault/pkg/types"
)

// WrappedKeyRepository stores one wrapped Data Key per (seed, credential).
type WrappedKeyRepository struct {
	db DBTX
}

const wrappedKeyColumns = `id, seed_id, credential_id, salt_id, nonce, ciphertext, tag, created_at`

// Create inserts a wrapped key. A second key for the same (seed, credential)
// returns types.ErrCredentialAlreadyExists.
func (r *WrappedKeyRepository) Create(ctx context.Context, k *types.WrappedKey) error {
	query := `INSERT INTO wrapped_keys (` + wrappedKeyColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx, query,
		k.ID, k.SeedID, k.CredentialID, k.SaltID, k.Nonce, k.Ciphertext, k.Tag, toNanos(k.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return types.ErrCredentialAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Get returns the wrapped key for (seed, credential).
func (r *WrappedKeyRepository) Get(ctx context.Context, seedID string, credentialID []byte) (*types.WrappedKey, error) {
	query := `SELECT ` + wrappedKeyColumns + ` FROM wrapped_keys WHERE seed_id = $1 AND credential_id = $2`
	return scanWrappedKey(r.db.QueryRowContext(ctx, query, seedID, credentialID))
}

// GetByCredential returns the wrapped key held by a credential, if any.
func (r *WrappedKeyRepository) GetByCredential(ctx context.Context, credentialID []byte) (*types.WrappedKey, error) {
	query := `SELECT ` + wrappedKeyColumns + ` FROM wrapped_keys WHERE credential_id = $1`
	return scanWrappedKey(r.db.QueryRowContext(ctx, query, credentialID))
}

// ListBySeed returns every wrapped key of a seed.
func (r *WrappedKeyRepository) ListBySeed(ctx context.Context, seedID string) ([]*types.WrappedKey, error) {
	return r.list(ctx, `SELECT `+wrappedKeyColumns+` FROM wrapped_keys WHERE seed_id = $1 ORDER BY created_at, id`, seedID)
}

// ListBySalt returns the wrapped keys derived through a salt.
func (r *WrappedKeyRepository) ListBySalt(ctx context.Context, saltID string) ([]*types.WrappedKey, error) {
	return r.list(ctx, `SELECT `+wrappedKeyColumns+` FROM wrapped_keys WHERE salt_id = $1`, saltID)
}

// CountBySeed returns the number of wrapped keys of a seed.
func (r *WrappedKeyRepository) CountBySeed(ctx context.Context, seedID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM wrapped_keys WHERE seed_id = $1`, seedID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

// Rewrap replaces the salt and sealed Data Key of an existing wrapped key.
func (r *WrappedKeyRepository) Rewrap(ctx context.Context, k *types.WrappedKey) error {
	query := `UPDATE wrapped_keys SET salt_id = $2, nonce = $3, ciphertext = $4, tag = $5 WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, k.ID, k.SaltID, k.Nonce, k.Ciphertext, k.Tag)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectOne(res, types.ErrWrappedKeyNotFound)
}

// Delete removes a wrapped key.
func (r *WrappedKeyRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM wrapped_keys WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectOne(res, types.ErrWrappedKeyNotFound)
}

func (r *WrappedKeyRepository) list(ctx context.Context, query string, args ...any) ([]*types.WrappedKey, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*types.WrappedKey
	for rows.Next() {
		k, err := scanWrappedKey(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func scanWrappedKey(row scanner) (*types.WrappedKey, error) {
	var (
		k       types.WrappedKey
		created int64
	)
	err := row.Scan(&k.ID, &k.SeedID, &k.CredentialID, &k.SaltID, &k.Nonce, &k.Ciphertext, &k.Tag, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrWrappedKeyNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	k.CreatedAt = fromNanos(created)
	return &k, nil
}
