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
	"time"

	"github.com/jeremyhahn/go-seedvault/pkg/types"
)

// SeedRepository stores encrypted seeds, one per user.
type SeedRepository struct {
	db DBTX
}

const seedColumns = `id, user_id, ciphertext, word_count, entropy_bits, created_at, last_accessed_at`

// Create inserts a seed. The user must not already have one.
func (r *SeedRepository) Create(ctx context.Context, s *types.Seed) error {
	query := `INSERT INTO seeds (` + seedColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(ctx, query,
		s.ID, s.UserID, s.Ciphertext, s.WordCount, s.EntropyBits,
		toNanos(s.CreatedAt), toNanos(s.LastAccessedAt))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// GetByUser returns the user's seed.
func (r *SeedRepository) GetByUser(ctx context.Context, userID string) (*types.Seed, error) {
	query := `SELECT ` + seedColumns + ` FROM seeds WHERE user_id = $1`

	var (
		s        types.Seed
		created  int64
		accessed int64
	)
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&s.ID, &s.UserID, &s.Ciphertext, &s.WordCount, &s.EntropyBits, &created, &accessed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrSeedNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	s.CreatedAt = fromNanos(created)
	s.LastAccessedAt = fromNanos(accessed)
	return &s, nil
}

// DeleteByUser removes the user's seed and, by cascade, its wrapped keys.
// It reports whether a seed existed.
func (r *SeedRepository) DeleteByUser(ctx context.Context, userID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM seeds WHERE user_id = $1`, userID)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n > 0, nil
}

// TouchAccessed records a successful decryption.
func (r *SeedRepository) TouchAccessed(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE seeds SET last_accessed_at = $2 WHERE id = $1`, id, toNanos(at))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectOne(res, types.ErrSeedNotFound)
}
