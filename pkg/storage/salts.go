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

// SaltRepository stores per-credential salts.
type SaltRepository struct {
	db DBTX
}

const saltColumns = `id, credential_id, purpose, value, created_at, last_used_at`

// Create inserts a salt.
func (r *SaltRepository) Create(ctx context.Context, s *types.Salt) error {
	query := `INSERT INTO salts (` + saltColumns + `, seq)
		VALUES ($1, $2, $3, $4, $5, $6, (SELECT COALESCE(MAX(seq), 0) + 1 FROM salts))`

	_, err := r.db.ExecContext(ctx, query,
		s.ID, s.CredentialID, string(s.Purpose), s.Value, toNanos(s.CreatedAt), toNanos(s.LastUsedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: salt collision", ErrInvalidData)
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Get returns the salt with the given id.
func (r *SaltRepository) Get(ctx context.Context, id string) (*types.Salt, error) {
	query := `SELECT ` + saltColumns + ` FROM salts WHERE id = $1`
	return scanSalt(r.db.QueryRowContext(ctx, query, id))
}

// ListByCredential returns a credential's salts oldest first. An empty
// purpose lists every purpose.
func (r *SaltRepository) ListByCredential(ctx context.Context, credentialID []byte, purpose types.SaltPurpose) ([]*types.Salt, error) {
	query := `SELECT ` + saltColumns + ` FROM salts
		WHERE credential_id = $1 AND ($2 = '' OR purpose = $2)
		ORDER BY seq`

	rows, err := r.db.QueryContext(ctx, query, credentialID, string(purpose))
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*types.Salt
	for rows.Next() {
		s, err := scanSalt(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

// Latest returns the newest salt for (credential, purpose).
func (r *SaltRepository) Latest(ctx context.Context, credentialID []byte, purpose types.SaltPurpose) (*types.Salt, error) {
	query := `SELECT ` + saltColumns + ` FROM salts
		WHERE credential_id = $1 AND purpose = $2
		ORDER BY seq DESC LIMIT 1`
	return scanSalt(r.db.QueryRowContext(ctx, query, credentialID, string(purpose)))
}

// Touch records a use of the salt.
func (r *SaltRepository) Touch(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE salts SET last_used_at = $2 WHERE id = $1`, id, toNanos(at))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectOne(res, types.ErrSaltNotFound)
}

// Delete removes a salt. Callers must first remove wrapped keys referencing it.
func (r *SaltRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM salts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectOne(res, types.ErrSaltNotFound)
}

func scanSalt(row scanner) (*types.Salt, error) {
	var (
		s        types.Salt
		purpose  string
		created  int64
		lastUsed int64
	)
	err := row.Scan(&s.ID, &s.CredentialID, &purpose, &s.Value, &created, &lastUsed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrSaltNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	s.Purpose = types.SaltPurpose(purpose)
	s.CreatedAt = fromNanos(created)
	s.LastUsedAt = fromNanos(lastUsed)
	return &s, nil
}
