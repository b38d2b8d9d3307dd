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

// UserRepository stores users.
type UserRepository struct {
	db DBTX
}

const userColumns = `id, name, display_name, max_credentials, created_at`

// Create inserts a user. A taken name returns types.ErrUserAlreadyExists.
func (r *UserRepository) Create(ctx context.Context, u *types.User) error {
	query := `INSERT INTO users (` + userColumns + `) VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.ExecContext(ctx, query,
		u.ID, u.Name, u.DisplayName, u.MaxCredentials, toNanos(u.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return types.ErrUserAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Get returns the user with the given id.
func (r *UserRepository) Get(ctx context.Context, id string) (*types.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

// GetByName returns the user with the given name.
func (r *UserRepository) GetByName(ctx context.Context, name string) (*types.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE name = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, name))
}

// SetMaxCredentials updates the per-user credential limit.
func (r *UserRepository) SetMaxCredentials(ctx context.Context, id string, max int) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET max_credentials = $2 WHERE id = $1`, id, max)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return types.ErrUserNotFound
	}
	return nil
}

// SetDisplayName updates a user's display name.
func (r *UserRepository) SetDisplayName(ctx context.Context, id, displayName string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET display_name = $2 WHERE id = $1`, id, displayName)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectOne(res, types.ErrUserNotFound)
}

func scanUser(row scanner) (*types.User, error) {
	var (
		u       types.User
		created int64
	)
	err := row.Scan(&u.ID, &u.Name, &u.DisplayName, &u.MaxCredentials, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrUserNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	u.CreatedAt = fromNanos(created)
	return &u, nil
}
