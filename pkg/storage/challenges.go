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

// ChallengeRepository holds at most one live challenge per (user, purpose).
type ChallengeRepository struct {
	db DBTX
}

const challengeColumns = `user_id, purpose, challenge, session, created_at, expires_at`

// Upsert stores c, replacing any earlier challenge for the same
// (user, purpose). The replaced challenge can no longer be consumed.
func (r *ChallengeRepository) Upsert(ctx context.Context, c *types.Challenge) error {
	query := `INSERT INTO challenges (` + challengeColumns + `) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, purpose) DO UPDATE SET
			challenge = excluded.challenge,
			session = excluded.session,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`

	_, err := r.db.ExecContext(ctx, query,
		c.UserID, string(c.Purpose), c.Challenge, c.Session, toNanos(c.CreatedAt), toNanos(c.ExpiresAt))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Get returns the live challenge for (user, purpose) or types.ErrNoActiveChallenge.
func (r *ChallengeRepository) Get(ctx context.Context, userID string, purpose types.Purpose) (*types.Challenge, error) {
	query := `SELECT ` + challengeColumns + ` FROM challenges WHERE user_id = $1 AND purpose = $2`

	var (
		c        types.Challenge
		p        string
		created  int64
		expireAt int64
	)
	err := r.db.QueryRowContext(ctx, query, userID, string(purpose)).Scan(
		&c.UserID, &p, &c.Challenge, &c.Session, &created, &expireAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrNoActiveChallenge
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	c.Purpose = types.Purpose(p)
	c.CreatedAt = fromNanos(created)
	c.ExpiresAt = fromNanos(expireAt)
	return &c, nil
}

// Consume deletes the challenge only if it is still the one the caller
// verified against. Zero affected rows means another completion won the
// race or a newer begin replaced it: types.ErrNoActiveChallenge.
func (r *ChallengeRepository) Consume(ctx context.Context, userID string, purpose types.Purpose, challenge []byte) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM challenges WHERE user_id = $1 AND purpose = $2 AND challenge = $3`,
		userID, string(purpose), challenge)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectOne(res, types.ErrNoActiveChallenge)
}

// Delete removes the challenge for (user, purpose) regardless of its value.
func (r *ChallengeRepository) Delete(ctx context.Context, userID string, purpose types.Purpose) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM challenges WHERE user_id = $1 AND purpose = $2`, userID, string(purpose))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// DeleteExpired removes every challenge whose expiry is at or before now.
func (r *ChallengeRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM challenges WHERE expires_at <= $1`, toNanos(now))
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return res.RowsAffected()
}
