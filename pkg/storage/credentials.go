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
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jeremyhahn/go-seedvault/pkg/types"
)

// CredentialRepository stores registered authenticators.
type CredentialRepository struct {
	db DBTX
}

const credentialColumns = `id, user_id, public_key, attestation_type, transports, aaguid,
	sign_count, clone_warning, user_present, user_verified, backup_eligible, backup_state,
	capability, nickname, is_primary, created_at, last_used_at`

// Create inserts a credential. A duplicate id returns types.ErrCredentialAlreadyExists.
func (r *CredentialRepository) Create(ctx context.Context, c *types.Credential) error {
	transports, err := json.Marshal(nonNil(c.Transports))
	if err != nil {
		return fmt.Errorf("encode transports: %w", err)
	}

	query := `INSERT INTO credentials (` + credentialColumns + `, seq)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM credentials))`

	_, err = r.db.ExecContext(ctx, query,
		c.ID, c.UserID, c.PublicKey, c.AttestationType, string(transports), c.AAGUID,
		int64(c.SignCount), c.CloneWarning,
		c.Flags.UserPresent, c.Flags.UserVerified, c.Flags.BackupEligible, c.Flags.BackupState,
		string(c.Capability), c.Nickname, c.Primary,
		toNanos(c.CreatedAt), toNanos(c.LastUsedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return types.ErrCredentialAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Get returns the credential with the given id.
func (r *CredentialRepository) Get(ctx context.Context, id []byte) (*types.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE id = $1`
	return scanCredential(r.db.QueryRowContext(ctx, query, id))
}

// GetForUser returns the credential only if it belongs to userID.
func (r *CredentialRepository) GetForUser(ctx context.Context, userID string, id []byte) (*types.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE id = $1 AND user_id = $2`
	return scanCredential(r.db.QueryRowContext(ctx, query, id, userID))
}

// ListByUser returns a user's credentials, oldest first.
func (r *CredentialRepository) ListByUser(ctx context.Context, userID string) ([]*types.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE user_id = $1 ORDER BY seq`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*types.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

// CountByUser returns how many credentials a user has.
func (r *CredentialRepository) CountByUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM credentials WHERE user_id = $1`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

// RecordUse stores the outcome of a verified assertion. The stored counter
// never decreases and a clone warning, once raised, stays raised.
func (r *CredentialRepository) RecordUse(ctx context.Context, id []byte, signCount uint32, cloneWarning bool, flags types.CredentialFlags, at time.Time) error {
	query := `UPDATE credentials SET
			sign_count = CASE WHEN sign_count < $2 THEN $2 ELSE sign_count END,
			clone_warning = (clone_warning OR $3),
			user_present = $4,
			user_verified = $5,
			backup_state = $6,
			last_used_at = $7
		WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query,
		id, int64(signCount), cloneWarning,
		flags.UserPresent, flags.UserVerified, flags.BackupState, toNanos(at))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectOne(res, types.ErrCredentialNotFound)
}

// SetPrimary marks id as the user's only primary credential.
func (r *CredentialRepository) SetPrimary(ctx context.Context, userID string, id []byte) error {
	if _, err := r.GetForUser(ctx, userID, id); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE credentials SET is_primary = (id = $2) WHERE user_id = $1`, userID, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// SetNickname renames a credential.
func (r *CredentialRepository) SetNickname(ctx context.Context, userID string, id []byte, nickname string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE credentials SET nickname = $3 WHERE id = $1 AND user_id = $2`, id, userID, nickname)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectOne(res, types.ErrCredentialNotFound)
}

// Delete removes a credential. Its salts and wrapped keys cascade.
func (r *CredentialRepository) Delete(ctx context.Context, userID string, id []byte) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM credentials WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectOne(res, types.ErrCredentialNotFound)
}

func scanCredential(row scanner) (*types.Credential, error) {
	var (
		c          types.Credential
		transports string
		signCount  int64
		capability string
		created    int64
		lastUsed   int64
	)
	err := row.Scan(&c.ID, &c.UserID, &c.PublicKey, &c.AttestationType, &transports, &c.AAGUID,
		&signCount, &c.CloneWarning,
		&c.Flags.UserPresent, &c.Flags.UserVerified, &c.Flags.BackupEligible, &c.Flags.BackupState,
		&capability, &c.Nickname, &c.Primary, &created, &lastUsed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrCredentialNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if err := json.Unmarshal([]byte(transports), &c.Transports); err != nil {
		return nil, fmt.Errorf("%w: transports: %v", ErrInvalidData, err)
	}
	c.SignCount = uint32(signCount)
	c.Capability = types.Capability(capability)
	c.CreatedAt = fromNanos(created)
	c.LastUsedAt = fromNanos(lastUsed)
	return &c, nil
}

// IndexOf returns the position of id in creds, or -1.
func IndexOf(creds []*types.Credential, id []byte) int {
	for i, c := range creds {
		if bytes.Equal(c.ID, id) {
			return i
		}
	}
	return -1
}

func expectOne(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
