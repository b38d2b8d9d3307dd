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

package webauthn

import (
	"context"

	"github.com/jeremyhahn/go-seedvault/pkg/salt"
	"github.com/jeremyhahn/go-seedvault/pkg/storage"
	"github.com/jeremyhahn/go-seedvault/pkg/types"
)

// SaltSource issues and resolves credential salts inside the service's
// transaction. *salt.Manager implements it.
type SaltSource interface {
	// IssueWith creates a new salt for the credential.
	IssueWith(ctx context.Context, r *storage.Repositories, credentialID []byte, purpose types.SaltPurpose) (*types.Salt, error)

	// ResolveWith reports the credential's current and pending salt.
	// Returns types.ErrSaltNotFound when the credential has none.
	ResolveWith(ctx context.Context, r *storage.Repositories, credentialID []byte, purpose types.SaltPurpose) (*salt.Resolution, error)
}

// TokenGenerator issues a session token after a successful authentication.
type TokenGenerator interface {
	// GenerateToken creates a token whose subject is userID.
	GenerateToken(ctx context.Context, userID string) (string, error)
}

// TokenVerifier validates a session token and returns its subject.
type TokenVerifier interface {
	VerifyToken(token string) (string, error)
}

var _ SaltSource = (*salt.Manager)(nil)
