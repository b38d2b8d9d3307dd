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

// Repositories groups every repository bound to the same DBTX.
type Repositories struct {
	Users       *UserRepository
	Credentials *CredentialRepository
	Salts       *SaltRepository
	Seeds       *SeedRepository
	WrappedKeys *WrappedKeyRepository
	Challenges  *ChallengeRepository
}

// NewRepositories binds all repositories to db, which is either *sql.DB or *sql.Tx.
func NewRepositories(db DBTX) *Repositories {
	return &Repositories{
		Users:       &UserRepository{db: db},
		Credentials: &CredentialRepository{db: db},
		Salts:       &SaltRepository{db: db},
		Seeds:       &SeedRepository{db: db},
		WrappedKeys: &WrappedKeyRepository{db: db},
		Challenges:  &ChallengeRepository{db: db},
	}
}
