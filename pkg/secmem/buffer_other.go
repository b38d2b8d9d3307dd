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

//go:build !unix

package secmem

// allocate uses ordinary heap memory where page locking is unavailable.
func allocate(n int) (*buffer, error) {
	return &buffer{data: make([]byte, n)}, nil
}

func (b *buffer) free() error {
	b.data = nil
	return nil
}
