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

//go:build unix

package secmem

import (
	"golang.org/x/sys/unix"
)

// allocate maps a private anonymous region for n bytes and locks it into
// RAM. Each buffer owns its pages, so munlock never affects another entry.
// When the lock fails (RLIMIT_MEMLOCK) the mapping is still used unlocked.
func allocate(n int) (*buffer, error) {
	region, err := unix.Mmap(-1, 0, n, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return &buffer{data: make([]byte, n)}, nil
	}
	b := &buffer{data: region[:n], region: region, mapped: true}
	if err := unix.Mlock(region); err == nil {
		b.locked = true
	}
	return b, nil
}

func (b *buffer) free() error {
	if !b.mapped {
		return nil
	}
	if b.locked {
		_ = unix.Munlock(b.region)
	}
	b.mapped, b.locked = false, false
	region := b.region
	b.region, b.data = nil, nil
	return unix.Munmap(region)
}
