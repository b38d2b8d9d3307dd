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

// Package aead tracks AES-GCM nonces so that a random nonce collision is
// refused instead of silently breaking GCM authentication.
package aead

import (
	"sync"
)

const (
	// NonceSize is the AES-GCM nonce length in bytes (96 bits).
	NonceSize = 12

	// DefaultCapacity is the number of recent nonces remembered by default.
	DefaultCapacity = 1 << 16
)

// NonceTracker provides thread-safe tracking of recently used nonces.
//
// Every seed and every wrapped key is sealed under a fresh random nonce, so
// a collision is astronomically unlikely; the tracker turns a broken random
// source into a hard error rather than a silent reuse. Memory is bounded:
// once capacity is reached the oldest nonce is forgotten (FIFO).
//
// Example usage:
//
//	tracker := aead.NewNonceTracker(aead.DefaultCapacity)
//	if err := tracker.CheckAndRecordNonce(nonce); err != nil {
//	    return err
//	}
type NonceTracker struct {
	capacity int
	nonces   map[[NonceSize]byte]struct{}
	order    [][NonceSize]byte
	head     int
	mu       sync.Mutex
}

// NewNonceTracker creates a tracker remembering up to capacity nonces.
// A non-positive capacity selects DefaultCapacity.
func NewNonceTracker(capacity int) *NonceTracker {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &NonceTracker{
		capacity: capacity,
		nonces:   make(map[[NonceSize]byte]struct{}, capacity),
		order:    make([][NonceSize]byte, 0, capacity),
	}
}

// CheckAndRecordNonce atomically checks that nonce has not been seen and
// records it.
func (nt *NonceTracker) CheckAndRecordNonce(nonce []byte) error {
	if len(nonce) != NonceSize {
		return ErrInvalidNonceSize
	}

	var key [NonceSize]byte
	copy(key[:], nonce)

	nt.mu.Lock()
	defer nt.mu.Unlock()

	if _, exists := nt.nonces[key]; exists {
		return ErrNonceReuse
	}

	if len(nt.order) < nt.capacity {
		nt.order = append(nt.order, key)
	} else {
		// Ring buffer: overwrite the oldest slot
		delete(nt.nonces, nt.order[nt.head])
		nt.order[nt.head] = key
		nt.head = (nt.head + 1) % nt.capacity
	}
	nt.nonces[key] = struct{}{}
	return nil
}

// Contains checks if a nonce is currently tracked without recording it.
func (nt *NonceTracker) Contains(nonce []byte) bool {
	if len(nonce) != NonceSize {
		return false
	}

	var key [NonceSize]byte
	copy(key[:], nonce)

	nt.mu.Lock()
	defer nt.mu.Unlock()

	_, exists := nt.nonces[key]
	return exists
}

// Count returns the number of nonces currently tracked.
func (nt *NonceTracker) Count() int {
	nt.mu.Lock()
	defer nt.mu.Unlock()

	return len(nt.nonces)
}

// Capacity returns the maximum number of nonces remembered.
func (nt *NonceTracker) Capacity() int {
	return nt.capacity
}

// Clear removes all tracked nonces.
func (nt *NonceTracker) Clear() {
	nt.mu.Lock()
	defer nt.mu.Unlock()

	nt.nonces = make(map[[NonceSize]byte]struct{}, nt.capacity)
	nt.order = nt.order[:0]
	nt.head = 0
}
