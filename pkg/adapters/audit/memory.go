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

package audit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultCapacity is the number of events a MemoryRecorder keeps.
const DefaultCapacity = 1024

// Query filters events returned by MemoryRecorder.Events. Zero fields
// match everything.
type Query struct {
	Types        []EventType
	Outcomes     []Outcome
	UserID       string
	CredentialID string
	Since        time.Time
	Limit        int
}

// MemoryRecorder keeps the most recent events in a ring buffer.
type MemoryRecorder struct {
	mu     sync.RWMutex
	events []*Event
	next   int
	full   bool
}

// NewMemoryRecorder creates a recorder holding up to capacity events.
// A non-positive capacity selects DefaultCapacity.
func NewMemoryRecorder(capacity int) *MemoryRecorder {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryRecorder{events: make([]*Event, capacity)}
}

func (m *MemoryRecorder) Record(_ context.Context, e *Event) error {
	if e == nil {
		return errors.New("audit: nil event")
	}
	cp := *e
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now().UTC()
	}

	m.mu.Lock()
	m.events[m.next] = &cp
	m.next = (m.next + 1) % len(m.events)
	if m.next == 0 {
		m.full = true
	}
	m.mu.Unlock()
	return nil
}

// Len returns the number of retained events.
func (m *MemoryRecorder) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.full {
		return len(m.events)
	}
	return m.next
}

// Events returns matching events, newest first.
func (m *MemoryRecorder) Events(q Query) []*Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := m.next
	if m.full {
		n = len(m.events)
	}
	var out []*Event
	for i := 1; i <= n; i++ {
		e := m.events[(m.next-i+len(m.events))%len(m.events)]
		if !q.matches(e) {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out
}

func (q Query) matches(e *Event) bool {
	if len(q.Types) > 0 && !contains(q.Types, e.Type) {
		return false
	}
	if len(q.Outcomes) > 0 && !contains(q.Outcomes, e.Outcome) {
		return false
	}
	if q.UserID != "" && e.UserID != q.UserID {
		return false
	}
	if q.CredentialID != "" && e.CredentialID != q.CredentialID {
		return false
	}
	if !q.Since.IsZero() && e.Timestamp.Before(q.Since) {
		return false
	}
	return true
}

func contains[T comparable](list []T, v T) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
