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

package health

import (
	"context"
	"fmt"
)

// Pinger is implemented by *storage.Store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseCheck reports the store unhealthy when a ping fails.
func DatabaseCheck(db Pinger) CheckFunc {
	return func(ctx context.Context) CheckResult {
		if err := db.Ping(ctx); err != nil {
			return CheckResult{Name: "database", Status: StatusUnhealthy, Message: "database unreachable", Error: err.Error()}
		}
		return CheckResult{Name: "database", Status: StatusHealthy, Message: "database reachable"}
	}
}

// SecureMemoryCheck reports degraded when more than limit seeds are held in
// secure memory at once. A non-positive limit never degrades.
func SecureMemoryCheck(held func() int, limit int) CheckFunc {
	return func(ctx context.Context) CheckResult {
		n := held()
		if limit > 0 && n > limit {
			return CheckResult{
				Name:    "secure_memory",
				Status:  StatusDegraded,
				Message: fmt.Sprintf("%d seeds held, limit %d", n, limit),
			}
		}
		return CheckResult{Name: "secure_memory", Status: StatusHealthy, Message: fmt.Sprintf("%d seeds held", n)}
	}
}
