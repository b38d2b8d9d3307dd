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
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func healthy(name string) CheckFunc {
	return func(ctx context.Context) CheckResult {
		return CheckResult{Name: name, Status: StatusHealthy}
	}
}

func TestRegisterCheck(t *testing.T) {
	checker := NewChecker()
	checker.RegisterCheck("b", healthy("b"))
	checker.RegisterCheck("a", healthy("a"))
	checker.RegisterCheck("nil", nil)

	if got := checker.Checks(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("Checks() = %v", got)
	}

	checker.UnregisterCheck("a")
	if got := checker.Checks(); !reflect.DeepEqual(got, []string{"b"}) {
		t.Errorf("Checks() after unregister = %v", got)
	}
}

func TestReady(t *testing.T) {
	checker := NewChecker()

	results := checker.Ready(context.Background())
	if len(results) != 1 || results[0].Name != "default" || results[0].Status != StatusHealthy {
		t.Fatalf("unexpected default result: %+v", results)
	}

	checker.RegisterCheck("database", DatabaseCheck(pinger{}))
	checker.RegisterCheck("unnamed", func(ctx context.Context) CheckResult {
		return CheckResult{Status: StatusDegraded}
	})

	results = checker.Ready(context.Background())
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Name != "database" || results[1].Name != "unnamed" {
		t.Errorf("results not sorted or unnamed check not named: %+v", results)
	}
	if AggregateStatus(results) != StatusDegraded {
		t.Errorf("AggregateStatus = %s, want degraded", AggregateStatus(results))
	}
}

func TestReady_Timeout(t *testing.T) {
	checker := NewChecker(WithTimeout(20 * time.Millisecond))
	checker.RegisterCheck("slow", func(ctx context.Context) CheckResult {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return CheckResult{Status: StatusHealthy}
	})

	start := time.Now()
	results := checker.Ready(context.Background())
	if time.Since(start) > time.Second {
		t.Error("Ready did not honor the check timeout")
	}
	if results[0].Status != StatusUnhealthy || results[0].Error == "" {
		t.Errorf("timed out check = %+v", results[0])
	}
}

func TestStartupAndUptime(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	checker := NewChecker(WithClock(func() time.Time { return now }))

	if checker.Startup(context.Background()).Status != StatusUnhealthy {
		t.Error("startup should fail before MarkStarted")
	}
	checker.MarkStarted()
	now = now.Add(90 * time.Second)
	if !checker.IsStarted() || checker.Startup(context.Background()).Status != StatusHealthy {
		t.Error("startup should pass after MarkStarted")
	}
	if checker.Uptime() != 90*time.Second {
		t.Errorf("Uptime() = %v", checker.Uptime())
	}
	checker.MarkNotStarted()
	if checker.IsStarted() {
		t.Error("MarkNotStarted did not clear the flag")
	}
}

func TestAggregateStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []Status
		want     Status
	}{
		{"empty", nil, StatusHealthy},
		{"healthy", []Status{StatusHealthy, StatusHealthy}, StatusHealthy},
		{"degraded", []Status{StatusHealthy, StatusDegraded}, StatusDegraded},
		{"unhealthy wins", []Status{StatusDegraded, StatusUnhealthy, StatusHealthy}, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var results []CheckResult
			for _, s := range tt.statuses {
				results = append(results, CheckResult{Status: s})
			}
			if got := AggregateStatus(results); got != tt.want {
				t.Errorf("AggregateStatus() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestChecks(t *testing.T) {
	ctx := context.Background()

	if r := DatabaseCheck(pinger{errors.New("refused")})(ctx); r.Status != StatusUnhealthy || r.Error != "refused" {
		t.Errorf("DatabaseCheck failure = %+v", r)
	}

	held := 3
	check := SecureMemoryCheck(func() int { return held }, 2)
	if r := check(ctx); r.Status != StatusDegraded {
		t.Errorf("SecureMemoryCheck over limit = %+v", r)
	}
	held = 2
	if r := check(ctx); r.Status != StatusHealthy {
		t.Errorf("SecureMemoryCheck at limit = %+v", r)
	}
	if r := SecureMemoryCheck(func() int { return 100 }, 0)(ctx); r.Status != StatusHealthy {
		t.Errorf("unlimited SecureMemoryCheck = %+v", r)
	}
}

func TestHandlers(t *testing.T) {
	checker := NewChecker()
	failing := pinger{errors.New("down")}
	checker.RegisterCheck("database", DatabaseCheck(failing))

	r := chi.NewRouter()
	Mount(r, "/health", checker)

	tests := []struct {
		path   string
		code   int
		status Status
	}{
		{"/health/live", http.StatusOK, StatusHealthy},
		{"/health/ready", http.StatusServiceUnavailable, StatusUnhealthy},
		{"/health/startup", http.StatusServiceUnavailable, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.code {
				t.Errorf("code = %d, want %d", rec.Code, tt.code)
			}
			var resp Response
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatal(err)
			}
			if resp.Status != tt.status {
				t.Errorf("status = %s, want %s", resp.Status, tt.status)
			}
		})
	}

	checker.MarkStarted()
	checker.RegisterCheck("database", DatabaseCheck(pinger{}))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("ready after recovery = %d", rec.Code)
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Error("probe responses must not be cached")
	}
}
