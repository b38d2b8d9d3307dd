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
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Response is the body of every probe endpoint.
type Response struct {
	Status  Status        `json:"status"`
	Message string        `json:"message,omitempty"`
	Checks  []CheckResult `json:"checks,omitempty"`
}

// Mount registers GET {path}/live, {path}/ready and {path}/startup.
func Mount(r chi.Router, path string, c *Checker) {
	r.Route(path, func(r chi.Router) {
		r.Get("/live", c.LivenessHandler)
		r.Get("/ready", c.ReadinessHandler)
		r.Get("/startup", c.StartupHandler)
	})
}

// LivenessHandler serves the liveness probe.
func (c *Checker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	result := c.Live(r.Context())
	write(w, Response{Status: result.Status, Message: result.Message})
}

// ReadinessHandler runs every check. Degraded still answers 200 so the
// instance keeps receiving traffic.
func (c *Checker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	results := c.Ready(r.Context())
	resp := Response{Status: AggregateStatus(results), Checks: results}
	switch resp.Status {
	case StatusHealthy:
		resp.Message = "All checks passed"
	case StatusDegraded:
		resp.Message = "Service is degraded"
	default:
		resp.Message = "One or more checks failed"
	}
	write(w, resp)
}

// StartupHandler serves the startup probe.
func (c *Checker) StartupHandler(w http.ResponseWriter, r *http.Request) {
	result := c.Startup(r.Context())
	write(w, Response{Status: result.Status, Message: result.Message})
}

func write(w http.ResponseWriter, resp Response) {
	code := http.StatusOK
	if resp.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
