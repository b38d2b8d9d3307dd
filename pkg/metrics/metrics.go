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

// Package metrics exposes Prometheus collectors for ceremonies, vault
// operations, secure memory and the HTTP adapter.
//
// Recording is a no-op while metrics are disabled.
package metrics

import (
	"errors"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jeremyhahn/go-seedvault/pkg/types"
)

const (
	// Namespace is the Prometheus namespace for all seedvault metrics
	Namespace = "seedvault"

	LabelCeremony   = "ceremony"
	LabelOperation  = "operation"
	LabelStatus     = "status"
	LabelMethod     = "method"
	LabelRoute      = "route"
	LabelStatusCode = "status_code"

	CeremonyRegistration   = "registration"
	CeremonyAuthentication = "authentication"

	StatusSuccess     = "success"
	StatusError       = "error"
	StatusInvalid     = "invalid"
	StatusExpired     = "expired"
	StatusNoChallenge = "no_challenge"
	StatusFailed      = "verification_failed"
	StatusDenied      = "denied"

	OpStoreSeed        = "store_seed"
	OpRetrieveSeed     = "retrieve_seed"
	OpEnrollCredential = "enroll_credential"
	OpRevokeCredential = "revoke_credential"
	OpRotateSalt       = "rotate_salt"
	OpCompleteRotation = "complete_rotation"
)

var (
	CeremoniesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ceremonies_total",
			Help:      "Completed WebAuthn ceremonies by type and outcome",
		},
		[]string{LabelCeremony, LabelStatus},
	)

	CloneWarningsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "clone_warnings_total",
			Help:      "Assertions whose signature counter did not advance",
		},
	)

	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "operations_total",
			Help:      "Vault operations by type and outcome",
		},
		[]string{LabelOperation, LabelStatus},
	)

	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of vault operations in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{LabelOperation},
	)

	SecureMemoryHeld = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "secmem",
			Name:      "held",
			Help:      "Decrypted values currently held in secure memory",
		},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code",
		},
		[]string{LabelMethod, LabelRoute, LabelStatusCode},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelMethod, LabelRoute},
	)

	HTTPInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "HTTP requests currently being served",
		},
	)

	RateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter",
		},
	)

	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	MemoryAllocBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "memory_alloc_bytes",
			Help:      "Current bytes of allocated heap objects",
		},
	)

	ServerUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "server_uptime_seconds",
			Help:      "Server uptime in seconds since startup",
		},
	)

	enabled atomic.Bool
)

func init() {
	enabled.Store(true)
}

// StatusFor maps an operation result to a status label.
func StatusFor(err error) string {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, types.ErrValidation):
		return StatusInvalid
	case errors.Is(err, types.ErrExpiredChallenge):
		return StatusExpired
	case errors.Is(err, types.ErrNoActiveChallenge):
		return StatusNoChallenge
	case errors.Is(err, types.ErrAuthenticationFailed):
		return StatusFailed
	case errors.Is(err, types.ErrLimitExceeded), errors.Is(err, types.ErrLastCredential):
		return StatusDenied
	default:
		return StatusError
	}
}

// RecordCeremony counts a completed ceremony.
func RecordCeremony(ceremony string, err error) {
	if !enabled.Load() {
		return
	}
	CeremoniesTotal.WithLabelValues(ceremony, StatusFor(err)).Inc()
}

// RecordCloneWarning counts an assertion with a stale signature counter.
func RecordCloneWarning() {
	if !enabled.Load() {
		return
	}
	CloneWarningsTotal.Inc()
}

// RecordOperation counts a vault operation and observes its duration.
func RecordOperation(operation string, err error, duration float64) {
	if !enabled.Load() {
		return
	}
	OperationsTotal.WithLabelValues(operation, StatusFor(err)).Inc()
	OperationDuration.WithLabelValues(operation).Observe(duration)
}

// SetSecureMemoryHeld sets the secure memory gauge.
func SetSecureMemoryHeld(n int) {
	if !enabled.Load() {
		return
	}
	SecureMemoryHeld.Set(float64(n))
}

// RecordHTTPRequest records a served HTTP request.
func RecordHTTPRequest(method, route, statusCode string, duration float64) {
	if !enabled.Load() {
		return
	}
	HTTPRequestsTotal.WithLabelValues(method, route, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration)
}

// RecordRateLimited counts a rejected request.
func RecordRateLimited() {
	if !enabled.Load() {
		return
	}
	RateLimitedTotal.Inc()
}

// Enable turns recording on.
func Enable() {
	enabled.Store(true)
}

// Disable turns recording off.
func Disable() {
	enabled.Store(false)
}

// IsEnabled reports whether recording is on.
func IsEnabled() bool {
	return enabled.Load()
}
