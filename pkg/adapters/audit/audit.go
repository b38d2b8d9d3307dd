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

// Package audit records security-relevant vault events.
//
// Events never carry secret material. They identify the user, the
// credential and the outcome of an operation so that seed access can be
// reviewed after the fact.
package audit

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-seedvault/pkg/adapters/logger"
	"github.com/jeremyhahn/go-seedvault/pkg/correlation"
	"github.com/jeremyhahn/go-seedvault/pkg/types"
)

// EventType categorizes an event.
type EventType string

const (
	EventSeedStore        EventType = "seed.store"
	EventSeedRetrieve     EventType = "seed.retrieve"
	EventSeedDelete       EventType = "seed.delete"
	EventCredentialEnroll EventType = "credential.enroll"
	EventCredentialRevoke EventType = "credential.revoke"
	EventSaltRotate       EventType = "salt.rotate"
	EventSaltRewrap       EventType = "salt.rewrap"
)

// Outcome reports whether the audited operation succeeded.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeDenied  Outcome = "denied"
)

// Event is one audit record.
type Event struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Type          EventType `json:"type"`
	Outcome       Outcome   `json:"outcome"`
	UserID        string    `json:"user_id,omitempty"`
	CredentialID  string    `json:"credential_id,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`

	// Reason is the error code of a failed operation.
	Reason string `json:"reason,omitempty"`
}

// Recorder stores audit events. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Record(ctx context.Context, e *Event) error
}

// NewEvent builds an event for an operation that returned err. A
// verification failure is reported as denied; any other error as failure.
func NewEvent(ctx context.Context, typ EventType, userID string, credentialID []byte, err error) *Event {
	e := &Event{
		ID:            uuid.NewString(),
		Timestamp:     time.Now().UTC(),
		Type:          typ,
		Outcome:       OutcomeSuccess,
		UserID:        userID,
		CorrelationID: correlation.GetCorrelationID(ctx),
	}
	if len(credentialID) > 0 {
		e.CredentialID = base64.RawURLEncoding.EncodeToString(credentialID)
	}
	if err != nil {
		e.Outcome = OutcomeFailure
		if errors.Is(err, types.ErrAuthenticationFailed) {
			e.Outcome = OutcomeDenied
		}
		e.Reason = reason(err)
	}
	return e
}

var reasons = []struct {
	err  error
	code string
}{
	{types.ErrAuthenticationFailed, "verification_failed"},
	{types.ErrExpiredChallenge, "challenge_expired"},
	{types.ErrNoActiveChallenge, "no_active_challenge"},
	{types.ErrPossibleCloneDetected, "clone_detected"},
	{types.ErrLastCredential, "last_credential"},
	{types.ErrLimitExceeded, "limit_exceeded"},
	{types.ErrUserNotFound, "user_not_found"},
	{types.ErrCredentialNotFound, "credential_not_found"},
	{types.ErrSeedNotFound, "seed_not_found"},
	{types.ErrWrappedKeyNotFound, "not_enrolled"},
	{types.ErrSaltNotFound, "not_enrolled"},
	{types.ErrCapabilityUnavailable, "capability_unavailable"},
	{types.ErrExpired, "handle_expired"},
	{types.ErrValidation, "invalid_request"},
}

func reason(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.code
		}
	}
	return "internal_error"
}

// Nop discards every event.
type Nop struct{}

func (Nop) Record(context.Context, *Event) error { return nil }

// LogRecorder writes events to a structured logger.
type LogRecorder struct {
	logger logger.Logger
}

// NewLogRecorder returns a recorder that logs each event at Info, or at
// Warn when the operation did not succeed.
func NewLogRecorder(l logger.Logger) *LogRecorder {
	return &LogRecorder{logger: logger.OrDiscard(l).With(logger.String("component", "audit"))}
}

func (r *LogRecorder) Record(_ context.Context, e *Event) error {
	if e == nil {
		return errors.New("audit: nil event")
	}
	fields := []logger.Field{
		logger.String("event_id", e.ID),
		logger.String("event", string(e.Type)),
		logger.String("outcome", string(e.Outcome)),
	}
	if e.UserID != "" {
		fields = append(fields, logger.UserID(e.UserID))
	}
	if e.CredentialID != "" {
		fields = append(fields, logger.String("credential_id", e.CredentialID))
	}
	if e.CorrelationID != "" {
		fields = append(fields, logger.String("correlation_id", e.CorrelationID))
	}
	if e.Reason != "" {
		fields = append(fields, logger.String("reason", e.Reason))
	}
	if e.Outcome == OutcomeSuccess {
		r.logger.Info("audit", fields...)
	} else {
		r.logger.Warn("audit", fields...)
	}
	return nil
}

// Multi fans an event out to several recorders and joins their errors.
type Multi []Recorder

func (m Multi) Record(ctx context.Context, e *Event) error {
	var errs []error
	for _, r := range m {
		if err := r.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
