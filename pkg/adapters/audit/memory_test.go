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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-seedvault/pkg/adapters/logger"
	"github.com/jeremyhahn/go-seedvault/pkg/correlation"
	"github.com/jeremyhahn/go-seedvault/pkg/types"
)

func TestNewEvent(t *testing.T) {
	ctx := correlation.WithCorrelationID(context.Background(), "corr-1")

	e := NewEvent(ctx, EventSeedStore, "u1", []byte{0xfb, 0xff}, nil)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, OutcomeSuccess, e.Outcome)
	assert.Equal(t, "-_8", e.CredentialID)
	assert.Equal(t, "corr-1", e.CorrelationID)
	assert.Empty(t, e.Reason)

	tests := []struct {
		err     error
		outcome Outcome
		reason  string
	}{
		{types.WrapError("op", types.ErrAuthenticationFailed), OutcomeDenied, "verification_failed"},
		{types.ErrLastCredential, OutcomeFailure, "last_credential"},
		{types.ErrWrappedKeyNotFound, OutcomeFailure, "not_enrolled"},
		{types.NewValidationError("grants", "missing"), OutcomeFailure, "invalid_request"},
		{errors.New("disk full"), OutcomeFailure, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			e := NewEvent(context.Background(), EventSeedRetrieve, "u1", nil, tt.err)
			assert.Equal(t, tt.outcome, e.Outcome)
			assert.Equal(t, tt.reason, e.Reason)
			assert.Empty(t, e.CredentialID)
		})
	}
}

func TestMemoryRecorder_RecordAndQuery(t *testing.T) {
	m := NewMemoryRecorder(0)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, m.Record(ctx, &Event{ID: "1", Type: EventSeedStore, Outcome: OutcomeSuccess, UserID: "a", Timestamp: base}))
	require.NoError(t, m.Record(ctx, &Event{ID: "2", Type: EventSeedRetrieve, Outcome: OutcomeDenied, UserID: "a", Timestamp: base.Add(time.Minute)}))
	require.NoError(t, m.Record(ctx, &Event{ID: "3", Type: EventSeedRetrieve, Outcome: OutcomeSuccess, UserID: "b", Timestamp: base.Add(2 * time.Minute)}))
	assert.Error(t, m.Record(ctx, nil))
	assert.Equal(t, 3, m.Len())

	ids := func(events []*Event) []string {
		var out []string
		for _, e := range events {
			out = append(out, e.ID)
		}
		return out
	}

	assert.Equal(t, []string{"3", "2", "1"}, ids(m.Events(Query{})))
	assert.Equal(t, []string{"3", "2"}, ids(m.Events(Query{Types: []EventType{EventSeedRetrieve}})))
	assert.Equal(t, []string{"2"}, ids(m.Events(Query{Outcomes: []Outcome{OutcomeDenied}})))
	assert.Equal(t, []string{"2", "1"}, ids(m.Events(Query{UserID: "a"})))
	assert.Equal(t, []string{"3", "2"}, ids(m.Events(Query{Since: base.Add(time.Minute)})))
	assert.Equal(t, []string{"3"}, ids(m.Events(Query{Limit: 1})))
}

func TestMemoryRecorder_Wraps(t *testing.T) {
	m := NewMemoryRecorder(3)
	for i := 0; i < 5; i++ {
		require.NoError(t, m.Record(context.Background(), &Event{ID: fmt.Sprint(i), Type: EventSeedStore}))
	}
	assert.Equal(t, 3, m.Len())

	events := m.Events(Query{})
	require.Len(t, events, 3)
	assert.Equal(t, "4", events[0].ID)
	assert.Equal(t, "2", events[2].ID)
}

func TestMemoryRecorder_ReturnsCopies(t *testing.T) {
	m := NewMemoryRecorder(2)
	e := &Event{ID: "1", Type: EventSeedDelete}
	require.NoError(t, m.Record(context.Background(), e))
	e.UserID = "changed"

	got := m.Events(Query{})
	require.Len(t, got, 1)
	assert.Empty(t, got[0].UserID)
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestLogRecorder(t *testing.T) {
	var buf bytes.Buffer
	l := logger.NewSlogAdapter(&logger.SlogConfig{Handler: logger.NewHandler(&buf, "json", logger.LevelInfo)})
	r := NewLogRecorder(l)

	require.NoError(t, r.Record(context.Background(), &Event{ID: "1", Type: EventSeedStore, Outcome: OutcomeSuccess, UserID: "u1"}))
	require.NoError(t, r.Record(context.Background(), &Event{ID: "2", Type: EventSeedRetrieve, Outcome: OutcomeDenied, Reason: "verification_failed"}))
	assert.Error(t, r.Record(context.Background(), nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first, second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "INFO", first["level"])
	assert.Equal(t, "audit", first["component"])
	assert.Equal(t, "seed.store", first["event"])
	assert.Equal(t, "u1", first["user_id"])
	assert.Equal(t, "WARN", second["level"])
	assert.Equal(t, "verification_failed", second["reason"])
}

type failing struct{}

func (failing) Record(context.Context, *Event) error { return errors.New("unavailable") }

func TestMulti(t *testing.T) {
	m := NewMemoryRecorder(4)
	err := Multi{Nop{}, m, failing{}}.Record(context.Background(), &Event{ID: "1"})
	assert.ErrorContains(t, err, "unavailable")
	assert.Equal(t, 1, m.Len())
}
