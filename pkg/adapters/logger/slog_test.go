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

package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jeremyhahn/go-seedvault/pkg/correlation"
)

func newJSONLogger(level Level) (*SlogAdapter, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewSlogAdapter(&SlogConfig{Handler: NewHandler(&buf, "json", level)}), &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(999), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.level.String(); got != tt.expected {
				t.Errorf("Level.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{" error ", LevelError, false},
		{"trace", LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestSlogAdapter_LevelFiltering(t *testing.T) {
	l, buf := newJSONLogger(LevelWarn)

	l.Debug("debug")
	l.Info("info")
	l.Warn("warn")
	l.Error("error")

	lines := decodeLines(t, buf)
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %s", len(lines), buf.String())
	}
	if lines[0]["level"] != "WARN" || lines[1]["level"] != "ERROR" {
		t.Errorf("unexpected levels: %v, %v", lines[0]["level"], lines[1]["level"])
	}
}

func TestSlogAdapter_Fields(t *testing.T) {
	l, buf := newJSONLogger(LevelDebug)

	l.With(UserID("u1")).Info("stored",
		CredentialID([]byte{0xfb, 0xff}),
		Uint32("sign_count", 7),
		Bool("primary", true),
		Duration("ttl", time.Second),
		Strings("transports", []string{"usb"}),
		Error(errors.New("boom")),
	)

	lines := decodeLines(t, buf)
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	m := lines[0]
	if m["user_id"] != "u1" {
		t.Errorf("user_id = %v", m["user_id"])
	}
	if m["credential_id"] != "-_8" {
		t.Errorf("credential_id = %v, want base64url", m["credential_id"])
	}
	if m["sign_count"] != float64(7) {
		t.Errorf("sign_count = %v", m["sign_count"])
	}
	if m["error"] != "boom" {
		t.Errorf("error = %v", m["error"])
	}
	if m["primary"] != true {
		t.Errorf("primary = %v", m["primary"])
	}
}

func TestSlogAdapter_WithErrorAndChaining(t *testing.T) {
	l, buf := newJSONLogger(LevelDebug)

	child := l.With(String("a", "1")).With(String("b", "2")).WithError(errors.New("bad"))
	child.Warn("chained")

	m := decodeLines(t, buf)[0]
	if m["a"] != "1" || m["b"] != "2" || m["error"] != "bad" {
		t.Errorf("chained fields missing: %v", m)
	}
}

func TestSlogAdapter_WithContext(t *testing.T) {
	l, buf := newJSONLogger(LevelDebug)

	ctx := correlation.WithCorrelationID(context.Background(), "corr-1")
	l.WithContext(ctx).Info("with id")
	l.WithContext(context.Background()).Info("without id")

	lines := decodeLines(t, buf)
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if lines[0]["correlation_id"] != "corr-1" {
		t.Errorf("correlation_id = %v", lines[0]["correlation_id"])
	}
	if _, ok := lines[1]["correlation_id"]; ok {
		t.Error("unexpected correlation_id without context id")
	}
}

func TestNewHandler_Text(t *testing.T) {
	var buf bytes.Buffer
	l := NewSlogAdapter(&SlogConfig{Handler: NewHandler(&buf, "text", LevelInfo)})
	l.Info("hello", String("k", "v"))

	if !strings.Contains(buf.String(), "msg=hello") || !strings.Contains(buf.String(), "k=v") {
		t.Errorf("unexpected text output: %q", buf.String())
	}
}

func TestOrDiscard(t *testing.T) {
	if OrDiscard(nil) == nil {
		t.Fatal("OrDiscard(nil) returned nil")
	}
	// Must not panic.
	OrDiscard(nil).With(String("k", "v")).Error("dropped")

	l, _ := newJSONLogger(LevelInfo)
	if OrDiscard(l) != Logger(l) {
		t.Error("OrDiscard should return the given logger")
	}
}

func TestNewHandlerVar(t *testing.T) {
	var buf bytes.Buffer
	lv := NewLevelVar(LevelWarn)
	l := NewSlogAdapter(&SlogConfig{Handler: NewHandlerVar(&buf, "json", lv)})

	l.Info("dropped")
	SetLevel(lv, LevelDebug)
	l.Debug("kept")

	lines := decodeLines(t, &buf)
	if len(lines) != 1 || lines[0]["msg"] != "kept" {
		t.Errorf("unexpected lines after level change: %v", lines)
	}
}
