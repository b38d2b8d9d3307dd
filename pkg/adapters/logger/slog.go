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
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/jeremyhahn/go-seedvault/pkg/correlation"
)

// SlogAdapter wraps a slog.Logger to implement the Logger interface
type SlogAdapter struct {
	logger *slog.Logger
	ctx    context.Context
}

// SlogConfig configures the slog adapter
type SlogConfig struct {
	// Logger is the underlying slog logger. If nil, one is built from Handler.
	Logger *slog.Logger

	// Level is the minimum log level to output
	Level Level

	// Handler is the slog handler to use. If nil and Logger is nil, a
	// TextHandler writing to os.Stderr is used.
	Handler slog.Handler

	// AddSource adds source code position to log records
	AddSource bool
}

// NewSlogAdapter creates a new slog adapter
func NewSlogAdapter(config *SlogConfig) *SlogAdapter {
	if config == nil {
		config = &SlogConfig{}
	}

	l := config.Logger
	if l == nil {
		h := config.Handler
		if h == nil {
			h = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level:     levelToSlogLevel(config.Level),
				AddSource: config.AddSource,
			})
		}
		l = slog.New(h)
	}

	return &SlogAdapter{logger: l, ctx: context.Background()}
}

// NewHandler builds a JSON or text handler. Any format other than "json"
// selects text.
func NewHandler(w io.Writer, format string, level Level) slog.Handler {
	return newHandler(w, format, levelToSlogLevel(level))
}

// NewLevelVar returns a slog.LevelVar set to level. Handlers built with
// NewHandlerVar follow later SetLevel calls.
func NewLevelVar(level Level) *slog.LevelVar {
	lv := new(slog.LevelVar)
	SetLevel(lv, level)
	return lv
}

// SetLevel changes a level var built by NewLevelVar.
func SetLevel(lv *slog.LevelVar, level Level) {
	lv.Set(levelToSlogLevel(level))
}

// NewHandlerVar is NewHandler with a level that can change at runtime.
func NewHandlerVar(w io.Writer, format string, level *slog.LevelVar) slog.Handler {
	return newHandler(w, format, level)
}

func newHandler(w io.Writer, format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// Discard returns a logger that drops every record.
func Discard() Logger {
	return NewSlogAdapter(&SlogConfig{Handler: slog.DiscardHandler})
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l Logger) Logger {
	if l == nil {
		return Discard()
	}
	return l
}

// Debug logs a debug message
func (l *SlogAdapter) Debug(msg string, fields ...Field) {
	l.log(slog.LevelDebug, msg, fields)
}

// Info logs an informational message
func (l *SlogAdapter) Info(msg string, fields ...Field) {
	l.log(slog.LevelInfo, msg, fields)
}

// Warn logs a warning message
func (l *SlogAdapter) Warn(msg string, fields ...Field) {
	l.log(slog.LevelWarn, msg, fields)
}

// Error logs an error message
func (l *SlogAdapter) Error(msg string, fields ...Field) {
	l.log(slog.LevelError, msg, fields)
}

// With creates a child logger with the given fields
func (l *SlogAdapter) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	return &SlogAdapter{
		logger: l.logger.With(attrsToAny(toAttrs(fields))...),
		ctx:    l.ctx,
	}
}

// WithError creates a child logger with an error field
func (l *SlogAdapter) WithError(err error) Logger {
	return l.With(Error(err))
}

// WithContext returns a child logger that carries ctx to the handler and
// tags records with the context's correlation id.
func (l *SlogAdapter) WithContext(ctx context.Context) Logger {
	if ctx == nil {
		return l
	}
	child := &SlogAdapter{logger: l.logger, ctx: ctx}
	if id := correlation.GetCorrelationID(ctx); id != "" {
		child.logger = child.logger.With(slog.String("correlation_id", id))
	}
	return child
}

func (l *SlogAdapter) log(level slog.Level, msg string, fields []Field) {
	if !l.logger.Enabled(l.ctx, level) {
		return
	}
	l.logger.LogAttrs(l.ctx, level, msg, toAttrs(fields)...)
}

func toAttrs(fields []Field) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(fields))
	for _, f := range fields {
		attrs = append(attrs, fieldToAttr(f))
	}
	return attrs
}

// fieldToAttr converts a Field to slog.Attr
func fieldToAttr(field Field) slog.Attr {
	switch v := field.Value.(type) {
	case string:
		return slog.String(field.Key, v)
	case int:
		return slog.Int(field.Key, v)
	case int64:
		return slog.Int64(field.Key, v)
	case bool:
		return slog.Bool(field.Key, v)
	case error:
		if v == nil {
			return slog.Any(field.Key, nil)
		}
		return slog.String(field.Key, v.Error())
	default:
		return slog.Any(field.Key, v)
	}
}

func attrsToAny(attrs []slog.Attr) []any {
	result := make([]any, len(attrs))
	for i, attr := range attrs {
		result[i] = attr
	}
	return result
}

func levelToSlogLevel(level Level) slog.Level {
	switch level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
