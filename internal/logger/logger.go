// Package logger provides structured logging using slog.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// RequestIDKey is the context key for the inbound HTTP request ID.
	RequestIDKey contextKey = "request_id"
	// RawEntryIDKey is the context key for the raw feed entry being processed.
	RawEntryIDKey contextKey = "raw_entry_id"
	// CVEKey is the context key for the CVE identifier under processing.
	CVEKey contextKey = "cve"
)

// Logger wraps slog.Logger with additional functionality.
type Logger struct {
	*slog.Logger
}

// New creates a new logger with the given configuration.
func New(level, format string) *Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level:     parseLevel(level),
		AddSource: true,
	}

	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return &Logger{Logger: logger}
}

// parseLevel parses a log level string into slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithContext returns a logger with context values attached.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	attrs := []any{}

	if reqID, ok := ctx.Value(RequestIDKey).(string); ok && reqID != "" {
		attrs = append(attrs, slog.String("request_id", reqID))
	}

	if rawID, ok := ctx.Value(RawEntryIDKey).(string); ok && rawID != "" {
		attrs = append(attrs, slog.String("raw_entry_id", rawID))
	}

	if cve, ok := ctx.Value(CVEKey).(string); ok && cve != "" {
		attrs = append(attrs, slog.String("cve", cve))
	}

	if len(attrs) == 0 {
		return l
	}

	return &Logger{Logger: l.With(attrs...)}
}

// WithRequestID returns a logger with the request ID attached.
func (l *Logger) WithRequestID(requestID string) *Logger {
	return &Logger{Logger: l.With(slog.String("request_id", requestID))}
}

// WithRawEntry returns a logger with the raw entry ID attached.
func (l *Logger) WithRawEntry(rawEntryID string) *Logger {
	return &Logger{Logger: l.With(slog.String("raw_entry_id", rawEntryID))}
}

// WithCVE returns a logger with the CVE identifier attached.
func (l *Logger) WithCVE(cve string) *Logger {
	return &Logger{Logger: l.With(slog.String("cve", cve))}
}

// WithService returns a logger with the service name attached.
func (l *Logger) WithService(service string) *Logger {
	return &Logger{Logger: l.With(slog.String("service", service))}
}

// WithComponent returns a logger with the component name attached.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{Logger: l.With(slog.String("component", component))}
}

// WithProvider returns a logger with the LLM provider name attached.
func (l *Logger) WithProvider(provider string) *Logger {
	return &Logger{Logger: l.With(slog.String("provider", provider))}
}

// WithError returns a logger with the error attached.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return &Logger{Logger: l.With(slog.String("error", err.Error()))}
}

// InfoContext logs an info message with context-scoped fields.
func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.WithContext(ctx).Info(msg, args...)
}

// ErrorContext logs an error message with context-scoped fields.
func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.WithContext(ctx).Error(msg, args...)
}

// DebugContext logs a debug message with context-scoped fields.
func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.WithContext(ctx).Debug(msg, args...)
}

// WarnContext logs a warning message with context-scoped fields.
func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.WithContext(ctx).Warn(msg, args...)
}

// SetContextValue sets a value in the context under one of the known keys.
func SetContextValue(ctx context.Context, key contextKey, value string) context.Context {
	return context.WithValue(ctx, key, value)
}

// GetRequestID gets the request ID from context.
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(RequestIDKey).(string); ok {
		return v
	}
	return ""
}

// GetRawEntryID gets the raw entry ID from context.
func GetRawEntryID(ctx context.Context) string {
	if v, ok := ctx.Value(RawEntryIDKey).(string); ok {
		return v
	}
	return ""
}

// GetCVE gets the CVE identifier from context.
func GetCVE(ctx context.Context) string {
	if v, ok := ctx.Value(CVEKey).(string); ok {
		return v
	}
	return ""
}
