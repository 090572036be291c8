// Package logger builds the gateway's zerolog loggers and carries them
// through request contexts. Account identifiers and callback secrets
// never reach the logs unmasked; the helpers at the bottom are the only
// sanctioned way to log either.
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type contextKey string

const (
	loggerKey    contextKey = "logger"
	requestIDKey contextKey = "request_id"
)

// Config selects the log level, output format and the global fields
// stamped on every line.
type Config struct {
	Level       string // debug, info, warn, error
	Format      string // json, console
	Service     string
	Version     string
	Environment string
}

// New builds the root logger. Global fields left empty in cfg are
// omitted rather than logged blank.
func New(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	var output io.Writer = os.Stdout
	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
			NoColor:    false,
		}
	}

	base := zerolog.New(output).With().Timestamp()
	if cfg.Service != "" {
		base = base.Str("service", cfg.Service)
	}
	if cfg.Version != "" {
		base = base.Str("version", cfg.Version)
	}
	if cfg.Environment != "" {
		base = base.Str("environment", cfg.Environment)
	}
	return base.Logger()
}

// WithContext stores the logger for retrieval in handlers.
func WithContext(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the request logger, or a disabled logger when
// the context carries none.
func FromContext(ctx context.Context) zerolog.Logger {
	if ctx == nil {
		return zerolog.Nop()
	}
	if logger, ok := ctx.Value(loggerKey).(zerolog.Logger); ok {
		return logger
	}
	return zerolog.Nop()
}

// WithRequestID stores the request id for tracing.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID retrieves the request id from context.
func GetRequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		return requestID
	}
	return ""
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

// MaskAccount masks an account identifier, keeping the last 4
// characters for correlation.
func MaskAccount(account string) string {
	if len(account) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(account)-4) + account[len(account)-4:]
}

// MaskSecret fully redacts a callback secret while preserving its length
// class so misconfigured (too short) secrets are still spottable in logs.
func MaskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) < 32 {
		return "[redacted-short]"
	}
	return "[redacted]"
}
