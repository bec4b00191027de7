// Package log provides structured logging for the miner.
// It wraps the standard library's slog package with mining-specific helpers.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger with service context and convenience methods
type Logger struct {
	*slog.Logger
	service string
	version string
}

// New creates a logger writing to stdout
func New(service, version, level, format string) *Logger {
	return NewWithWriter(os.Stdout, service, version, level, format)
}

// NewWithWriter creates a logger writing to w
func NewWithWriter(w io.Writer, service, version, level, format string) *Logger {
	logLevel := ParseLevel(level)

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel == slog.LevelDebug,
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler).With(
			"service", service,
			"version", version,
		),
		service: service,
		version: version,
	}
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *Logger {
	return NewWithWriter(io.Discard, "test", "test", "error", "json")
}

// ParseLevel maps a level name to a slog level, defaulting to info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{
		Logger:  l.With(fields...),
		service: l.service,
		version: l.version,
	}
}

// WithComponent returns a logger with a component field
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithFields("component", component)
}

// WithMiner returns a logger tagged with the mining authority
func (l *Logger) WithMiner(publicKey string) *Logger {
	return l.WithFields("miner", publicKey)
}

// WithBus returns a logger tagged with a submission bus
func (l *Logger) WithBus(busID int) *Logger {
	return l.WithFields("bus", busID)
}

// WithError returns a logger with error context
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithFields("error", err.Error())
}

// LogDuration logs the duration of an operation
func (l *Logger) LogDuration(operation string, duration int64) {
	l.Info("operation completed",
		"operation", operation,
		"duration_ns", duration,
		"duration_ms", float64(duration)/1e6,
	)
}

// LogSearchProgress logs periodic hash search progress (debug level)
func (l *Logger) LogSearchProgress(attempts, nonce uint64, hashrate float64) {
	l.Debug("search progress",
		"attempts", attempts,
		"nonce", nonce,
		"hashrate", hashrate,
	)
}

// LogSolutionFound logs a nonce satisfying the difficulty target
func (l *Logger) LogSolutionFound(hash string, nonce, attempts uint64, durationNs int64) {
	l.Info("solution found",
		"hash", hash,
		"nonce", nonce,
		"attempts", attempts,
		"duration_ms", float64(durationNs)/1e6,
	)
}

// LogSubmission logs the outcome of a mine transaction
func (l *Logger) LogSubmission(signature string, busID, attempts int, status string) {
	l.Info("mine submission",
		"signature", signature,
		"bus", busID,
		"attempts", attempts,
		"status", status,
	)
}

// LogEpochReset logs a reset-epoch transaction
func (l *Logger) LogEpochReset(epochStartAt, epochEndAt, now int64) {
	l.Info("epoch reset",
		"epoch_start_at", epochStartAt,
		"epoch_end_at", epochEndAt,
		"clock", now,
	)
}

// LogPhase logs a session phase transition (debug level)
func (l *Logger) LogPhase(from, to string) {
	l.Debug("phase transition",
		"from", from,
		"to", to,
	)
}
