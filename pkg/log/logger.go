// Package log provides structured logging for multipool services.
// It wraps log/slog with helpers for the job manager's lifecycle events.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Logger wraps slog.Logger with service identity and mining helpers
type Logger struct {
	*slog.Logger
	service string
	version string
}

// ParseLevel maps a textual level to slog.Level, defaulting to info
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

// New creates a logger writing to stdout
func New(service, version, level, format string) *Logger {
	return NewWithWriter(os.Stdout, service, version, level, format)
}

// NewWithWriter creates a logger writing to w. Format is "json" or "text".
func NewWithWriter(w io.Writer, service, version, level, format string) *Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return &Logger{
		Logger:  slog.New(handler).With("service", service, "version", version),
		service: service,
		version: version,
	}
}

// Nop returns a logger that discards everything. Used by tests and libraries
// that are constructed without a logger.
func Nop() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
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

// WithAlgorithm returns a logger tagged with the pool's algorithm
func (l *Logger) WithAlgorithm(algorithm string) *Logger {
	return l.WithFields("algorithm", algorithm)
}

// WithJob returns a logger with job-specific fields
func (l *Logger) WithJob(jobID string, blockHeight int64) *Logger {
	return l.WithFields("job_id", jobID, "block_height", blockHeight)
}

// WithError returns a logger with error context
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithFields("error", err.Error())
}

// LogDuration logs the duration of an operation
func (l *Logger) LogDuration(operation string, d time.Duration) {
	l.Debug("operation completed",
		"operation", operation,
		"duration_ms", float64(d)/float64(time.Millisecond),
	)
}

// LogNewBlock logs a template that replaced the whole job set
func (l *Logger) LogNewBlock(jobID string, height int64, prevHash string) {
	l.Info("new block",
		"job_id", jobID,
		"block_height", height,
		"prev_hash", prevHash,
	)
}

// LogJobDistribution logs a job broadcast to downstream sinks
func (l *Logger) LogJobDistribution(jobID string, blockHeight int64, cleanJobs bool, sinkCount int) {
	l.Info("job distributed",
		"job_id", jobID,
		"block_height", blockHeight,
		"clean_jobs", cleanJobs,
		"sink_count", sinkCount,
	)
}

// LogShareResult logs a share outcome. Rejections are logged at debug level
// since a busy pool produces them continuously.
func (l *Logger) LogShareResult(jobID, worker string, difficulty, shareDiff float64, errCode int, errMsg string) {
	if errCode != 0 {
		l.Debug("share rejected",
			"job_id", jobID,
			"worker", worker,
			"difficulty", difficulty,
			"error_code", errCode,
			"error", errMsg,
		)
		return
	}
	l.Debug("share accepted",
		"job_id", jobID,
		"worker", worker,
		"difficulty", difficulty,
		"share_diff", shareDiff,
	)
}

// LogBlockFound logs a share that met the network target
func (l *Logger) LogBlockFound(blockHash string, blockHeight int64, worker string, shareDiff float64) {
	l.Info("block candidate found",
		"block_hash", blockHash,
		"block_height", blockHeight,
		"worker", worker,
		"share_diff", shareDiff,
	)
}
