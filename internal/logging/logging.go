// Package logging provides structured logging for the entity resolution engine.
//
// It wraps log/slog to give every pipeline stage a consistently formatted,
// component-scoped logger.
//
// Usage:
//
//	logging.Init(logging.Config{Level: "info", Format: "json", Output: "stderr"})
//	log := logging.GetLogger("blocking")
//	log.Info("candidates generated", "strategy", "ngram", "count", n)
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Config holds logging configuration.
type Config struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string
	// Format is the output format: console, json.
	Format string
	// Output is the output destination: stderr, stdout, or a file path.
	Output string
}

var (
	defaultLogger *slog.Logger
	loggerMu      sync.RWMutex
)

func init() {
	defaultLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// Init initializes the global logger with the given configuration.
// Call once at process startup, before any component acquires a logger.
func Init(cfg Config) {
	loggerMu.Lock()
	defer loggerMu.Unlock()

	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		output = os.Stdout
	case "", "stderr":
		output = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			output = os.Stderr
		} else {
			output = f
		}
	}

	level := parseLevel(cfg.Level)
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	defaultLogger = slog.New(handler)
}

func parseLevel(level string) slog.Level {
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

// GetLogger returns a logger scoped to the named component.
func GetLogger(component string) *Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return &Logger{slog: defaultLogger.With("component", component)}
}

// Logger wraps slog.Logger with the small set of calls the pipeline uses.
type Logger struct {
	slog *slog.Logger
}

// With returns a derived Logger carrying the given attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...)}
}

func (l *Logger) Debug(msg string, args ...any) { l.slog.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.slog.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.slog.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.slog.Error(msg, args...) }

// Stage logs a pipeline stage's completion with duration and an item count,
// the shape every coordinator stage (blocking, scoring, edge write, cluster)
// reports on exit.
func (l *Logger) Stage(stage string, durationMS int64, count int, args ...any) {
	allArgs := append([]any{"stage", stage, "duration_ms", durationMS, "count", count}, args...)
	l.slog.Info("stage_complete", allArgs...)
}
