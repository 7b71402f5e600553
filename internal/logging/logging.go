// Package logging provides structured logging built on log/slog, with a
// rotated JSON file sink and a human-readable console logger sharing one
// dynamic level. Loggers from ForComponent write text to stdout until Init
// runs and only to the JSON file sink after it; the console logger Init
// builds is not returned by any function of this package.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	structuredLogger *slog.Logger
	consoleLogger    *slog.Logger
	mu               sync.RWMutex
	currentLevel     = new(slog.LevelVar)
	initOnce         sync.Once
)

// Options controls where Init sends structured output.
type Options struct {
	LogDir     string // directory for app.log; created if missing
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Level      slog.Level
}

// DefaultOptions returns sane defaults matching the workspace layout.
func DefaultOptions(workspaceDir string) Options {
	return Options{
		LogDir:     filepath.Join(workspaceDir, "logs"),
		MaxSizeMB:  100,
		MaxBackups: 5,
		MaxAgeDays: 28,
		Level:      slog.LevelInfo,
	}
}

func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
		a.Value = slog.StringValue(a.Value.Time().Format("2006-01-02T15:04:05Z07:00"))
	}
	if a.Value.Kind() == slog.KindFloat64 {
		truncated := math.Trunc(a.Value.Float64()*100) / 100.0
		a.Value = slog.Float64Value(truncated)
	}
	return a
}

// Init wires the global structured (JSON, rotated) and console (text) loggers
// and makes the structured one the slog default and the base of
// ForComponent; the console logger is built but not used for output.
// Safe to call multiple times; only the first call takes effect.
func Init(opts Options) error {
	var initErr error
	initOnce.Do(func() {
		if opts.Level == 0 {
			opts.Level = slog.LevelInfo
		}
		currentLevel.Set(opts.Level)

		if err := os.MkdirAll(opts.LogDir, 0o755); err != nil {
			initErr = fmt.Errorf("create log directory %s: %w", opts.LogDir, err)
			return
		}

		lj := &lumberjack.Logger{
			Filename:   filepath.Join(opts.LogDir, "app.log"),
			MaxSize:    orDefault(opts.MaxSizeMB, 100),
			MaxBackups: orDefault(opts.MaxBackups, 5),
			MaxAge:     orDefault(opts.MaxAgeDays, 28),
			Compress:   true,
		}

		jsonHandler := slog.NewJSONHandler(lj, &slog.HandlerOptions{
			Level:       currentLevel,
			ReplaceAttr: replaceAttr,
		})
		textHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:       currentLevel,
			ReplaceAttr: replaceAttr,
		})

		mu.Lock()
		structuredLogger = slog.New(jsonHandler)
		consoleLogger = slog.New(textHandler)
		mu.Unlock()

		slog.SetDefault(structuredLogger)
	})
	return initErr
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// SetLevel adjusts verbosity for both sinks at runtime.
func SetLevel(level slog.Level) {
	currentLevel.Set(level)
}

// ForComponent returns a logger tagged with a "component" attribute,
// falling back to a console-only logger if Init has not run yet.
func ForComponent(name string) *slog.Logger {
	mu.RLock()
	base := structuredLogger
	mu.RUnlock()
	if base == nil {
		base = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: currentLevel}))
	}
	return base.With("component", name)
}

// SetOutput redirects the structured sink, used by tests to capture output.
func SetOutput(w io.Writer) {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: currentLevel, ReplaceAttr: replaceAttr})
	mu.Lock()
	structuredLogger = slog.New(handler)
	mu.Unlock()
}
