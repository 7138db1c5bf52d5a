// Package logging configures the process-wide structured logger. The
// broker's stdout can carry protocol records, so log output goes to
// stderr and optionally to a timestamped file, never to stdout.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Setup installs the default slog logger. When dir is non-empty, log
// lines also go to a timestamped file under it so sessions can be
// revisited later. Returns the log file path (empty when stderr-only)
// and a cleanup function.
func Setup(verbose bool, dir string) (string, func()) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	if dir == "" {
		slog.SetDefault(stderrLogger(level))
		return "", func() {}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		// Fall back to stderr-only.
		slog.SetDefault(stderrLogger(level))
		return "", func() {}
	}

	logFile := filepath.Join(dir, time.Now().Format("2006-01-02T15-04-05")+".log")
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		slog.SetDefault(stderrLogger(level))
		return "", func() {}
	}

	w := io.MultiWriter(os.Stderr, f)
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
	return logFile, func() { f.Close() }
}

func stderrLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
