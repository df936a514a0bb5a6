package logging

import (
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

// Logger wraps slog.Logger with application-specific functionality
type Logger struct {
	*slog.Logger
}

// New creates a new logger with the specified level
func New(level string) *Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: ParseLevel(level)})
	return &Logger{Logger: slog.New(handler)}
}

// NewWithFile fans records out to stdout and to an append-only JSON file.
// When the file cannot be opened the logger degrades to stdout only.
// The returned cleanup closes the file.
func NewWithFile(level, path string) (*Logger, func() error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return New(level), func() error { return nil }
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	stdoutHandler := slog.NewJSONHandler(os.Stdout, opts)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger := &Logger{Logger: slog.New(stdoutHandler)}
		logger.Error("failed to open log file, using stdout only", "error", err, "file", path)
		return logger, func() error { return nil }
	}

	fileHandler := slog.NewJSONHandler(file, opts)
	logger := &Logger{Logger: slog.New(slogmulti.Fanout(stdoutHandler, fileHandler))}
	return logger, file.Close
}

// ParseLevel maps a textual level to slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Default returns a logger with default settings
func Default() *Logger {
	return New("info")
}
