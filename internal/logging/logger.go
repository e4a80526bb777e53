package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// logFileMaxSizeMB is the size at which the log file is rotated.
	logFileMaxSizeMB = 20

	// logFileMaxBackups is the number of rotated files kept on disk.
	logFileMaxBackups = 3

	// logFileMaxAgeDays is how long rotated files are kept.
	logFileMaxAgeDays = 14
)

// NewLogger creates a structured logger appropriate for the environment.
// Production uses JSON format, development uses human-readable text.
// When file is non-empty, output goes to a size-rotated log file instead
// of stdout.
func NewLogger(env, file string) *slog.Logger {
	return slog.New(newHandler(env, output(file)))
}

func newHandler(env string, w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if env == "production" {
		return slog.NewJSONHandler(w, opts)
	}

	opts.Level = slog.LevelDebug

	return slog.NewTextHandler(w, opts)
}

func output(file string) io.Writer {
	if file == "" {
		return os.Stdout
	}

	return &lumberjack.Logger{
		Filename:   file,
		MaxSize:    logFileMaxSizeMB,
		MaxBackups: logFileMaxBackups,
		MaxAge:     logFileMaxAgeDays,
		Compress:   true,
	}
}

// Discard returns a logger that drops everything. Used by tests and by
// components constructed without a logger.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
