package logs

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// ConsoleLogger builds the stderr logger used for the diagnostic trace and
// installs it as the slog default. User-facing notifications go through
// internal/message, never through here.
func ConsoleLogger(level slog.Level) *slog.Logger {
	w := os.Stderr

	logger := slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
	slog.SetDefault(logger)
	return logger
}

// FileLogger appends JSON records to path. The returned closer must be
// called before exit.
func FileLogger(path string, level slog.Level) (*slog.Logger, func() error, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, err
	}

	opts := &slog.HandlerOptions{
		AddSource: true,
		Level:     level,
	}
	logger := slog.New(slog.NewJSONHandler(f, opts))
	return logger, f.Close, nil
}
