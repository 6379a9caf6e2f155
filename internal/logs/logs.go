package logs

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// ConsoleLogger builds the tint-backed console logger and installs it as the
// slog default. Components that take an explicit *slog.Logger receive this
// one from the CLI; everything else falls back to slog.Default().
func ConsoleLogger(verbose bool) *slog.Logger {
	w := os.Stderr

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	logger := slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))

	slog.SetDefault(logger)
	return logger
}

// FileLogger returns a JSON logger appending to the given path. Used for the
// debug log alongside report output.
func FileLogger(path string) (*slog.Logger, func() error, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, err
	}

	opts := &slog.HandlerOptions{
		AddSource: true,
		Level:     slog.LevelDebug,
	}

	return slog.New(slog.NewJSONHandler(f, opts)), f.Close, nil
}
