package main

import (
	"log/slog"
	"os"

	"github.com/tkarvone/gsmmuxd/internal/logging"
)

func setupLogger(format, level string, debug bool) *slog.Logger {
	lvl := slog.LevelInfo
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	if debug {
		lvl = slog.LevelDebug
	}
	l := logging.New(format, lvl, os.Stderr).With("app", "gsmmuxd")
	logging.Set(l)
	return l
}
