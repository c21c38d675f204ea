package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"readable/internal/config"

	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

var debugEnabled = strings.EqualFold(os.Getenv("READABLE_DEBUG"), "1")

func init() {
	// safe defaults for tests; main calls Initialize with the loaded config
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))
}

// Initialize installs the process-wide slog logger. The returned closer flushes the rotated file, if any.
func Initialize(cfg config.LogConfig) (*slog.Logger, io.Closer) {
	var (
		out    io.Writer = os.Stdout
		closer io.Closer = nopCloser{}
	)
	if cfg.File != "" {
		rotated := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    orDefault(cfg.MaxSizeMB, 10),
			MaxBackups: orDefault(cfg.MaxBackups, 3),
			MaxAge:     orDefault(cfg.MaxAgeDays, 28),
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, rotated)
		closer = rotated
	}

	level := parseLevel(cfg.Level)
	if debugEnabled {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level, AddSource: level == slog.LevelDebug}

	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	log := slog.New(handler)
	slog.SetDefault(log)
	return log, closer
}

// Debugf logs only when READABLE_DEBUG=1.
func Debugf(format string, args ...any) {
	if debugEnabled {
		slog.Debug(fmt.Sprintf(format, args...))
	}
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

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
