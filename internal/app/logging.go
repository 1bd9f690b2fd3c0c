package app

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger builds the process logger. With LOG_FILE set, records also go
// to a size-rotated file; the returned closer flushes it.
func NewLogger(cfg Config) (*slog.Logger, io.Closer) {
	options := &slog.HandlerOptions{Level: ParseLogLevel(cfg.LogLevel)}

	var out io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}
	if path := strings.TrimSpace(cfg.LogFile); path != "" {
		rotator := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    cfg.LogFileMaxSizeMB,
			MaxBackups: cfg.LogFileMaxBackups,
			MaxAge:     cfg.LogFileMaxAgeDays,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, rotator)
		closer = rotator
	}

	if strings.ToLower(strings.TrimSpace(cfg.LogFormat)) == "json" {
		return slog.New(slog.NewJSONHandler(out, options)), closer
	}
	return slog.New(slog.NewTextHandler(out, options)), closer
}

func ParseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
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

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
