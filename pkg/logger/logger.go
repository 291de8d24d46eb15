// Package logger builds the process-wide slog logger: JSON or text output,
// secret masking, optional file rotation and optional Sentry fan-out for
// high-severity records.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	slogsentry "github.com/samber/slog-sentry/v2"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls logger construction.
type Config struct {
	Level  string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=json text"`

	// File enables rotated file output in addition to stdout when non-empty.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`

	SentryDSN string `mapstructure:"sentry_dsn"`
	SentryEnv string `mapstructure:"sentry_env"`
}

// New constructs the logger. When a Sentry DSN is configured, error-level
// records additionally fan out to Sentry; Sentry init failures degrade to
// plain logging rather than failing startup.
func New(cfg Config) *slog.Logger {
	var out io.Writer = os.Stdout
	if cfg.File != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    orDefault(cfg.MaxSizeMB, 100),
			MaxBackups: orDefault(cfg.MaxBackups, 3),
			Compress:   true,
		})
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.SentryEnv,
		}); err != nil {
			slog.New(handler).Warn("sentry init failed, continuing without it", slog.Any("error", err))
		} else {
			sentryHandler := slogsentry.Option{Level: slog.LevelError}.NewSentryHandler()
			handler = fanoutHandler{primary: handler, secondary: sentryHandler}
		}
	}

	return slog.New(NewMaskingHandler(handler))
}

// Flush drains buffered Sentry events during shutdown.
func Flush(timeout time.Duration) {
	sentry.Flush(timeout)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
