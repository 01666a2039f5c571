// Package logger configures log/slog for the services. Every record keeps
// time, level and msg at the root and nests all other attributes under a
// top-level `data` group.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	Level   string
	Format  string
	Service string
	Env     string
	// Output is stdout, stderr or a file path. Files rotate by size.
	Output     string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type ctxKey int

const (
	ctxKeyLogger ctxKey = iota
	ctxKeyRequestID
)

var (
	levelVar      slog.LevelVar
	defaultLogger *slog.Logger
)

func Default() *slog.Logger {
	if defaultLogger != nil {
		return defaultLogger
	}
	return slog.Default()
}

// Init builds the process logger and installs it as the slog default. The
// returned closer flushes the rotating file, if any.
func Init(cfg Config) (*slog.Logger, io.Closer) {
	SetLevel(cfg.Level)

	w, closer := resolveWriter(cfg)
	opts := &slog.HandlerOptions{Level: &levelVar}

	var h slog.Handler
	if strings.EqualFold(strings.TrimSpace(cfg.Format), "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}

	service := firstNonEmpty(cfg.Service, os.Getenv("SERVICE_NAME"), defaultServiceName())
	env := firstNonEmpty(cfg.Env, os.Getenv("ENV"), os.Getenv("APP_ENV"))
	version := os.Getenv("VERSION")

	base := slog.New(h).WithGroup("data").With("service", service)
	if env != "" {
		base = base.With("env", env)
	}
	if version != "" {
		base = base.With("version", version)
	}

	defaultLogger = base
	slog.SetDefault(defaultLogger)
	return defaultLogger, closer
}

func SetLevel(level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		levelVar.Set(slog.LevelDebug)
	case "warn", "warning":
		levelVar.Set(slog.LevelWarn)
	case "error":
		levelVar.Set(slog.LevelError)
	default:
		levelVar.Set(slog.LevelInfo)
	}
}

func IntoContext(ctx context.Context, l *slog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxKeyLogger, l)
}

// FromContext returns the logger stored by IntoContext. Without one it falls
// back to the default logger, tagged with the request id when one is present.
func FromContext(ctx context.Context) *slog.Logger {
	l := Default()
	if ctx == nil {
		return l
	}
	if lg, ok := ctx.Value(ctxKeyLogger).(*slog.Logger); ok && lg != nil {
		return lg
	}
	if id, ok := ctx.Value(ctxKeyRequestID).(string); ok && id != "" {
		l = l.With("request_id", id)
	}
	return l
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxKeyRequestID, requestID)
}

func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func resolveWriter(cfg Config) (io.Writer, io.Closer) {
	switch strings.ToLower(strings.TrimSpace(cfg.Output)) {
	case "", "stdout":
		return os.Stdout, nopCloser{}
	case "stderr":
		return os.Stderr, nopCloser{}
	default:
		lj := &lumberjack.Logger{
			Filename:   cfg.Output,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		return lj, lj
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func defaultServiceName() string {
	if len(os.Args) == 0 || os.Args[0] == "" {
		return "app"
	}
	return filepath.Base(os.Args[0])
}
