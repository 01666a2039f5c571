package logger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// GormLogger routes GORM output through the request-scoped slog logger, so
// statements issued while serving a request carry its request id.
type GormLogger struct {
	level gormlogger.LogLevel
	slow  time.Duration
}

// NewGormLogger parses level as silent, error, warn or info. A zero slow
// threshold disables slow-statement warnings.
func NewGormLogger(level string, slow time.Duration) *GormLogger {
	lvl := gormlogger.Info
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "silent":
		lvl = gormlogger.Silent
	case "error":
		lvl = gormlogger.Error
	case "warn", "warning":
		lvl = gormlogger.Warn
	}
	return &GormLogger{level: lvl, slow: slow}
}

func (g *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	c := *g
	c.level = level
	return &c
}

func (g *GormLogger) Info(ctx context.Context, format string, args ...interface{}) {
	g.printf(ctx, gormlogger.Info, slog.LevelInfo, format, args)
}

func (g *GormLogger) Warn(ctx context.Context, format string, args ...interface{}) {
	g.printf(ctx, gormlogger.Warn, slog.LevelWarn, format, args)
}

func (g *GormLogger) Error(ctx context.Context, format string, args ...interface{}) {
	g.printf(ctx, gormlogger.Error, slog.LevelError, format, args)
}

func (g *GormLogger) printf(ctx context.Context, enabledAt gormlogger.LogLevel, lvl slog.Level, format string, args []interface{}) {
	if g.level < enabledAt {
		return
	}
	FromContext(ctx).Log(ctx, lvl, "database", "detail", fmt.Sprintf(format, args...))
}

// Trace reports failed statements as errors and slow ones as warnings. Other
// statements are logged at info. A missing row is a lookup outcome here, not
// a failure.
func (g *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.level == gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	failed := err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && !errors.Is(err, context.Canceled)
	slow := g.slow > 0 && elapsed > g.slow

	var (
		lvl slog.Level
		msg string
	)
	switch {
	case failed && g.level >= gormlogger.Error:
		lvl, msg = slog.LevelError, "sql failed"
	case !failed && slow && g.level >= gormlogger.Warn:
		lvl, msg = slog.LevelWarn, "sql slow"
	case !failed && !slow && g.level >= gormlogger.Info:
		lvl, msg = slog.LevelInfo, "sql"
	default:
		return
	}

	query, rows := fc()
	attrs := []any{"query", query, "elapsed_ms", float64(elapsed.Microseconds()) / 1000.0}
	if rows >= 0 {
		attrs = append(attrs, "rows", rows)
	}
	if failed {
		attrs = append(attrs, "err", err)
	}
	FromContext(ctx).Log(ctx, lvl, msg, attrs...)
}
