package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// slogGormLogger adapts gorm's logger.Interface to the shared slog component
// logger, following the teacher's datastore.GormLogger.
type slogGormLogger struct {
	log           *slog.Logger
	slowThreshold time.Duration
	logLevel      gormlogger.LogLevel
}

func newSlogGormLogger(log *slog.Logger, slowThreshold time.Duration, level gormlogger.LogLevel) *slogGormLogger {
	return &slogGormLogger{log: log, slowThreshold: slowThreshold, logLevel: level}
}

func (l *slogGormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	newLogger := *l
	newLogger.logLevel = level
	return &newLogger
}

func (l *slogGormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.logLevel >= gormlogger.Info {
		l.log.InfoContext(ctx, fmt.Sprintf(msg, data...))
	}
}

func (l *slogGormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.logLevel >= gormlogger.Warn {
		l.log.WarnContext(ctx, fmt.Sprintf(msg, data...))
	}
}

func (l *slogGormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.logLevel >= gormlogger.Error {
		l.log.ErrorContext(ctx, "gorm error", "msg", fmt.Sprintf(msg, data...))
	}
}

func (l *slogGormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.logLevel <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	sql, rows := fc()

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		l.log.ErrorContext(ctx, "query failed",
			"error", err, "sql", sql, "duration", elapsed, "rows", rows)
	case l.slowThreshold != 0 && elapsed > l.slowThreshold:
		l.log.WarnContext(ctx, "slow query",
			"sql", sql, "duration", elapsed, "rows", rows, "threshold", l.slowThreshold)
	case l.logLevel >= gormlogger.Info:
		l.log.DebugContext(ctx, "query executed", "sql", sql, "duration", elapsed, "rows", rows)
	}
}
