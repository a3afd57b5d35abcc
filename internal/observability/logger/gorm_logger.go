package logger

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// GormLoggerConfig configures how SQL statements reach the zap logger.
type GormLoggerConfig struct {
	Level         gormlogger.LogLevel
	SlowThreshold time.Duration
	// LockWaitThreshold flags row-lock statements (wallet and outbox claims)
	// that waited longer than this. Zero disables the check.
	LockWaitThreshold time.Duration
}

func DefaultGormLoggerConfig() GormLoggerConfig {
	return GormLoggerConfig{
		Level:             gormlogger.Warn,
		SlowThreshold:     200 * time.Millisecond,
		LockWaitThreshold: 50 * time.Millisecond,
	}
}

// GormLogger routes GORM output through the request-scoped zap logger.
// Lookups that miss and unique-key conflicts are normal control flow here
// (idempotent settles and webhook dedupe), so they never log as errors.
type GormLogger struct {
	cfg  GormLoggerConfig
	base *zap.Logger
}

func NewGormLogger(cfg GormLoggerConfig) *GormLogger {
	return &GormLogger{cfg: cfg}
}

// WithBase pins the logger used when the query context carries none.
func (l *GormLogger) WithBase(base *zap.Logger) *GormLogger {
	clone := *l
	clone.base = base
	return &clone
}

func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.cfg.Level = level
	return &clone
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.cfg.Level >= gormlogger.Info {
		l.logger(ctx).Info(msg, zap.Any("data", data))
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.cfg.Level >= gormlogger.Warn {
		l.logger(ctx).Warn(msg, zap.Any("data", data))
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.cfg.Level >= gormlogger.Error {
		l.logger(ctx).Error(msg, zap.Any("data", data))
	}
}

func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.cfg.Level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	sql, rows := fc()
	stmt := describeStatement(sql)

	event, level := "db.query", zapcore.DebugLevel
	switch {
	case err != nil && expectedDBError(err):
		level = zapcore.DebugLevel
	case err != nil && l.cfg.Level >= gormlogger.Error:
		event, level = "db.query_failed", zapcore.ErrorLevel
	case stmt.locking && l.cfg.LockWaitThreshold > 0 && elapsed > l.cfg.LockWaitThreshold && l.cfg.Level >= gormlogger.Warn:
		event, level = "db.lock_wait", zapcore.WarnLevel
	case l.cfg.SlowThreshold > 0 && elapsed > l.cfg.SlowThreshold && l.cfg.Level >= gormlogger.Warn:
		event, level = "db.slow_query", zapcore.WarnLevel
	case l.cfg.Level < gormlogger.Info:
		return
	}

	fields := []zap.Field{
		zap.String("component", "gorm"),
		zap.String("operation", stmt.operation),
		zap.String("table", stmt.table),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
		zap.String("sql", strings.TrimSpace(sql)),
	}
	if stmt.locking {
		fields = append(fields, zap.Bool("row_lock", true))
	}
	if rows >= 0 {
		fields = append(fields, zap.Int64("rows_affected", rows))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	if ce := l.logger(ctx).Check(level, event); ce != nil {
		ce.Write(fields...)
	}
}

// ParamsFilter drops bound values; API key hashes and webhook payloads pass
// through these statements.
func (l *GormLogger) ParamsFilter(_ context.Context, sql string, _ ...interface{}) (string, []interface{}) {
	return sql, nil
}

func (l *GormLogger) logger(ctx context.Context) *zap.Logger {
	base := l.base
	if base == nil {
		base = zap.L()
	}
	return WithContext(ctx, base)
}

func expectedDBError(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, gorm.ErrDuplicatedKey)
}

type statement struct {
	operation string
	table     string
	locking   bool
}

func describeStatement(sql string) statement {
	tokens := strings.Fields(strings.ToUpper(sql))
	stmt := statement{operation: "UNKNOWN", table: "unknown"}
	for i, token := range tokens {
		token = strings.Trim(token, "();")
		switch token {
		case "SELECT", "INSERT", "UPDATE", "DELETE":
			if stmt.operation == "UNKNOWN" {
				stmt.operation = token
			}
			if token == "UPDATE" && i+1 < len(tokens) && stmt.table == "unknown" {
				stmt.table = tableName(tokens[i+1])
			}
		case "FROM", "INTO":
			if i+1 < len(tokens) && stmt.table == "unknown" {
				stmt.table = tableName(tokens[i+1])
			}
		case "FOR":
			if i+1 < len(tokens) && strings.Trim(tokens[i+1], ";") == "UPDATE" {
				stmt.locking = true
			}
		}
	}
	return stmt
}

func tableName(token string) string {
	name := strings.ToLower(strings.Trim(token, "\"`();"))
	if name == "" {
		return "unknown"
	}
	return name
}

var _ gormlogger.Interface = (*GormLogger)(nil)
