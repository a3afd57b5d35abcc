package logger

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/meterguard/internal/observability/context"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestWithContextAddsCorrelationFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	base := zap.New(core)

	ctx := obscontext.WithRequestID(context.Background(), "req-1")
	ctx = obscontext.WithCorrelationID(ctx, "corr-1")
	WithContext(ctx, base).Info("ledger.credit")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "req-1", fields["request_id"])
	require.Equal(t, "corr-1", fields["correlation_id"])
	require.NotContains(t, fields, "trace_id")
}

func TestGinMiddlewareEchoesIdentifiers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{}))
	var seen string
	r.GET("/healthz", func(c *gin.Context) {
		seen = obscontext.CorrelationIDFromContext(c.Request.Context())
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "abc")
	req.Header.Set("X-Correlation-Id", "corr-xyz")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, "abc", rec.Header().Get("X-Request-Id"))
	require.Equal(t, "corr-xyz", rec.Header().Get("X-Correlation-Id"))
	require.Equal(t, "corr-xyz", seen)
}

func TestDescribeStatement(t *testing.T) {
	stmt := describeStatement(`UPDATE "wallets" SET balance_cents = balance_cents + 1`)
	require.Equal(t, "UPDATE", stmt.operation)
	require.Equal(t, "wallets", stmt.table)
	require.False(t, stmt.locking)

	stmt = describeStatement(`SELECT * FROM "wallets" WHERE entity_id = ? FOR UPDATE`)
	require.Equal(t, "SELECT", stmt.operation)
	require.Equal(t, "wallets", stmt.table)
	require.True(t, stmt.locking)

	stmt = describeStatement("INSERT INTO outbox_events (id) VALUES (1)")
	require.Equal(t, "outbox_events", stmt.table)

	require.Equal(t, statement{operation: "UNKNOWN", table: "unknown"}, describeStatement(""))
}

func TestGormLoggerTrace(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := NewGormLogger(GormLoggerConfig{
		Level:             gormlogger.Warn,
		SlowThreshold:     100 * time.Millisecond,
		LockWaitThreshold: 10 * time.Millisecond,
	}).WithBase(zap.New(core))
	ctx := context.Background()

	l.Trace(ctx, time.Now(), func() (string, int64) { return "SELECT * FROM plans", 1 }, nil)
	require.Zero(t, logs.Len(), "fast queries stay quiet at warn level")

	l.Trace(ctx, time.Now(), func() (string, int64) { return "SELECT * FROM usage_records", 0 }, gorm.ErrRecordNotFound)
	require.Zero(t, logs.FilterMessage("db.query_failed").Len())

	l.Trace(ctx, time.Now().Add(-20*time.Millisecond), func() (string, int64) {
		return "SELECT * FROM wallets FOR UPDATE", 1
	}, nil)
	lockWaits := logs.FilterMessage("db.lock_wait").All()
	require.Len(t, lockWaits, 1)
	require.Equal(t, "wallets", lockWaits[0].ContextMap()["table"])

	l.Trace(ctx, time.Now(), func() (string, int64) { return "INSERT INTO ledger_entries (id) VALUES (1)", 0 }, errors.New("disk full"))
	require.Equal(t, 1, logs.FilterMessage("db.query_failed").Len())

	silent := l.LogMode(gormlogger.Silent)
	silent.Trace(ctx, time.Now(), func() (string, int64) { return "SELECT 1", 0 }, errors.New("boom"))
	require.Equal(t, 1, logs.FilterMessage("db.query_failed").Len())
}

func TestRequestLevel(t *testing.T) {
	require.Equal(t, "webhook", surfaceOf("/webhooks/payments/:provider"))
	require.Equal(t, "admin", surfaceOf("/v1/admin/api-keys"))
	require.Equal(t, "api", surfaceOf("/v1/quota/check"))
	require.Equal(t, "probe", surfaceOf("/healthz"))

	require.Equal(t, zapcore.DebugLevel, requestLevel("api", http.StatusTooManyRequests, "policy"))
	require.Equal(t, zapcore.WarnLevel, requestLevel("webhook", http.StatusBadRequest, "signature"))
	require.Equal(t, zapcore.ErrorLevel, requestLevel("api", http.StatusServiceUnavailable, "transient"))
	require.Equal(t, zapcore.DebugLevel, requestLevel("probe", http.StatusServiceUnavailable, ""))
	require.Equal(t, zapcore.InfoLevel, requestLevel("api", http.StatusOK, ""))
}
