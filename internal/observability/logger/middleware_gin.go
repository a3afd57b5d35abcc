package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	obscontext "github.com/smallbiznis/meterguard/internal/observability/context"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	headerRequestID     = "X-Request-Id"
	headerCorrelationID = "X-Correlation-Id"
)

// MiddlewareConfig controls request logging. ErrorClassifier maps the last
// handler error to an (error_type, error_code) pair.
type MiddlewareConfig struct {
	Debug           bool
	ErrorClassifier func(err error) (string, string)
}

// GinMiddleware seeds request and correlation ids into the request context
// and writes one http_request line per call.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := ensureRequestID(c)

		ctx := obscontext.WithRequestID(c.Request.Context(), requestID)
		if correlationID := strings.TrimSpace(c.GetHeader(headerCorrelationID)); correlationID != "" {
			ctx = obscontext.WithCorrelationID(ctx, correlationID)
		}
		ctx, correlationID := obscontext.EnsureCorrelationID(ctx)
		c.Header(headerCorrelationID, correlationID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		surface := surfaceOf(route)
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.String("surface", surface),
			zap.Int("status", status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.Int64("bytes_in", max(c.Request.ContentLength, 0)),
			zap.Int("bytes_out", max(c.Writer.Size(), 0)),
		}
		if provider := c.Param("provider"); provider != "" {
			fields = append(fields, zap.String("provider", strings.ToLower(provider)))
		}
		if account := accountFromQuery(c); account != "" {
			fields = append(fields, zap.String("account", account))
		}

		var errorType string
		if lastErr := c.Errors.Last(); lastErr != nil {
			var errorCode string
			if cfg.ErrorClassifier != nil {
				errorType, errorCode = cfg.ErrorClassifier(lastErr.Err)
			}
			fields = append(fields,
				zap.String("error_type", errorType),
				zap.String("error_code", errorCode),
			)
			if cfg.Debug {
				fields = append(fields, zap.Stack("stack"))
			}
		}

		log := FromContext(c.Request.Context())
		if ce := log.Check(requestLevel(surface, status, errorType), "http_request"); ce != nil {
			ce.Write(fields...)
		}
	}
}

func ensureRequestID(c *gin.Context) string {
	requestID := strings.TrimSpace(c.GetHeader(headerRequestID))
	if requestID == "" {
		requestID = strings.TrimSpace(c.GetString("request_id"))
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set("request_id", requestID)
	c.Header(headerRequestID, requestID)
	return requestID
}

// surfaceOf groups routes the way dashboards slice them.
func surfaceOf(route string) string {
	switch {
	case route == "/metrics" || route == "/healthz":
		return "probe"
	case strings.HasPrefix(route, "/webhooks/"):
		return "webhook"
	case strings.HasPrefix(route, "/v1/admin/"):
		return "admin"
	case strings.HasPrefix(route, "/v1/"):
		return "api"
	default:
		return "other"
	}
}

func requestLevel(surface string, status int, errorType string) zapcore.Level {
	switch {
	case surface == "probe":
		return zapcore.DebugLevel
	case status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	// Quota and rate-limit denials are expected traffic.
	case status == http.StatusTooManyRequests && errorType == "policy":
		return zapcore.DebugLevel
	// A wrong webhook secret shows up as a run of these.
	case surface == "webhook" && errorType == "signature":
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

func accountFromQuery(c *gin.Context) string {
	entityType, entityID := c.Query("entity_type"), c.Query("entity_id")
	if entityType == "" || entityID == "" {
		return ""
	}
	return strings.ToLower(entityType) + ":" + entityID
}
