package server

import (
	"bytes"
	"encoding/json"
	"io"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/meterguard/internal/observability/logger"
	"go.uber.org/zap"
)

// QuotaRateLimit throttles quota calls per account. The account is read from
// the JSON body, which is restored for the handler.
func (s *Server) QuotaRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.accountLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		key, err := readAccountKey(c)
		if err != nil {
			logger.FromContext(ctx).Warn("quota rate limit read body failed", zap.Error(err))
			AbortWithError(c, invalidRequestError())
			return
		}
		if key == "" {
			c.Next()
			return
		}

		endpoint := normalizeRateLimitEndpoint(c)
		result, err := s.accountLimiter.Allow(ctx, key, endpoint)
		if err != nil {
			// Fail open when redis is unreachable.
			logger.FromContext(ctx).Warn("quota rate limit check failed", zap.Error(err))
			c.Next()
			return
		}
		if result.Limit > 0 {
			c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		}
		if !result.Allowed {
			retryAfter := int(result.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			logger.FromContext(ctx).Warn("quota rate limit exceeded",
				zap.String("account", key),
				zap.String("endpoint", endpoint),
			)
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}

func readAccountKey(c *gin.Context) (string, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return "", err
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
	if len(body) == 0 {
		return "", nil
	}

	var payload accountParams
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", nil
	}
	account, err := payload.account()
	if err != nil {
		return "", nil
	}
	return account.Key(), nil
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
