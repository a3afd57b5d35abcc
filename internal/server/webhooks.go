package server

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	intakedomain "github.com/smallbiznis/meterguard/internal/intake/domain"
	"github.com/smallbiznis/meterguard/internal/observability/logger"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

type webhookHandler func(ctx context.Context, headers http.Header, body []byte) (intakedomain.Result, error)

func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.ToLower(strings.TrimSpace(c.Param("provider")))
	if provider == "" {
		AbortWithError(c, newValidationError("provider", "invalid_provider", "provider is required"))
		return
	}
	s.serveWebhook(c, provider, func(ctx context.Context, headers http.Header, body []byte) (intakedomain.Result, error) {
		return s.paymentSvc.HandleWebhook(ctx, provider, headers, body)
	})
}

func (s *Server) HandleStripeInvoiceWebhook(c *gin.Context) {
	s.serveWebhook(c, "stripe", s.invoiceSvc.HandleStripeWebhook)
}

func (s *Server) HandleStripeSubscriptionWebhook(c *gin.Context) {
	s.serveWebhook(c, "stripe", s.subscriptionSvc.HandleStripeWebhook)
}

// serveWebhook answers 200 for handled, unlinked and duplicate deliveries so
// providers stop retrying them.
func (s *Server) serveWebhook(c *gin.Context, provider string, handle webhookHandler) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil || len(payload) == 0 {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := c.Request.Context()
	result, err := handle(ctx, c.Request.Header, payload)
	if err != nil {
		logger.FromContext(ctx).Warn("webhook.rejected",
			zap.String("provider", provider),
			zap.String("error_code", errorCode(err)),
		)
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"received":    true,
		"provider":    result.Provider,
		"event_type":  result.EventType,
		"duplicate":   result.Duplicate,
		"handled":     result.Handled,
		"entity_type": result.EntityType,
		"entity_id":   result.EntityID,
		"status":      result.Status,
	})
}
