package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/meterguard/internal/account"
	"github.com/smallbiznis/meterguard/internal/apikey"
	apikeydomain "github.com/smallbiznis/meterguard/internal/apikey/domain"
	"github.com/smallbiznis/meterguard/internal/budgetsync"
	"github.com/smallbiznis/meterguard/internal/cache"
	"github.com/smallbiznis/meterguard/internal/clock"
	"github.com/smallbiznis/meterguard/internal/config"
	"github.com/smallbiznis/meterguard/internal/intake"
	"github.com/smallbiznis/meterguard/internal/invoice"
	invoicedomain "github.com/smallbiznis/meterguard/internal/invoice/domain"
	"github.com/smallbiznis/meterguard/internal/lago"
	"github.com/smallbiznis/meterguard/internal/ledger"
	"github.com/smallbiznis/meterguard/internal/metricspush"
	"github.com/smallbiznis/meterguard/internal/observability"
	obsmiddleware "github.com/smallbiznis/meterguard/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/meterguard/internal/observability/metrics"
	obstracing "github.com/smallbiznis/meterguard/internal/observability/tracing"
	"github.com/smallbiznis/meterguard/internal/outbox"
	"github.com/smallbiznis/meterguard/internal/payment"
	paymentdomain "github.com/smallbiznis/meterguard/internal/payment/domain"
	"github.com/smallbiznis/meterguard/internal/plan"
	plandomain "github.com/smallbiznis/meterguard/internal/plan/domain"
	"github.com/smallbiznis/meterguard/internal/pricing"
	pricingdomain "github.com/smallbiznis/meterguard/internal/pricing/domain"
	"github.com/smallbiznis/meterguard/internal/quota"
	quotadomain "github.com/smallbiznis/meterguard/internal/quota/domain"
	"github.com/smallbiznis/meterguard/internal/ratelimit"
	"github.com/smallbiznis/meterguard/internal/report"
	reportdomain "github.com/smallbiznis/meterguard/internal/report/domain"
	"github.com/smallbiznis/meterguard/internal/sociallogin"
	socialdomain "github.com/smallbiznis/meterguard/internal/sociallogin/domain"
	"github.com/smallbiznis/meterguard/internal/subscription"
	subscriptiondomain "github.com/smallbiznis/meterguard/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	account.Module,
	ledger.Module,
	plan.Module,
	pricing.Module,
	quota.Module,
	intake.Module,
	outbox.Module,
	lago.Module,
	payment.Module,
	subscription.Module,
	invoice.Module,
	report.Module,
	budgetsync.Module,
	apikey.Module,
	cache.Module,
	sociallogin.Module,
	ratelimit.Module,
	metricspush.Module,
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, s *Server, log *zap.Logger) {
	addr := cfg.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	db              *gorm.DB
	clock           clock.Clock
	apiKeySvc       apikeydomain.Service
	quotaSvc        quotadomain.Service
	reportSvc       reportdomain.Service
	paymentSvc      paymentdomain.Service
	invoiceSvc      invoicedomain.Service
	subscriptionSvc subscriptiondomain.Service
	planSvc         plandomain.Service
	pricingSvc      pricingdomain.Service
	socialSvc       socialdomain.Service
	runtimeCfg      *cache.RuntimeConfig
	accountLimiter  *ratelimit.AccountLimiter
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	DB              *gorm.DB
	Clock           clock.Clock `optional:"true"`
	APIKeySvc       apikeydomain.Service
	QuotaSvc        quotadomain.Service
	ReportSvc       reportdomain.Service
	PaymentSvc      paymentdomain.Service
	InvoiceSvc      invoicedomain.Service
	SubscriptionSvc subscriptiondomain.Service
	PlanSvc         plandomain.Service
	PricingSvc      pricingdomain.Service
	SocialSvc       socialdomain.Service
	RuntimeConfig   *cache.RuntimeConfig
	AccountLimiter  *ratelimit.AccountLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		db:              p.DB,
		clock:           clock.OrSystem(p.Clock),
		apiKeySvc:       p.APIKeySvc,
		quotaSvc:        p.QuotaSvc,
		reportSvc:       p.ReportSvc,
		paymentSvc:      p.PaymentSvc,
		invoiceSvc:      p.InvoiceSvc,
		subscriptionSvc: p.SubscriptionSvc,
		planSvc:         p.PlanSvc,
		pricingSvc:      p.PricingSvc,
		socialSvc:       p.SocialSvc,
		runtimeCfg:      p.RuntimeConfig,
		accountLimiter:  p.AccountLimiter,
	}

	svc.registerHealthRoutes()
	svc.registerWebhookRoutes()
	svc.registerAPIRoutes()
	svc.registerAdminRoutes()
	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerHealthRoutes() {
	s.engine.GET("/healthz", s.Healthz)
}

// Webhooks authenticate by provider signature, not API key.
func (s *Server) registerWebhookRoutes() {
	hooks := s.engine.Group("/webhooks")
	hooks.POST("/payments/:provider", s.HandlePaymentWebhook)
	hooks.POST("/stripe/invoices", s.HandleStripeInvoiceWebhook)
	hooks.POST("/stripe/subscriptions", s.HandleStripeSubscriptionWebhook)

	s.engine.GET("/v1/auth/social/callback", s.SocialLoginCallback)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/v1", s.APIKeyRequired())

	// -------- Quota --------
	api.POST("/quota/check", RequireScope(apikeydomain.ScopeQuotaWrite), s.QuotaRateLimit(), s.CheckQuota)
	api.POST("/quota/settle", RequireScope(apikeydomain.ScopeQuotaWrite), s.QuotaRateLimit(), s.SettleQuota)

	// -------- Reports --------
	api.GET("/reports/daily", RequireScope(apikeydomain.ScopeReportsRead), s.DailyReport)
	api.GET("/reports/summary", RequireScope(apikeydomain.ScopeReportsRead), s.SummaryReport)
	api.GET("/reports/overdrafts", RequireScope(apikeydomain.ScopeReportsRead), s.ListOverdrafts)

	// -------- Payments --------
	api.POST("/payments/checkout", RequireScope(apikeydomain.ScopeBillingWrite), s.Checkout)
	api.POST("/payments/refund", RequireScope(apikeydomain.ScopeBillingWrite), s.Refund)
	api.GET("/payments/status", RequireScope(apikeydomain.ScopeReportsRead), s.PaymentStatus)

	// -------- Invoices --------
	api.POST("/invoices", RequireScope(apikeydomain.ScopeBillingWrite), s.GenerateInvoice)
	api.GET("/invoices", RequireScope(apikeydomain.ScopeReportsRead), s.ListInvoices)
	api.GET("/invoices/:id", RequireScope(apikeydomain.ScopeReportsRead), s.GetInvoice)
	api.GET("/invoices/:id/pdf", RequireScope(apikeydomain.ScopeReportsRead), s.RenderInvoicePDF)
	api.POST("/invoices/:id/stripe", RequireScope(apikeydomain.ScopeBillingWrite), s.PushInvoiceToStripe)

	// -------- Customers / Subscriptions --------
	api.POST("/customers", RequireScope(apikeydomain.ScopeBillingWrite), s.CreateCustomer)
	api.POST("/customers/:id/stripe", RequireScope(apikeydomain.ScopeBillingWrite), s.EnsureStripeCustomer)
	api.POST("/subscriptions", RequireScope(apikeydomain.ScopeBillingWrite), s.CreateSubscription)
	api.POST("/subscriptions/stripe", RequireScope(apikeydomain.ScopeBillingWrite), s.EnsureStripeSubscription)
	api.GET("/subscriptions", RequireScope(apikeydomain.ScopeReportsRead), s.ListSubscriptions)
	api.GET("/subscriptions/:id", RequireScope(apikeydomain.ScopeReportsRead), s.GetSubscription)
	api.POST("/subscriptions/:id/status", RequireScope(apikeydomain.ScopeBillingWrite), s.UpdateSubscriptionStatus)

	// -------- Social login --------
	api.POST("/auth/social/start", RequireScope(apikeydomain.ScopeAdmin), s.StartSocialLogin)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/v1/admin", s.APIKeyRequired(), RequireScope(apikeydomain.ScopeAdmin))

	admin.GET("/api-keys/scopes", s.ListAPIKeyScopes)
	admin.GET("/api-keys", s.ListAPIKeys)
	admin.POST("/api-keys", s.CreateAPIKey)
	admin.POST("/api-keys/:key_id/rotate", s.RotateAPIKey)
	admin.POST("/api-keys/:key_id/revoke", s.RevokeAPIKey)

	// -------- Plans / Pricing --------
	admin.POST("/plans", s.CreatePlan)
	admin.GET("/plans/:id", s.GetPlan)
	admin.POST("/plans/:id/archive", s.ArchivePlan)
	admin.PUT("/plans/:id/daily-limit", s.UpsertDailyLimit)
	admin.PUT("/plans/:id/usage", s.UpsertUsagePlan)
	admin.GET("/plans/:id/price-rules", s.ListPriceRules)
	admin.POST("/plans/:id/price-rules", s.AddPriceRule)
	admin.POST("/plan-assignments", s.AssignPlan)

	// -------- Stripe price mappings --------
	admin.GET("/stripe-prices", s.ListPriceMappings)
	admin.POST("/stripe-prices", s.CreatePriceMapping)
	admin.PATCH("/stripe-prices/:id", s.UpdatePriceMapping)
	admin.DELETE("/stripe-prices/:id", s.DeletePriceMapping)

	// -------- Runtime settings --------
	admin.GET("/settings", s.ListSettings)
	admin.PATCH("/settings", s.UpdateSettings)
}

func (s *Server) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": "unreachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "database": "ok"})
}
