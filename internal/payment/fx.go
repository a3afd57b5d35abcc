package payment

import (
	"github.com/smallbiznis/meterguard/internal/payment/adapters"
	"github.com/smallbiznis/meterguard/internal/payment/adapters/stripe"
	paymentservice "github.com/smallbiznis/meterguard/internal/payment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(adapters.Build),
	fx.Provide(stripe.ProvideBilling),
	fx.Provide(paymentservice.NewService),
)
