package outbox

import (
	"net/http"

	"github.com/smallbiznis/meterguard/internal/config"
	"github.com/smallbiznis/meterguard/internal/outbox/delivery"
	outboxdomain "github.com/smallbiznis/meterguard/internal/outbox/domain"
	"github.com/smallbiznis/meterguard/internal/outbox/service"
	"go.uber.org/fx"
)

var Module = fx.Module("outbox.service",
	fx.Provide(provideDeliverers),
	fx.Provide(service.NewService),
)

func provideDeliverers(cfg config.Config) map[string]outboxdomain.Deliverer {
	httpDeliverer := delivery.NewHTTPDeliverer(
		&http.Client{},
		cfg.Outbox.HTTPTimeout,
		delivery.BearerRule{Prefix: cfg.Lago.APIURL, Token: cfg.Lago.APIKey},
	)
	return map[string]outboxdomain.Deliverer{
		outboxdomain.EventTypeHTTPPost: httpDeliverer,
	}
}
