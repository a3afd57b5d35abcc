package budgetsync

import (
	"github.com/smallbiznis/meterguard/internal/budgetsync/litellm"
	"github.com/smallbiznis/meterguard/internal/budgetsync/service"
	"github.com/smallbiznis/meterguard/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("budgetsync.service",
	fx.Provide(func(cfg config.Config) *litellm.Client {
		return litellm.NewClient(cfg.LiteLLM, nil)
	}),
	fx.Provide(service.NewService),
)
