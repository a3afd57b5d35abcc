package sociallogin

import (
	"github.com/smallbiznis/meterguard/internal/sociallogin/service"
	"go.uber.org/fx"
)

var Module = fx.Module("sociallogin.service",
	fx.Provide(service.NewService),
)
