package apikey

import (
	"github.com/smallbiznis/meterguard/internal/apikey/service"
	"go.uber.org/fx"
)

var Module = fx.Module("apikey.service",
	fx.Provide(service.New),
)
