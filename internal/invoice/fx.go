package invoice

import (
	"github.com/smallbiznis/meterguard/internal/invoice/render"
	"github.com/smallbiznis/meterguard/internal/invoice/service"
	"go.uber.org/fx"
)

var Module = fx.Module("invoice.service",
	fx.Provide(render.NewPDFRenderer),
	fx.Provide(service.NewService),
)
