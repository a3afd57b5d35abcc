package lago

import "go.uber.org/fx"

var Module = fx.Module("lago.sink",
	fx.Provide(NewSink),
)
