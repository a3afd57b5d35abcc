package metricspush

import (
	"github.com/smallbiznis/meterguard/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type snapshotParams struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Pusher Pusher      `optional:"true"`
	Clock  clock.Clock `optional:"true"`
}

var Module = fx.Module("metrics.push",
	fx.Provide(NewPusher),
	fx.Provide(func(p snapshotParams) *Snapshot {
		return NewSnapshot(p.DB, p.Pusher, p.Clock, p.Log)
	}),
)
