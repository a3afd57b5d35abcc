package cache

import (
	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/meterguard/internal/clock"
	"github.com/smallbiznis/meterguard/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("cache",
	fx.Provide(providePricingResolverCache),
	fx.Provide(provideRuntimeConfig),
	fx.Provide(provideStateStore),
)

func providePricingResolverCache(cfg config.Config) PricingResolverCache {
	return NewPricingResolverCache(cfg.Runtime.TTL)
}

func provideRuntimeConfig(db *gorm.DB, log *zap.Logger, cfg config.Config, clk clock.Clock) *RuntimeConfig {
	return NewRuntimeConfig(db, log, RuntimeConfigOptions{
		TTL:    cfg.Runtime.TTL,
		Strict: cfg.Runtime.StrictDB,
		Clock:  clk,
	})
}

type stateStoreParams struct {
	fx.In

	Config config.Config
	Clock  clock.Clock
	Redis  *redis.Client `optional:"true"`
	Log    *zap.Logger
}

func provideStateStore(p stateStoreParams) StateStore {
	if p.Config.Runtime.StateStore == "redis" {
		if p.Redis != nil {
			return NewRedisStateStore(p.Redis, "")
		}
		p.Log.Warn("LOGIN_STATE_STORE=redis without REDIS_ADDR; using memory store")
	}
	return NewMemoryStateStore(p.Clock.Now)
}
