package main

import (
	"github.com/smallbiznis/meterguard/internal/account"
	"github.com/smallbiznis/meterguard/internal/budgetsync"
	"github.com/smallbiznis/meterguard/internal/cache"
	"github.com/smallbiznis/meterguard/internal/clock"
	"github.com/smallbiznis/meterguard/internal/config"
	"github.com/smallbiznis/meterguard/internal/idgen"
	"github.com/smallbiznis/meterguard/internal/ledger"
	"github.com/smallbiznis/meterguard/internal/metricspush"
	"github.com/smallbiznis/meterguard/internal/observability"
	"github.com/smallbiznis/meterguard/internal/outbox"
	"github.com/smallbiznis/meterguard/internal/ratelimit"
	"github.com/smallbiznis/meterguard/internal/scheduler"
	"github.com/smallbiznis/meterguard/pkg/db"
	"go.uber.org/fx"
)

// A worker-only deployment: background jobs without the HTTP surface. The
// schema is owned by cmd/meterguard, so no migrations run here.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		idgen.Module,
		db.Module,
		clock.Module,

		// Services the jobs call into
		account.Module,
		ledger.Module,
		outbox.Module,
		budgetsync.Module,
		cache.Module,
		ratelimit.Module,
		metricspush.Module,

		scheduler.Module,
	)
	app.Run()
}
