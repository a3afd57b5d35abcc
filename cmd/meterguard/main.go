package main

import (
	"github.com/smallbiznis/meterguard/internal/clock"
	"github.com/smallbiznis/meterguard/internal/config"
	"github.com/smallbiznis/meterguard/internal/idgen"
	"github.com/smallbiznis/meterguard/internal/migration"
	"github.com/smallbiznis/meterguard/internal/observability"
	"github.com/smallbiznis/meterguard/internal/scheduler"
	"github.com/smallbiznis/meterguard/internal/server"
	"github.com/smallbiznis/meterguard/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		idgen.Module,
		db.Module,
		clock.Module,
		migration.Module,

		// HTTP surface plus every domain service it serves
		server.Module,

		// Outbox drain, budget sync, state sweep, metrics push
		scheduler.Module,
	)
	app.Run()
}
