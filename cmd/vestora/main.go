package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/vestora/internal/clock"
	"github.com/smallbiznis/vestora/internal/config"
	"github.com/smallbiznis/vestora/internal/migration"
	"github.com/smallbiznis/vestora/internal/observability"
	"github.com/smallbiznis/vestora/internal/scheduler"
	"github.com/smallbiznis/vestora/internal/seed"
	"github.com/smallbiznis/vestora/internal/server"
	"github.com/smallbiznis/vestora/pkg/db"
	"go.uber.org/fx"
)

// vestora serves the HTTP API. The scheduler runs in-process unless
// SCHEDULER_ENABLED=false, in which case apps/scheduler drives it.
func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,

		// Domain services and HTTP
		server.Module,
		scheduler.Module,
		seed.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
