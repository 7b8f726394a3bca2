package main

import (
	"os"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/vestora/internal/audit"
	"github.com/smallbiznis/vestora/internal/authorization"
	"github.com/smallbiznis/vestora/internal/clock"
	"github.com/smallbiznis/vestora/internal/config"
	"github.com/smallbiznis/vestora/internal/eligibility"
	"github.com/smallbiznis/vestora/internal/investment"
	"github.com/smallbiznis/vestora/internal/ledger"
	"github.com/smallbiznis/vestora/internal/money"
	"github.com/smallbiznis/vestora/internal/observability"
	"github.com/smallbiznis/vestora/internal/plan"
	"github.com/smallbiznis/vestora/internal/ratelimit"
	"github.com/smallbiznis/vestora/internal/scheduler"
	"github.com/smallbiznis/vestora/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Domain services required by scheduler
		money.Module,
		authorization.Module,
		audit.Module,
		eligibility.Module,
		ratelimit.Module,
		ledger.Module,
		plan.Module,
		investment.Module,

		// No server module!
		fx.Decorate(forceSchedulerEnabled),
		scheduler.Module,
	)
	app.Run()
}

// forceSchedulerEnabled keeps the worker running even when the shared .env
// disables the in-process scheduler for API replicas.
func forceSchedulerEnabled(cfg config.Config) config.Config {
	cfg.SchedulerEnabled = true
	return cfg
}

// RegisterSnowflake reads SNOWFLAKE_NODE so the worker does not collide with
// API replicas that use node 1.
func RegisterSnowflake() *snowflake.Node {
	nodeID := int64(2)
	if raw := os.Getenv("SNOWFLAKE_NODE"); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil {
			nodeID = parsed
		}
	}
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		panic(err)
	}
	return node
}
