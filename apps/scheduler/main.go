package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/bulkbuy/internal/audit"
	"github.com/smallbiznis/bulkbuy/internal/authorization"
	"github.com/smallbiznis/bulkbuy/internal/clock"
	"github.com/smallbiznis/bulkbuy/internal/config"
	"github.com/smallbiznis/bulkbuy/internal/metricspush"
	"github.com/smallbiznis/bulkbuy/internal/observability"
	"github.com/smallbiznis/bulkbuy/internal/procurement"
	"github.com/smallbiznis/bulkbuy/internal/ratelimit"
	"github.com/smallbiznis/bulkbuy/internal/scheduler"
	"github.com/smallbiznis/bulkbuy/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Sweeps reuse the same lifecycle rules and group leases as the API.
		ratelimit.Module,
		authorization.Module,
		procurement.Module,
		audit.Module,

		// No server module!
		metricspush.Module,
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	// Distinct from the API node so ids never collide.
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}
