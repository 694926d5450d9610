package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/bulkbuy/internal/audit"
	"github.com/smallbiznis/bulkbuy/internal/authorization"
	"github.com/smallbiznis/bulkbuy/internal/clock"
	"github.com/smallbiznis/bulkbuy/internal/config"
	"github.com/smallbiznis/bulkbuy/internal/metricspush"
	"github.com/smallbiznis/bulkbuy/internal/migration"
	"github.com/smallbiznis/bulkbuy/internal/observability"
	"github.com/smallbiznis/bulkbuy/internal/procurement"
	"github.com/smallbiznis/bulkbuy/internal/ratelimit"
	"github.com/smallbiznis/bulkbuy/internal/scheduler"
	"github.com/smallbiznis/bulkbuy/internal/server"
	"github.com/smallbiznis/bulkbuy/pkg/db"
	"go.uber.org/fx"
)

// Single-process deployment: HTTP API and deadline sweeps side by side.
func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		ratelimit.Module,

		// Functional Domains
		authorization.Module,
		procurement.Module,
		audit.Module,

		server.Module,
		metricspush.Module,
		scheduler.Module,
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
