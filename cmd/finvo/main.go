package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/finvo/internal/clock"
	"github.com/smallbiznis/finvo/internal/config"
	"github.com/smallbiznis/finvo/internal/migration"
	"github.com/smallbiznis/finvo/internal/observability"
	"github.com/smallbiznis/finvo/internal/scheduler"
	"github.com/smallbiznis/finvo/internal/server"
	"github.com/smallbiznis/finvo/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Domain modules and HTTP surface
		server.Module,
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
