package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/agencyledger/internal/clock"
	"github.com/smallbiznis/agencyledger/internal/config"
	"github.com/smallbiznis/agencyledger/internal/migration"
	"github.com/smallbiznis/agencyledger/internal/observability"
	"github.com/smallbiznis/agencyledger/internal/reconciliation"
	"github.com/smallbiznis/agencyledger/internal/server"
	"github.com/smallbiznis/agencyledger/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// HTTP API and the domains behind it
		server.Module,

		// Background jobs
		reconciliation.Module,
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
