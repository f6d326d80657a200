package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/taxengine/internal/cache"
	"github.com/smallbiznis/taxengine/internal/clock"
	"github.com/smallbiznis/taxengine/internal/config"
	"github.com/smallbiznis/taxengine/internal/migration"
	"github.com/smallbiznis/taxengine/internal/observability"
	"github.com/smallbiznis/taxengine/internal/server"
	"github.com/smallbiznis/taxengine/internal/tax"
	"github.com/smallbiznis/taxengine/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		cache.Module,
		clock.Module,

		// Functional Domains
		tax.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
