package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paywatch/internal/clock"
	"github.com/smallbiznis/paywatch/internal/config"
	"github.com/smallbiznis/paywatch/internal/custody"
	"github.com/smallbiznis/paywatch/internal/invoice"
	"github.com/smallbiznis/paywatch/internal/ledger"
	"github.com/smallbiznis/paywatch/internal/migration"
	"github.com/smallbiznis/paywatch/internal/notifier"
	"github.com/smallbiznis/paywatch/internal/observability"
	"github.com/smallbiznis/paywatch/internal/server"
	"github.com/smallbiznis/paywatch/internal/settlement"
	"github.com/smallbiznis/paywatch/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,

		// Domains
		custody.Module,
		ledger.Module,
		invoice.Module,
		notifier.Module,
		settlement.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
