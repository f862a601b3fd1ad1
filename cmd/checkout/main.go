package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/checkout/internal/clock"
	"github.com/smallbiznis/checkout/internal/collab"
	"github.com/smallbiznis/checkout/internal/config"
	"github.com/smallbiznis/checkout/internal/gateway"
	"github.com/smallbiznis/checkout/internal/lock"
	"github.com/smallbiznis/checkout/internal/logger"
	"github.com/smallbiznis/checkout/internal/migration"
	obsmetrics "github.com/smallbiznis/checkout/internal/observability/metrics"
	"github.com/smallbiznis/checkout/internal/scheduler"
	"github.com/smallbiznis/checkout/internal/server"
	"github.com/smallbiznis/checkout/internal/session"
	"github.com/smallbiznis/checkout/internal/transaction"
	"github.com/smallbiznis/checkout/internal/webhook"
	"github.com/smallbiznis/checkout/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		obsmetrics.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		lock.Module,
		migration.Module,

		// Functional domains
		collab.Module,
		gateway.Module,
		transaction.Module,
		session.Module,
		webhook.Module,
		scheduler.Module,

		server.Module,
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
