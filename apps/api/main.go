package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/coursemart/internal/audit"
	"github.com/smallbiznis/coursemart/internal/authorization"
	"github.com/smallbiznis/coursemart/internal/cache"
	"github.com/smallbiznis/coursemart/internal/catalog"
	"github.com/smallbiznis/coursemart/internal/clock"
	"github.com/smallbiznis/coursemart/internal/config"
	"github.com/smallbiznis/coursemart/internal/enrollment"
	"github.com/smallbiznis/coursemart/internal/identity"
	"github.com/smallbiznis/coursemart/internal/observability"
	"github.com/smallbiznis/coursemart/internal/payment"
	"github.com/smallbiznis/coursemart/internal/purchase"
	"github.com/smallbiznis/coursemart/internal/ratelimit"
	"github.com/smallbiznis/coursemart/internal/reconcile"
	"github.com/smallbiznis/coursemart/internal/server"
	"github.com/smallbiznis/coursemart/internal/sweeper"
	"github.com/smallbiznis/coursemart/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		cache.Module,
		ratelimit.Module,

		audit.Module,
		catalog.Module,
		enrollment.Module,
		identity.Module,
		authorization.Module,
		purchase.Module,
		payment.Module,
		reconcile.Module,

		// Operators can still trigger a pass; the loop runs in apps/sweeper.
		sweeper.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
