package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/coursemart/internal/audit"
	"github.com/smallbiznis/coursemart/internal/cache"
	"github.com/smallbiznis/coursemart/internal/catalog"
	"github.com/smallbiznis/coursemart/internal/clock"
	"github.com/smallbiznis/coursemart/internal/config"
	"github.com/smallbiznis/coursemart/internal/enrollment"
	"github.com/smallbiznis/coursemart/internal/observability"
	"github.com/smallbiznis/coursemart/internal/payment"
	"github.com/smallbiznis/coursemart/internal/purchase"
	"github.com/smallbiznis/coursemart/internal/ratelimit"
	"github.com/smallbiznis/coursemart/internal/reconcile"
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

		// Domain services required by the sweeper
		audit.Module,
		catalog.Module,
		enrollment.Module,
		purchase.Module,
		payment.Module,
		reconcile.Module,
		sweeper.Module,

		// No server module!
		sweeper.RunLoop,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
