package migration

import (
	"context"

	"github.com/smallbiznis/coursemart/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(lc fx.Lifecycle, conn *gorm.DB, cfg config.Config, log *zap.Logger) {
		if !cfg.MigrateOnStart {
			return
		}
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				if err := Apply(ctx, conn); err != nil {
					return err
				}
				log.Info("schema migrated", zap.String("dialect", conn.Dialector.Name()))
				return nil
			},
		})
	}),
)

// Apply migrates conn with the strategy matching its dialect.
func Apply(ctx context.Context, conn *gorm.DB) error {
	if conn.Dialector.Name() != "postgres" {
		return ApplyPortableSchema(ctx, conn)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return RunMigrations(sqlDB)
}
