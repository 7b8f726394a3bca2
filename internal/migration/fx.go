package migration

import (
	"strings"

	"github.com/smallbiznis/vestora/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		switch strings.ToLower(strings.TrimSpace(cfg.DBType)) {
		case "postgres", "postgresql":
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			version, err := RunMigrations(sqlDB)
			if err != nil {
				return err
			}
			log.Info("database migrated", zap.Uint("version", version))
			return nil
		case "sqlite":
			return ApplySQLiteSchema(conn)
		default:
			log.Warn("no embedded migrations for database type, schema must exist", zap.String("db_type", cfg.DBType))
			return nil
		}
	}),
)
