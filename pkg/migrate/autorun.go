package migrate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/angelmondragon/terminalpay-backend/pkg/config"
	"github.com/angelmondragon/terminalpay-backend/pkg/db"
	"github.com/angelmondragon/terminalpay-backend/pkg/logger"
)

// MaybeRunDev brings the schema up to date on startup, but only in dev with
// TERMINALPAY_AUTO_MIGRATE set. Deployed environments run cmd/migrate instead.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if cfg == nil || !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	conn := client.DB()
	if conn == nil {
		return errors.New("auto-migrate: database client not initialized")
	}

	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "driver": cfg.DB.Driver})
	if strings.EqualFold(cfg.DB.Driver, db.DriverSQLite) {
		logg.Info(ctx, "applying sqlite schema")
		return ApplySQLiteSchema(ctx, conn)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	src := EmbeddedSource()
	if err := Run(ctx, sqlDB, src, "up"); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	logg.Info(logg.WithField(ctx, "source", src.String()), "migrations applied")
	return nil
}
