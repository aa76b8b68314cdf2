package migrate

import (
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/terminalpay-backend/pkg/config"
	"github.com/angelmondragon/terminalpay-backend/pkg/db"
	"github.com/angelmondragon/terminalpay-backend/pkg/logger"
)

func devConfig(driver, dsn string, autoMigrate bool) *config.Config {
	cfg := &config.Config{}
	cfg.App.Env = config.AppEnvDev
	cfg.DB.Driver = driver
	cfg.DB.DSN = dsn
	cfg.FeatureFlags.AutoMigrate = autoMigrate
	return cfg
}

func TestMaybeRunDevAppliesSQLiteSchema(t *testing.T) {
	ctx := context.Background()
	cfg := devConfig(db.DriverSQLite, "file:"+uuid.NewString()+"?mode=memory&cache=shared", true)
	client, err := db.New(ctx, cfg.DB, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	logg := logger.New(logger.Options{ServiceName: "migrate-test", Output: io.Discard})
	require.NoError(t, MaybeRunDev(ctx, cfg, logg, client))

	assert.True(t, client.DB().Migrator().HasTable("payments"))
	assert.True(t, client.DB().Migrator().HasTable("payment_events"))
}

func TestMaybeRunDevSkipsOutsideDev(t *testing.T) {
	cfg := devConfig(db.DriverSQLite, "unused", true)
	cfg.App.Env = config.AppEnvProd
	assert.NoError(t, MaybeRunDev(context.Background(), cfg, nil, nil))

	cfg = devConfig(db.DriverSQLite, "unused", false)
	assert.NoError(t, MaybeRunDev(context.Background(), cfg, nil, nil))
}

func TestMaybeRunDevRequiresClient(t *testing.T) {
	cfg := devConfig(db.DriverSQLite, "unused", true)
	assert.Error(t, MaybeRunDev(context.Background(), cfg, nil, nil))
}

func TestSourceRequiresDBAndDir(t *testing.T) {
	assert.Error(t, Run(context.Background(), nil, EmbeddedSource(), "status"))
	assert.Error(t, MigrateTo(context.Background(), nil, EmbeddedSource(), "not-a-version"))
	assert.Equal(t, "embedded:migrations", EmbeddedSource().String())
	assert.Equal(t, DefaultDir, DiskSource(DefaultDir).String())
}
