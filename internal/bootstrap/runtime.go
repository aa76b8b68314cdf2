package bootstrap

import (
	"context"
	"fmt"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"

	"github.com/angelmondragon/terminalpay-backend/pkg/config"
	"github.com/angelmondragon/terminalpay-backend/pkg/db"
	"github.com/angelmondragon/terminalpay-backend/pkg/logger"
	"github.com/angelmondragon/terminalpay-backend/pkg/migrate"
	"github.com/angelmondragon/terminalpay-backend/pkg/pubsub"
	"github.com/angelmondragon/terminalpay-backend/pkg/redis"
)

// Runtime holds the process-wide clients. They are opened once at startup and
// shared by every request or message the binary handles.
type Runtime struct {
	Config *config.Config
	Logger *logger.Logger
	DB     *db.Client
	Redis  *redis.Client
	PubSub *pubsub.Client

	closers []func() error
}

// LoadConfig reads .env (if present) and the environment, then builds the
// service logger at the configured level.
func LoadConfig(serviceKind string) (*config.Config, *logger.Logger, error) {
	bootLog := logger.New(logger.Options{ServiceName: serviceKind})
	if err := godotenv.Load(); err != nil {
		bootLog.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, bootLog, fmt.Errorf("load config: %w", err)
	}
	cfg.Service.Kind = serviceKind

	logg := logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	return cfg, logg, nil
}

// Open connects the database (running dev migrations when enabled), Redis and
// Pub/Sub with the resources role needs. On failure everything already opened
// is closed again.
func Open(ctx context.Context, cfg *config.Config, logg *logger.Logger, role pubsub.Role) (rt *Runtime, err error) {
	rt = &Runtime{Config: cfg, Logger: logg}
	defer func() {
		if err != nil {
			err = multierr.Append(err, rt.Close())
			rt = nil
		}
	}()

	if rt.DB, err = db.New(ctx, cfg.DB, logg); err != nil {
		return rt, fmt.Errorf("database: %w", err)
	}
	rt.closers = append(rt.closers, rt.DB.Close)

	if err = migrate.MaybeRunDev(ctx, cfg, logg, rt.DB); err != nil {
		return rt, fmt.Errorf("dev migrations: %w", err)
	}

	if rt.Redis, err = redis.New(ctx, cfg.Redis, logg); err != nil {
		return rt, fmt.Errorf("redis: %w", err)
	}
	rt.closers = append(rt.closers, rt.Redis.Close)

	if rt.PubSub, err = pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, role, logg); err != nil {
		return rt, fmt.Errorf("pubsub: %w", err)
	}
	rt.closers = append(rt.closers, rt.PubSub.Close)
	return rt, nil
}

// Close releases clients in reverse open order and reports every failure.
func (r *Runtime) Close() error {
	if r == nil {
		return nil
	}
	var err error
	for i := len(r.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, r.closers[i]())
	}
	r.closers = nil
	return err
}
