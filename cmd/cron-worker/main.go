package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/terminalpay-backend/internal/bootstrap"
	"github.com/angelmondragon/terminalpay-backend/internal/cron"
	"github.com/angelmondragon/terminalpay-backend/internal/dispatch"
	"github.com/angelmondragon/terminalpay-backend/pkg/config"
	"github.com/angelmondragon/terminalpay-backend/pkg/instance"
	"github.com/angelmondragon/terminalpay-backend/pkg/logger"
	"github.com/angelmondragon/terminalpay-backend/pkg/metrics"
	"github.com/angelmondragon/terminalpay-backend/pkg/pubsub"
)

const (
	serviceKind = "cron-worker"
	lockName    = "cron:dispatch-retry"
)

func main() {
	cfg, logg, err := bootstrap.LoadConfig(serviceKind)
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	if err := run(cfg, logg); err != nil {
		logg.Error(context.Background(), "cron worker exited with error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logg *logger.Logger) error {
	rt, err := bootstrap.Open(context.Background(), cfg, logg, pubsub.RolePublisher)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logg.Error(context.Background(), "error closing clients", err)
		}
	}()

	paymentsService, err := bootstrap.Payments(bootstrap.PaymentsParams{
		Config:    cfg,
		Logger:    logg,
		DB:        rt.DB,
		Publisher: dispatch.NewPubSubPublisher(rt.PubSub.CommandsPublisher()),
		Topic:     rt.PubSub.CommandsTopic(),
		Metrics:   metrics.NewPaymentMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		return fmt.Errorf("payments service: %w", err)
	}

	retryJob, err := cron.NewDispatchRetryJob(cron.DispatchRetryJobParams{
		Logger:    logg,
		Payments:  paymentsService,
		BatchSize: cfg.Dispatch.RetryBatchSize,
		MinAge:    cfg.Dispatch.RetryMinAge,
	})
	if err != nil {
		return fmt.Errorf("dispatch retry job: %w", err)
	}
	registry := cron.NewRegistry(retryJob)

	lock, err := cron.NewRedisLock(rt.Redis, rt.Redis.LockKey(lockName), cfg.Dispatch.RetryLockTTL)
	if err != nil {
		return fmt.Errorf("cron lock: %w", err)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Dispatch.RetryInterval,
	})
	if err != nil {
		return fmt.Errorf("cron service: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.ID(),
		"jobs":        registry.Names(),
		"lock":        lock.Key(),
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("cron loop: %w", err)
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
	return nil
}
