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
	"github.com/angelmondragon/terminalpay-backend/internal/dispatch"
	"github.com/angelmondragon/terminalpay-backend/internal/outcomes"
	"github.com/angelmondragon/terminalpay-backend/pkg/config"
	"github.com/angelmondragon/terminalpay-backend/pkg/idempotency"
	"github.com/angelmondragon/terminalpay-backend/pkg/instance"
	"github.com/angelmondragon/terminalpay-backend/pkg/logger"
	"github.com/angelmondragon/terminalpay-backend/pkg/metrics"
	"github.com/angelmondragon/terminalpay-backend/pkg/pubsub"
)

const serviceKind = "outcome-worker"

func main() {
	cfg, logg, err := bootstrap.LoadConfig(serviceKind)
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	if err := run(cfg, logg); err != nil {
		logg.Error(context.Background(), "outcome worker exited with error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logg *logger.Logger) error {
	rt, err := bootstrap.Open(context.Background(), cfg, logg, pubsub.RoleSubscriber)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logg.Error(context.Background(), "error closing clients", err)
		}
	}()

	subscription := rt.PubSub.OutcomesSubscription()
	if subscription == nil {
		return errors.New("TERMINALPAY_PUBSUB_OUTCOMES_SUBSCRIPTION is empty")
	}

	paymentMetrics := metrics.NewPaymentMetrics(prometheus.DefaultRegisterer)
	paymentsService, err := bootstrap.Payments(bootstrap.PaymentsParams{
		Config:    cfg,
		Logger:    logg,
		DB:        rt.DB,
		Publisher: dispatch.NewPubSubPublisher(rt.PubSub.CommandsPublisher()),
		Topic:     rt.PubSub.CommandsTopic(),
		Metrics:   paymentMetrics,
	})
	if err != nil {
		return fmt.Errorf("payments service: %w", err)
	}

	guard, err := idempotency.NewGuard(rt.Redis, outcomes.ConsumerName, cfg.Eventing.OutcomeIdempotencyTTL)
	if err != nil {
		return fmt.Errorf("idempotency guard: %w", err)
	}

	consumer, err := outcomes.NewConsumer(paymentsService, subscription, guard, logg, paymentMetrics)
	if err != nil {
		return fmt.Errorf("outcome consumer: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":          cfg.App.Env,
		"serviceKind":  cfg.Service.Kind,
		"instance":     instance.ID(),
		"subscription": cfg.PubSub.OutcomesSubscription,
	})
	logg.Info(ctx, "starting outcome worker")

	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("receive outcomes: %w", err)
	}
	logg.Info(ctx, "outcome worker shutting down gracefully")
	return nil
}
