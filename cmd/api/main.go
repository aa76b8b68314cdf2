package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/terminalpay-backend/api/controllers"
	"github.com/angelmondragon/terminalpay-backend/api/routes"
	"github.com/angelmondragon/terminalpay-backend/internal/bootstrap"
	"github.com/angelmondragon/terminalpay-backend/internal/dispatch"
	"github.com/angelmondragon/terminalpay-backend/pkg/config"
	"github.com/angelmondragon/terminalpay-backend/pkg/env"
	"github.com/angelmondragon/terminalpay-backend/pkg/instance"
	"github.com/angelmondragon/terminalpay-backend/pkg/logger"
	"github.com/angelmondragon/terminalpay-backend/pkg/metrics"
	"github.com/angelmondragon/terminalpay-backend/pkg/pubsub"
)

const serviceKind = "api"

func main() {
	cfg, logg, err := bootstrap.LoadConfig(serviceKind)
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	if err := run(cfg, logg); err != nil {
		logg.Error(context.Background(), "api exited with error", err)
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

	// PORT is set by Cloud Run and wins over the configured port.
	addr := ":" + env.Get("PORT", cfg.App.Port)
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.ID(),
	})

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:   cfg,
			Logger:   logg,
			Deps:     controllers.Dependencies{DB: rt.DB, Redis: rt.Redis, PubSub: rt.PubSub},
			Payments: paymentsService,
		}),
		ReadTimeout:  cfg.App.ReadTimeout,
		WriteTimeout: cfg.App.WriteTimeout,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
	case <-sigCtx.Done():
		logg.Info(ctx, "shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
	}
	logg.Info(ctx, "api server stopped")
	return nil
}
