// Package bootstrap assembles the payment orchestration graph shared by the binaries.
package bootstrap

import (
	"errors"
	"fmt"

	"github.com/angelmondragon/terminalpay-backend/internal/dispatch"
	"github.com/angelmondragon/terminalpay-backend/internal/lifecycle"
	"github.com/angelmondragon/terminalpay-backend/internal/paymentevents"
	"github.com/angelmondragon/terminalpay-backend/internal/payments"
	"github.com/angelmondragon/terminalpay-backend/pkg/config"
	"github.com/angelmondragon/terminalpay-backend/pkg/db"
	"github.com/angelmondragon/terminalpay-backend/pkg/logger"
	"github.com/angelmondragon/terminalpay-backend/pkg/metrics"
)

// PaymentsParams are the runtime collaborators of the payments service.
type PaymentsParams struct {
	Config    *config.Config
	Logger    *logger.Logger
	DB        *db.Client
	Publisher dispatch.Publisher
	Topic     string
	Metrics   *metrics.PaymentMetrics
}

// Payments wires the event log, dispatch coordinator and orchestration service.
func Payments(params PaymentsParams) (payments.Service, error) {
	if params.Config == nil {
		return nil, errors.New("config required")
	}
	if params.DB == nil {
		return nil, errors.New("database client required")
	}

	events := paymentevents.NewLog(paymentevents.NewRepository(params.DB.DB()), params.Logger)

	coordinator, err := dispatch.NewCoordinator(dispatch.CoordinatorParams{
		DB:             params.DB,
		Events:         events,
		Publisher:      params.Publisher,
		Topic:          params.Topic,
		PublishTimeout: params.Config.Dispatch.PublishTimeout,
		Logger:         params.Logger,
		Metrics:        params.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("dispatch coordinator: %w", err)
	}

	svc, err := payments.NewService(payments.ServiceParams{
		DB:           params.DB,
		Repo:         payments.NewRepository(params.DB.DB()),
		Events:       events,
		Dispatcher:   coordinator,
		Policy:       lifecycle.DefaultPolicy(),
		Logger:       params.Logger,
		Metrics:      params.Metrics,
		QueryTimeout: params.Config.DB.QueryTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("payments service: %w", err)
	}
	return svc, nil
}
