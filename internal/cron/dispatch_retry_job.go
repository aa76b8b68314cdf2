package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/terminalpay-backend/internal/payments"
	"github.com/angelmondragon/terminalpay-backend/pkg/logger"
)

const (
	DispatchRetryJobName = "dispatch-retry"

	defaultRetryBatchSize = 100
	defaultRetryMinAge    = 30 * time.Second
)

type dispatchRetrier interface {
	RetryPendingDispatch(ctx context.Context, minAge time.Duration, limit int) (payments.RetryReport, error)
}

// DispatchRetryJobParams configure the dispatch retry sweeper.
type DispatchRetryJobParams struct {
	Logger    *logger.Logger
	Payments  dispatchRetrier
	BatchSize int
	// MinAge keeps the sweeper away from payments whose intake call may still be publishing.
	MinAge time.Duration
}

// NewDispatchRetryJob builds the job that re-attempts unconfirmed PAY and CANCEL commands.
func NewDispatchRetryJob(params DispatchRetryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments service required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultRetryBatchSize
	}
	minAge := params.MinAge
	if minAge <= 0 {
		minAge = defaultRetryMinAge
	}
	return &dispatchRetryJob{
		logg:     params.Logger,
		payments: params.Payments,
		batch:    batch,
		minAge:   minAge,
	}, nil
}

type dispatchRetryJob struct {
	logg     *logger.Logger
	payments dispatchRetrier
	batch    int
	minAge   time.Duration
}

func (j *dispatchRetryJob) Name() string { return DispatchRetryJobName }

func (j *dispatchRetryJob) Run(ctx context.Context) error {
	report, err := j.payments.RetryPendingDispatch(ctx, j.minAge, j.batch)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"pay_scanned":     report.Pay.Scanned,
		"pay_failed":      report.Pay.Failed,
		"cancel_scanned":  report.Cancel.Scanned,
		"cancel_failed":   report.Cancel.Failed,
		"batch_size":      j.batch,
		"min_age_seconds": int(j.minAge.Seconds()),
	})
	if err != nil {
		return fmt.Errorf("retry pending dispatch: %w", err)
	}
	if report.Pay.Scanned+report.Cancel.Scanned > 0 {
		j.logg.Info(logCtx, "dispatch retry sweep handled pending commands")
	}
	return nil
}
