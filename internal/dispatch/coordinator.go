package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"gorm.io/gorm"

	"github.com/angelmondragon/terminalpay-backend/internal/paymentevents"
	"github.com/angelmondragon/terminalpay-backend/pkg/db/models"
	"github.com/angelmondragon/terminalpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/terminalpay-backend/pkg/errors"
	"github.com/angelmondragon/terminalpay-backend/pkg/logger"
	"github.com/angelmondragon/terminalpay-backend/pkg/metrics"
)

const defaultPublishTimeout = 10 * time.Second

// Outcome statuses.
const (
	StatusPublished = "published"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
)

// failure stages recorded on DISPATCH_ERROR events
const (
	stageClaim   = "claim"
	stagePublish = "publish"
	stageCommit  = "commit"
)

var errPublishNotConfirmed = errors.New("publish not confirmed")

type dbClient interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type eventLog interface {
	Append(ctx context.Context, tx *gorm.DB, entry paymentevents.Entry) (*models.PaymentEvent, error)
}

// Outcome reports what a dispatch attempt did. Err is set only when the
// command may not have reached the processor; it never means the payment failed.
type Outcome struct {
	Operation     enums.CommandOperation `json:"operation"`
	Status        string                 `json:"status"`
	MessageID     string                 `json:"message_id,omitempty"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Error         string                 `json:"error,omitempty"`
	Err           error                  `json:"-"`
}

type CoordinatorParams struct {
	DB             dbClient
	Events         eventLog
	Publisher      Publisher
	Topic          string
	PublishTimeout time.Duration
	Logger         *logger.Logger
	Metrics        *metrics.PaymentMetrics
	Clock          func() time.Time
}

// Coordinator claims the right to publish a command and publishes it on the
// ordered commands channel. The claim column is set inside a transaction that
// stays open until the broker acknowledges; a failed publish rolls the claim
// back, so an observable claim is never cleared. A crash between the broker ack
// and the commit leaves the claim unset and the command is sent again on retry:
// at most once intended, at least once under crash.
type Coordinator struct {
	db        dbClient
	events    eventLog
	publisher Publisher
	topic     string
	timeout   time.Duration
	logg      *logger.Logger
	metrics   *metrics.PaymentMetrics
	now       func() time.Time
}

func NewCoordinator(params CoordinatorParams) (*Coordinator, error) {
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Events == nil {
		return nil, errors.New("event log is required")
	}
	if params.Publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	timeout := params.PublishTimeout
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	clock := params.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Coordinator{
		db:        params.DB,
		events:    params.Events,
		publisher: params.Publisher,
		topic:     params.Topic,
		timeout:   timeout,
		logg:      params.Logger,
		metrics:   params.Metrics,
		now:       clock,
	}, nil
}

// ClaimAndDispatch publishes cmd for payment unless its claim is already taken.
// The returned error is reserved for invalid input; delivery problems are
// reported through Outcome.Err as a dispatch error.
func (c *Coordinator) ClaimAndDispatch(ctx context.Context, payment *models.Payment, cmd Command) (Outcome, error) {
	if payment == nil {
		return Outcome{}, pkgerrors.New(pkgerrors.CodeValidation, "payment required")
	}
	column, dispatchedEvent, err := claimFor(cmd.Operation)
	if err != nil {
		return Outcome{}, err
	}

	outcome := Outcome{Operation: cmd.Operation, CorrelationID: cmd.CorrelationID}
	ctx = c.logg.WithPaymentID(ctx, payment.PaymentID.String())
	ctx = c.logg.WithTerminalID(ctx, payment.TerminalID)
	ctx = c.logg.WithOperation(ctx, string(cmd.Operation))

	if alreadyClaimed(payment, cmd.Operation) {
		outcome.Status = StatusSkipped
		c.metrics.IncDispatch(string(cmd.Operation), metrics.DispatchSkipped)
		return outcome, nil
	}

	data, err := cmd.Encode()
	if err != nil {
		return Outcome{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode command")
	}

	var (
		claimed   bool
		messageID string
		claimedAt time.Time
		stage     = stageClaim
		failure   error
	)
	txErr := c.db.WithTx(ctx, func(tx *gorm.DB) error {
		claimedAt = c.now()
		res := tx.Model(&models.Payment{}).
			Where(claimCondition(cmd.Operation, column), payment.PaymentID, enums.PaymentStatusInProgress).
			Updates(map[string]any{column: claimedAt, "updated_at": claimedAt})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		claimed = true

		stage = stagePublish
		id, pubErr := c.publish(ctx, cmd, data)
		if pubErr != nil {
			failure = pubErr
			return errPublishNotConfirmed
		}
		messageID = id

		stage = stageCommit
		_, appendErr := c.events.Append(ctx, tx, paymentevents.Entry{
			PaymentID:  payment.PaymentID,
			Type:       dispatchedEvent,
			Message:    fmt.Sprintf("%s command published to Pub/Sub", cmd.Operation),
			OccurredAt: claimedAt,
			Data: map[string]any{
				"topic":          c.topic,
				"attributes":     cmd.Attributes(),
				"ordering_key":   cmd.OrderingKey(),
				"message_id":     id,
				"correlation_id": cmd.CorrelationID,
			},
		})
		return appendErr
	})

	if txErr == nil && !claimed {
		outcome.Status = StatusSkipped
		c.metrics.IncDispatch(string(cmd.Operation), metrics.DispatchSkipped)
		c.logg.Debug(ctx, "dispatch claim already taken")
		return outcome, nil
	}

	if txErr == nil {
		setClaim(payment, cmd.Operation, claimedAt)
		payment.UpdatedAt = claimedAt
		outcome.Status = StatusPublished
		outcome.MessageID = messageID
		c.metrics.IncDispatch(string(cmd.Operation), metrics.DispatchPublished)
		c.logg.Info(c.logg.WithField(ctx, "message_id", messageID), "command dispatched")
		return outcome, nil
	}

	cause := txErr
	if errors.Is(txErr, errPublishNotConfirmed) {
		cause = failure
		c.publisher.ResumePublish(cmd.OrderingKey())
	}
	if stage == stageCommit {
		// acknowledged by the broker but not recorded: the retry path will publish again
		c.logg.Warn(c.logg.WithField(ctx, "message_id", messageID), "command published but claim not committed")
	}

	dispatchErr := pkgerrors.Wrap(pkgerrors.CodeDispatch, cause, fmt.Sprintf("%s command not confirmed", cmd.Operation)).
		WithDetails(map[string]any{
			"payment_id": payment.PaymentID.String(),
			"operation":  string(cmd.Operation),
			"stage":      stage,
		})
	c.recordFailure(ctx, payment, cmd, stage, cause)

	outcome.Status = StatusFailed
	outcome.Error = pkgerrors.MetadataFor(pkgerrors.CodeDispatch).PublicMessage
	outcome.Err = dispatchErr
	c.metrics.IncDispatch(string(cmd.Operation), metrics.DispatchFailed)
	c.logg.Error(c.logg.WithField(ctx, "stage", stage), "command dispatch failed", dispatchErr)
	return outcome, nil
}

func (c *Coordinator) publish(ctx context.Context, cmd Command, data []byte) (string, error) {
	publishCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		c.metrics.ObservePublish(string(cmd.Operation), time.Since(start))
	}()

	result := c.publisher.Publish(publishCtx, &gcppubsub.Message{
		Data:        data,
		Attributes:  cmd.Attributes(),
		OrderingKey: cmd.OrderingKey(),
	})
	if result == nil {
		return "", errors.New("publisher returned no result")
	}
	return result.Get(publishCtx)
}

// recordFailure appends DISPATCH_ERROR in its own transaction since the claim
// transaction has been rolled back.
func (c *Coordinator) recordFailure(ctx context.Context, payment *models.Payment, cmd Command, stage string, cause error) {
	errMsg := ""
	if cause != nil {
		errMsg = cause.Error()
	}
	err := c.db.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := c.events.Append(ctx, tx, paymentevents.Entry{
			PaymentID: payment.PaymentID,
			Type:      enums.PaymentEventDispatchError,
			Message:   fmt.Sprintf("Failed to publish %s command", cmd.Operation),
			Data: map[string]any{
				"operation":      string(cmd.Operation),
				"stage":          stage,
				"error":          errMsg,
				"correlation_id": cmd.CorrelationID,
				"ordering_key":   cmd.OrderingKey(),
			},
		})
		return err
	})
	if err != nil {
		c.logg.Error(ctx, "failed to record dispatch error event", err)
	}
}

func claimFor(op enums.CommandOperation) (string, enums.PaymentEventType, error) {
	switch op {
	case enums.CommandOperationPay:
		return "dispatched_at", enums.PaymentEventDispatched, nil
	case enums.CommandOperationCancel:
		return "cancel_dispatched_at", enums.PaymentEventCancelDispatched, nil
	default:
		return "", "", pkgerrors.Newf(pkgerrors.CodeValidation, "unsupported operation %q", op)
	}
}

// claimCondition selects the row only while the claim is open. PAY is never
// claimed once a cancel was accepted, so it cannot follow CANCEL on the
// terminal's ordering key.
func claimCondition(op enums.CommandOperation, column string) string {
	cond := "payment_id = ? AND status = ? AND " + column + " IS NULL"
	if op == enums.CommandOperationPay {
		cond += " AND cancel_requested_at IS NULL"
	}
	return cond
}

func alreadyClaimed(payment *models.Payment, op enums.CommandOperation) bool {
	if op == enums.CommandOperationCancel {
		return payment.CancelDispatchedAt != nil
	}
	return payment.DispatchedAt != nil || payment.CancelRequestedAt != nil
}

func setClaim(payment *models.Payment, op enums.CommandOperation, at time.Time) {
	ts := at
	if op == enums.CommandOperationCancel {
		payment.CancelDispatchedAt = &ts
		return
	}
	payment.DispatchedAt = &ts
}
