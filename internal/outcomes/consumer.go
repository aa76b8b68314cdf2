package outcomes

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/terminalpay-backend/internal/payments"
	"github.com/angelmondragon/terminalpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/terminalpay-backend/pkg/errors"
	"github.com/angelmondragon/terminalpay-backend/pkg/idempotency"
	"github.com/angelmondragon/terminalpay-backend/pkg/logger"
	"github.com/angelmondragon/terminalpay-backend/pkg/metrics"
)

// ConsumerName scopes the redelivery guard keys.
const ConsumerName = "payment-outcomes"

// handling results, also used as metric labels
const (
	resultApplied   = "applied"
	resultDuplicate = "duplicate"
	resultRejected  = "rejected"
	resultUnknown   = "unknown_payment"
	resultMalformed = "malformed"
	resultRetry     = "retry"
)

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

type eventApplier interface {
	ApplyEvent(ctx context.Context, paymentID uuid.UUID, req payments.ApplyEventRequest) (*payments.PaymentView, error)
}

// Message is the outcome the payment processor publishes for a command.
type Message struct {
	PaymentID          uuid.UUID              `json:"payment_id"`
	Status             enums.PaymentStatus    `json:"status"`
	EventType          enums.PaymentEventType `json:"event_type,omitempty"`
	ProcessorReference string                 `json:"processor_reference,omitempty"`
	Message            string                 `json:"message,omitempty"`
	Metadata           map[string]any         `json:"metadata,omitempty"`
	OccurredAt         *time.Time             `json:"occurred_at,omitempty"`
}

// Consumer applies processor outcomes to payments through the lifecycle policy.
type Consumer struct {
	payments     eventApplier
	subscription receiver
	guard        *idempotency.Guard
	logg         *logger.Logger
	metrics      *metrics.PaymentMetrics
}

func NewConsumer(applier eventApplier, subscription receiver, guard *idempotency.Guard, logg *logger.Logger, m *metrics.PaymentMetrics) (*Consumer, error) {
	if applier == nil {
		return nil, fmt.Errorf("payments service required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("outcomes subscription required")
	}
	if guard == nil {
		return nil, fmt.Errorf("idempotency guard required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		payments:     applier,
		subscription: subscription,
		guard:        guard,
		logg:         logg,
		metrics:      m,
	}, nil
}

// Run receives until ctx is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg.ID, msg.Data)
		c.metrics.IncOutcome(result.label)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	label string
	nack  bool
}

func (c *Consumer) process(ctx context.Context, messageID string, data []byte) processResult {
	logCtx := c.logg.WithField(ctx, "message_id", messageID)

	var outcome Message
	if err := json.Unmarshal(data, &outcome); err != nil {
		c.logg.Error(logCtx, "failed to decode outcome", err)
		return processResult{label: resultMalformed}
	}
	if outcome.PaymentID == uuid.Nil || outcome.Status == "" {
		c.logg.Warn(logCtx, "outcome missing payment id or status")
		return processResult{label: resultMalformed}
	}
	logCtx = c.logg.WithPaymentID(logCtx, outcome.PaymentID.String())
	logCtx = c.logg.WithField(logCtx, "status", string(outcome.Status))

	claimed, err := c.guard.Claim(ctx, messageID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{label: resultRetry, nack: true}
	}
	if !claimed {
		c.logg.Info(logCtx, "outcome already processed")
		return processResult{label: resultDuplicate}
	}

	_, err = c.payments.ApplyEvent(ctx, outcome.PaymentID, applyRequest(messageID, outcome))
	switch {
	case err == nil:
		c.logg.Info(logCtx, "outcome applied")
		return processResult{label: resultApplied}
	case pkgerrors.Is(err, pkgerrors.CodeInvalidTransition), pkgerrors.Is(err, pkgerrors.CodeValidation):
		c.logg.Warn(logCtx, "outcome rejected by lifecycle policy")
		return processResult{label: resultRejected}
	case pkgerrors.Is(err, pkgerrors.CodeNotFound):
		c.logg.Warn(logCtx, "outcome for unknown payment")
		return processResult{label: resultUnknown}
	default:
		c.logg.Error(logCtx, "outcome handling failed", err)
		if delErr := c.guard.Forget(ctx, messageID); delErr != nil {
			c.logg.Error(logCtx, "failed to clear idempotency mark", delErr)
		}
		return processResult{label: resultRetry, nack: true}
	}
}

func applyRequest(messageID string, outcome Message) payments.ApplyEventRequest {
	metadata := make(map[string]any, len(outcome.Metadata)+3)
	for k, v := range outcome.Metadata {
		metadata[k] = v
	}
	metadata["message_id"] = messageID
	if outcome.ProcessorReference != "" {
		metadata["processor_reference"] = outcome.ProcessorReference
	}
	if outcome.OccurredAt != nil {
		metadata["occurred_at"] = outcome.OccurredAt.UTC().Format(time.RFC3339Nano)
	}
	return payments.ApplyEventRequest{
		EventType:    outcome.EventType,
		TargetStatus: outcome.Status,
		Message:      outcome.Message,
		Metadata:     metadata,
	}
}
