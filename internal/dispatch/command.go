package dispatch

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/terminalpay-backend/pkg/db/models"
	"github.com/angelmondragon/terminalpay-backend/pkg/enums"
)

// Command is the message the payment processor consumes from the commands topic.
// Amounts are minor currency units.
type Command struct {
	Operation      enums.CommandOperation `json:"operation"`
	PaymentID      string                 `json:"payment_id"`
	StoreID        string                 `json:"store_id"`
	TerminalID     string                 `json:"terminal_id"`
	Amount         *int64                 `json:"amount,omitempty"`
	CorrelationID  string                 `json:"correlation_id"`
	IdempotencyKey string                 `json:"idempotency_key"`
	RequestedAt    time.Time              `json:"requested_at"`
	Reason         string                 `json:"reason,omitempty"`
}

// NewPayCommand builds the PAY command for a payment.
func NewPayCommand(payment *models.Payment) Command {
	amount := payment.Amount
	return Command{
		Operation:      enums.CommandOperationPay,
		PaymentID:      payment.PaymentID.String(),
		StoreID:        payment.StoreID,
		TerminalID:     payment.TerminalID,
		Amount:         &amount,
		CorrelationID:  uuid.NewString(),
		IdempotencyKey: payment.IdempotencyKey,
		RequestedAt:    payment.RequestedAt.UTC(),
	}
}

// NewCancelCommand builds the CANCEL command. Without a cancel key the payment's
// own idempotency key is used so the processor can still correlate it.
func NewCancelCommand(payment *models.Payment, cancelKey, reason string, requestedAt time.Time) Command {
	key := cancelKey
	if key == "" {
		key = payment.IdempotencyKey
	}
	return Command{
		Operation:      enums.CommandOperationCancel,
		PaymentID:      payment.PaymentID.String(),
		StoreID:        payment.StoreID,
		TerminalID:     payment.TerminalID,
		CorrelationID:  uuid.NewString(),
		IdempotencyKey: key,
		RequestedAt:    requestedAt.UTC(),
		Reason:         reason,
	}
}

// OrderingKey partitions delivery per terminal.
func (c Command) OrderingKey() string {
	return c.TerminalID
}

// Attributes are the routing attributes attached to the message.
func (c Command) Attributes() map[string]string {
	return map[string]string{
		"store_id":    c.StoreID,
		"terminal_id": c.TerminalID,
		"operation":   string(c.Operation),
	}
}

func (c Command) Encode() ([]byte, error) {
	return json.Marshal(c)
}
