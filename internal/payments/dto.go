package payments

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/terminalpay-backend/internal/dispatch"
	"github.com/angelmondragon/terminalpay-backend/pkg/db/models"
	"github.com/angelmondragon/terminalpay-backend/pkg/enums"
)

const (
	MinIdempotencyKeyLength = 8
	MaxIdempotencyKeyLength = 128
)

// amounts are stored in minor units with two decimal places
const minorUnitExponent = -2

// PayRequest is the intake payload sent by a terminal.
type PayRequest struct {
	MerchantID     string             `json:"merchant_id" validate:"required"`
	StoreID        string             `json:"store_id" validate:"required"`
	TerminalID     string             `json:"terminal_id" validate:"required"`
	InvoiceID      *string            `json:"invoice_id,omitempty"`
	Amount         int64              `json:"amount" validate:"gt=0"`
	DebitCredit    *enums.DebitCredit `json:"debit_credit,omitempty" validate:"omitempty,oneof=DEBIT CREDIT"`
	IdempotencyKey string             `json:"idempotency_key" validate:"required,min=8,max=128,printascii"`
}

// ApplyEventRequest moves a payment to TargetStatus.
type ApplyEventRequest struct {
	EventType    enums.PaymentEventType `json:"event_type,omitempty"`
	TargetStatus enums.PaymentStatus    `json:"target_status" validate:"required"`
	Message      string                 `json:"message,omitempty"`
	Metadata     map[string]any         `json:"metadata,omitempty"`
}

// CancelRequest asks the processor to cancel an in-flight payment.
type CancelRequest struct {
	Reason         string `json:"reason,omitempty" validate:"omitempty,max=512"`
	RequestedBy    string `json:"requested_by,omitempty" validate:"omitempty,max=128"`
	IdempotencyKey string `json:"idempotency_key,omitempty" validate:"omitempty,min=8,max=128,printascii"`
}

// PaymentView is the status view returned to callers.
type PaymentView struct {
	PaymentID          uuid.UUID              `json:"payment_id"`
	MerchantID         string                 `json:"merchant_id"`
	StoreID            string                 `json:"store_id"`
	TerminalID         string                 `json:"terminal_id"`
	InvoiceID          *string                `json:"invoice_id,omitempty"`
	Amount             int64                  `json:"amount"`
	AmountDisplay      string                 `json:"amount_display"`
	DebitCredit        *enums.DebitCredit     `json:"debit_credit,omitempty"`
	Type               enums.CommandOperation `json:"type"`
	Status             enums.PaymentStatus    `json:"status"`
	IdempotencyKey     string                 `json:"idempotency_key"`
	RequestedAt        time.Time              `json:"requested_at"`
	CreatedAt          time.Time              `json:"created_at"`
	UpdatedAt          time.Time              `json:"updated_at"`
	DispatchedAt       *time.Time             `json:"dispatched_at"`
	CompletedAt        *time.Time             `json:"completed_at"`
	CancelRequestedAt  *time.Time             `json:"cancel_requested_at,omitempty"`
	CancelDispatchedAt *time.Time             `json:"cancel_dispatched_at,omitempty"`
}

// NewPaymentView renders a payment row.
func NewPaymentView(p *models.Payment) PaymentView {
	if p == nil {
		return PaymentView{}
	}
	return PaymentView{
		PaymentID:          p.PaymentID,
		MerchantID:         p.MerchantID,
		StoreID:            p.StoreID,
		TerminalID:         p.TerminalID,
		InvoiceID:          p.InvoiceID,
		Amount:             p.Amount,
		AmountDisplay:      decimal.New(p.Amount, minorUnitExponent).StringFixed(2),
		DebitCredit:        p.DebitCredit,
		Type:               p.Type,
		Status:             p.Status,
		IdempotencyKey:     p.IdempotencyKey,
		RequestedAt:        p.RequestedAt,
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
		DispatchedAt:       p.DispatchedAt,
		CompletedAt:        p.CompletedAt,
		CancelRequestedAt:  p.CancelRequestedAt,
		CancelDispatchedAt: p.CancelDispatchedAt,
	}
}

// IntakeResult is returned by CreateOrFetch.
type IntakeResult struct {
	Payment  PaymentView       `json:"payment"`
	IsNew    bool              `json:"is_new"`
	Dispatch *dispatch.Outcome `json:"dispatch,omitempty"`
}

// CancelResult is returned by RequestCancel. Payment is still IN_PROGRESS;
// the terminal CANCELED status arrives later as a processor outcome.
type CancelResult struct {
	Payment  PaymentView       `json:"payment"`
	Replayed bool              `json:"replayed"`
	Dispatch *dispatch.Outcome `json:"dispatch,omitempty"`
}

// EventView is one entry of a payment's audit trail.
type EventView struct {
	EventID        uuid.UUID              `json:"event_id"`
	EventType      enums.PaymentEventType `json:"event_type"`
	Message        string                 `json:"message,omitempty"`
	Payload        map[string]any         `json:"payload"`
	IdempotencyKey *string                `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

// RetryReport summarises a dispatch retry sweep.
type RetryReport struct {
	Pay    RetryCounts `json:"pay"`
	Cancel RetryCounts `json:"cancel"`
}

type RetryCounts struct {
	Scanned   int `json:"scanned"`
	Published int `json:"published"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

func (c *RetryCounts) record(outcome dispatch.Outcome) {
	c.Scanned++
	switch outcome.Status {
	case dispatch.StatusPublished:
		c.Published++
	case dispatch.StatusSkipped:
		c.Skipped++
	default:
		c.Failed++
	}
}
