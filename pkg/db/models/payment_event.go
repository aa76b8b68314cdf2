package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/terminalpay-backend/pkg/enums"
)

// PaymentEvent is an append-only entry in a payment's audit trail.
type PaymentEvent struct {
	EventID        uuid.UUID              `gorm:"column:event_id;type:uuid;primaryKey"`
	PaymentID      uuid.UUID              `gorm:"column:payment_id;type:uuid;not null"`
	EventType      enums.PaymentEventType `gorm:"column:event_type;not null"`
	Message        string                 `gorm:"column:message;not null"`
	Payload        json.RawMessage        `gorm:"column:payload;type:jsonb;not null"`
	IdempotencyKey *string                `gorm:"column:idempotency_key"`
	CreatedAt      time.Time              `gorm:"column:created_at"`
}

// TableName pins the table name used by the migrations.
func (PaymentEvent) TableName() string {
	return "payment_events"
}
