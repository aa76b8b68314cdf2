package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/terminalpay-backend/pkg/enums"
)

// Payment is the mutable projection of one logical terminal payment.
type Payment struct {
	PaymentID          uuid.UUID              `gorm:"column:payment_id;type:uuid;primaryKey"`
	MerchantID         string                 `gorm:"column:merchant_id;not null"`
	StoreID            string                 `gorm:"column:store_id;not null"`
	TerminalID         string                 `gorm:"column:terminal_id;not null"`
	InvoiceID          *string                `gorm:"column:invoice_id"`
	Amount             int64                  `gorm:"column:amount;not null"`
	DebitCredit        *enums.DebitCredit     `gorm:"column:debit_credit"`
	Type               enums.CommandOperation `gorm:"column:type;not null;default:'PAY'"`
	Status             enums.PaymentStatus    `gorm:"column:status;not null;default:'IN_PROGRESS'"`
	IdempotencyKey     string                 `gorm:"column:idempotency_key;not null"`
	RequestedAt        time.Time              `gorm:"column:requested_at;not null"`
	CreatedAt          time.Time              `gorm:"column:created_at"`
	UpdatedAt          time.Time              `gorm:"column:updated_at"`
	DispatchedAt       *time.Time             `gorm:"column:dispatched_at"`
	CompletedAt        *time.Time             `gorm:"column:completed_at"`
	CancelRequestedAt  *time.Time             `gorm:"column:cancel_requested_at"`
	CancelDispatchedAt *time.Time             `gorm:"column:cancel_dispatched_at"`
}

// TableName pins the table name used by the migrations.
func (Payment) TableName() string {
	return "payments"
}
