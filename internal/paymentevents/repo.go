package paymentevents

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/terminalpay-backend/pkg/db/models"
	"github.com/angelmondragon/terminalpay-backend/pkg/enums"
)

// Repository reads and appends payment_events rows. It never updates or deletes.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the supplied transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

func (r *Repository) Insert(ctx context.Context, event *models.PaymentEvent) error {
	if event == nil {
		return errors.New("event required")
	}
	return r.db.WithContext(ctx).Create(event).Error
}

// ListByPayment returns the audit trail of a payment, oldest first.
func (r *Repository) ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]models.PaymentEvent, error) {
	var rows []models.PaymentEvent
	err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("created_at ASC").
		Order("event_id ASC").
		Find(&rows).Error
	return rows, err
}

// FindByIdempotencyKey returns the event of the given type carrying key, or nil.
func (r *Repository) FindByIdempotencyKey(ctx context.Context, paymentID uuid.UUID, eventType enums.PaymentEventType, key string) (*models.PaymentEvent, error) {
	var row models.PaymentEvent
	err := r.db.WithContext(ctx).
		Where("payment_id = ? AND event_type = ? AND idempotency_key = ?", paymentID, eventType, key).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Latest returns the most recent event of the given type, or nil.
func (r *Repository) Latest(ctx context.Context, paymentID uuid.UUID, eventType enums.PaymentEventType) (*models.PaymentEvent, error) {
	var row models.PaymentEvent
	err := r.db.WithContext(ctx).
		Where("payment_id = ? AND event_type = ?", paymentID, eventType).
		Order("created_at DESC").
		Order("event_id DESC").
		Limit(1).
		Find(&row).Error
	if err != nil {
		return nil, err
	}
	if row.EventID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

func (r *Repository) CountByType(ctx context.Context, paymentID uuid.UUID, eventType enums.PaymentEventType) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.PaymentEvent{}).
		Where("payment_id = ? AND event_type = ?", paymentID, eventType).
		Count(&count).Error
	return count, err
}
