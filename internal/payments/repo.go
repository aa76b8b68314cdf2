package payments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/terminalpay-backend/pkg/db/models"
	"github.com/angelmondragon/terminalpay-backend/pkg/enums"
)

// Repository persists payment rows.
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

// InsertOrFetch inserts payment unless (merchant_id, idempotency_key) already
// exists. On conflict only updated_at of the existing row is refreshed and that
// row is returned. Callers run it inside a transaction.
func (r *Repository) InsertOrFetch(ctx context.Context, payment *models.Payment, now time.Time) (*models.Payment, bool, error) {
	if payment == nil {
		return nil, false, errors.New("payment required")
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "merchant_id"}, {Name: "idempotency_key"}},
			DoNothing: true,
		}).
		Create(payment)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 1 {
		return payment, true, nil
	}

	if err := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("merchant_id = ? AND idempotency_key = ?", payment.MerchantID, payment.IdempotencyKey).
		Update("updated_at", now).Error; err != nil {
		return nil, false, err
	}

	var existing models.Payment
	if err := r.db.WithContext(ctx).
		Where("merchant_id = ? AND idempotency_key = ?", payment.MerchantID, payment.IdempotencyKey).
		Take(&existing).Error; err != nil {
		return nil, false, err
	}
	return &existing, false, nil
}

func (r *Repository) FindByID(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).Where("payment_id = ?", paymentID).Take(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

// LockByID reads the row with SELECT ... FOR UPDATE. The lock lasts until the
// surrounding transaction ends.
func (r *Repository) LockByID(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("payment_id = ?", paymentID).
		Take(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// UpdateStatus sets status and updated_at, and completed_at when completedAt is non-nil.
func (r *Repository) UpdateStatus(ctx context.Context, paymentID uuid.UUID, status enums.PaymentStatus, now time.Time, completedAt *time.Time) error {
	updates := map[string]any{
		"status":     status,
		"updated_at": now,
	}
	if completedAt != nil {
		updates["completed_at"] = *completedAt
	}
	return r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("payment_id = ?", paymentID).
		Updates(updates).Error
}

// MarkCancelRequested stamps cancel_requested_at the first time a cancel is accepted.
func (r *Repository) MarkCancelRequested(ctx context.Context, paymentID uuid.UUID, now time.Time) error {
	if err := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("payment_id = ? AND cancel_requested_at IS NULL", paymentID).
		Update("cancel_requested_at", now).Error; err != nil {
		return err
	}
	return r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("payment_id = ?", paymentID).
		Update("updated_at", now).Error
}

// ListPendingDispatch returns in-progress payments whose PAY command was never
// confirmed, created at or before cutoff, oldest first. Payments with an
// accepted cancel are left to the CANCEL sweep.
func (r *Repository) ListPendingDispatch(ctx context.Context, cutoff time.Time, limit int) ([]models.Payment, error) {
	var rows []models.Payment
	err := r.db.WithContext(ctx).
		Where("status = ? AND dispatched_at IS NULL AND cancel_requested_at IS NULL AND created_at <= ?",
			enums.PaymentStatusInProgress, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// ListPendingCancel returns in-progress payments with an accepted cancel request
// whose CANCEL command was never confirmed.
func (r *Repository) ListPendingCancel(ctx context.Context, cutoff time.Time, limit int) ([]models.Payment, error) {
	var rows []models.Payment
	err := r.db.WithContext(ctx).
		Where("status = ? AND cancel_requested_at IS NOT NULL AND cancel_dispatched_at IS NULL AND cancel_requested_at <= ?",
			enums.PaymentStatusInProgress, cutoff).
		Order("cancel_requested_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
