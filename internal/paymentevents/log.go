package paymentevents

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/terminalpay-backend/pkg/db"
	"github.com/angelmondragon/terminalpay-backend/pkg/db/models"
	"github.com/angelmondragon/terminalpay-backend/pkg/enums"
	"github.com/angelmondragon/terminalpay-backend/pkg/logger"
)

// ErrDuplicate is returned when an event with the same idempotency key already exists.
var ErrDuplicate = errors.New("payment event already recorded")

// Entry describes an event to append.
type Entry struct {
	PaymentID      uuid.UUID
	Type           enums.PaymentEventType
	Message        string
	Data           any
	IdempotencyKey string
	OccurredAt     time.Time
}

// Log appends events inside the caller's transaction so the event and the
// projection change it justifies commit together.
type Log struct {
	repo *Repository
	logg *logger.Logger
}

func NewLog(repo *Repository, logg *logger.Logger) *Log {
	return &Log{repo: repo, logg: logg}
}

// Append writes entry using tx.
func (l *Log) Append(ctx context.Context, tx *gorm.DB, entry Entry) (*models.PaymentEvent, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	if entry.PaymentID == uuid.Nil {
		return nil, errors.New("payment id required")
	}
	if entry.Type == "" {
		return nil, errors.New("event type required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	payload := json.RawMessage(`{}`)
	if entry.Data != nil {
		raw, err := json.Marshal(entry.Data)
		if err != nil {
			return nil, err
		}
		payload = raw
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}

	row := &models.PaymentEvent{
		EventID:   uuid.New(),
		PaymentID: entry.PaymentID,
		EventType: entry.Type,
		Message:   entry.Message,
		Payload:   payload,
		CreatedAt: entry.OccurredAt,
	}
	if entry.IdempotencyKey != "" {
		key := entry.IdempotencyKey
		row.IdempotencyKey = &key
	}

	if err := l.repo.WithTx(tx).Insert(ctx, row); err != nil {
		if row.IdempotencyKey != nil && dbpkg.IsUniqueViolation(err, "") {
			return nil, ErrDuplicate
		}
		return nil, err
	}

	if l.logg != nil {
		logCtx := l.logg.WithFields(ctx, map[string]any{
			"event_id":   row.EventID.String(),
			"event_type": row.EventType,
			"payment_id": row.PaymentID.String(),
		})
		l.logg.Debug(logCtx, "payment event appended")
	}
	return row, nil
}

// List returns the audit trail for a payment.
func (l *Log) List(ctx context.Context, paymentID uuid.UUID) ([]models.PaymentEvent, error) {
	return l.repo.ListByPayment(ctx, paymentID)
}

// Repo exposes the read side for transaction-scoped lookups.
func (l *Log) Repo() *Repository {
	return l.repo
}
