package migrate

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// sqliteSchema mirrors the Postgres migrations for local runs and tests on SQLite.
// Timestamps are DATETIME so the driver scans them back into time.Time.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS payments (
  payment_id TEXT PRIMARY KEY,
  merchant_id TEXT NOT NULL,
  store_id TEXT NOT NULL,
  terminal_id TEXT NOT NULL,
  invoice_id TEXT,
  amount INTEGER NOT NULL CHECK (amount > 0),
  debit_credit TEXT,
  type TEXT NOT NULL DEFAULT 'PAY',
  status TEXT NOT NULL DEFAULT 'IN_PROGRESS',
  idempotency_key TEXT NOT NULL,
  requested_at DATETIME NOT NULL,
  created_at DATETIME,
  updated_at DATETIME,
  dispatched_at DATETIME,
  completed_at DATETIME,
  cancel_requested_at DATETIME,
  cancel_dispatched_at DATETIME,
  UNIQUE (merchant_id, idempotency_key)
);`,
	`CREATE TABLE IF NOT EXISTS payment_events (
  event_id TEXT PRIMARY KEY,
  payment_id TEXT NOT NULL REFERENCES payments(payment_id),
  event_type TEXT NOT NULL,
  message TEXT NOT NULL DEFAULT '',
  payload BLOB NOT NULL,
  idempotency_key TEXT,
  created_at DATETIME
);`,
	`CREATE INDEX IF NOT EXISTS idx_payment_events_payment_created_at ON payment_events (payment_id, created_at);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_payment_events_idempotency
  ON payment_events (payment_id, event_type, idempotency_key)
  WHERE idempotency_key IS NOT NULL;`,
}

// ApplySQLiteSchema creates the payment tables on a SQLite connection.
func ApplySQLiteSchema(ctx context.Context, conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db is required")
	}
	for _, stmt := range sqliteSchema {
		if err := conn.WithContext(ctx).Exec(stmt).Error; err != nil {
			return fmt.Errorf("apply sqlite schema: %w", err)
		}
	}
	return nil
}
