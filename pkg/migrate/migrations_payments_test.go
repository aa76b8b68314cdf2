package migrate_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/terminalpay-backend/pkg/migrate"
)

func readMigration(t *testing.T, pattern string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", pattern))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no migration file found for %s", pattern)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func TestPaymentsMigrationContainsConstraints(t *testing.T) {
	content := readMigration(t, "*_create_payments.sql")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS payments",
		"CHECK (amount > 0)",
		"UNIQUE (merchant_id, idempotency_key)",
		"dispatched_at timestamptz",
		"cancel_dispatched_at timestamptz",
		"DROP TABLE IF EXISTS payments",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestPaymentEventsMigrationContainsConstraints(t *testing.T) {
	content := readMigration(t, "*_create_payment_events.sql")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS payment_events",
		"FOREIGN KEY (payment_id) REFERENCES payments(payment_id)",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_payment_events_idempotency",
		"WHERE idempotency_key IS NOT NULL",
		"BEFORE UPDATE OR DELETE ON payment_events",
		"DROP TABLE IF EXISTS payment_events",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestMigrationsDirValidates(t *testing.T) {
	require.NoError(t, migrate.ValidateDir("migrations"))
}

func TestEmbeddedMigrationsMatchDisk(t *testing.T) {
	entries, err := migrate.Migrations.ReadDir("migrations")
	require.NoError(t, err)

	onDisk, err := filepath.Glob(filepath.Join("migrations", "*.sql"))
	require.NoError(t, err)
	require.Len(t, entries, len(onDisk))
}

func TestApplySQLiteSchemaEnforcesIdempotencyKeys(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, migrate.ApplySQLiteSchema(ctx, conn))
	require.NoError(t, migrate.ApplySQLiteSchema(ctx, conn), "schema must be re-appliable")

	insert := `INSERT INTO payments (payment_id, merchant_id, store_id, terminal_id, amount, idempotency_key, requested_at)
VALUES (?, 'm-1', 's-1', 't-1', 500, 'abc12345', ?)`
	require.NoError(t, conn.Exec(insert, uuid.NewString(), time.Now()).Error)
	require.Error(t, conn.Exec(insert, uuid.NewString(), time.Now()).Error)

	require.Error(t, conn.Exec(`INSERT INTO payments (payment_id, merchant_id, store_id, terminal_id, amount, idempotency_key, requested_at)
VALUES (?, 'm-1', 's-1', 't-1', 0, 'zero-amount', ?)`, uuid.NewString(), time.Now()).Error)
}
