package db

import (
	"fmt"

	"github.com/relaytext/relaytext-billing/internal/models"
	"gorm.io/gorm"
)

// Migrate runs database migrations for the current dialect.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	switch DialectName(conn) {
	case DialectSQLite, DialectPostgres, "":
	default:
		return fmt.Errorf("db: unsupported dialect: %s", DialectName(conn))
	}

	if errAutoMigrate := conn.AutoMigrate(
		&models.Account{},
		&models.BillingEvent{},
		&models.PaymentFailure{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}

	// billing_events is append-only; the covering index keeps dedupe reads
	// off a sequential scan as the log grows.
	if errIdx := conn.Exec(`
		CREATE INDEX IF NOT EXISTS idx_billing_events_dedupe
		ON billing_events (account_id, type, external_ref)
	`).Error; errIdx != nil {
		return fmt.Errorf("db: create dedupe index: %w", errIdx)
	}
	return nil
}
