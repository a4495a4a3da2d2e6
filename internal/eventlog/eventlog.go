package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/relaytext/relaytext-billing/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Log is the append-only billing event record. No update or delete is
// exposed; the read path exists purely for idempotency and dedupe checks.
type Log struct {
	db *gorm.DB
}

// NewLog constructs a Log backed by GORM.
func NewLog(db *gorm.DB) *Log { return &Log{db: db} }

// Append writes one immutable billing event row.
func (l *Log) Append(ctx context.Context, accountID uint64, eventType string, amount *float64, externalRef string, details map[string]any) error {
	row := models.BillingEvent{
		AccountID:   accountID,
		Type:        eventType,
		Amount:      amount,
		ExternalRef: strings.TrimSpace(externalRef),
		CreatedAt:   time.Now().UTC(),
	}
	if len(details) > 0 {
		payload, errMarshal := json.Marshal(details)
		if errMarshal != nil {
			return fmt.Errorf("eventlog: marshal details: %w", errMarshal)
		}
		row.Details = datatypes.JSON(payload)
	}
	if errCreate := l.db.WithContext(ctx).Create(&row).Error; errCreate != nil {
		return fmt.Errorf("eventlog: append %s for account %d: %w", eventType, accountID, errCreate)
	}
	return nil
}

// HasEventWithRef reports whether an event of the given type has already
// been recorded for this account and external reference. Used to guard
// webhook re-delivery from crediting or notifying twice.
func (l *Log) HasEventWithRef(ctx context.Context, accountID uint64, eventType, externalRef string) (bool, error) {
	externalRef = strings.TrimSpace(externalRef)
	if externalRef == "" {
		return false, nil
	}
	var count int64
	if errCount := l.db.WithContext(ctx).
		Model(&models.BillingEvent{}).
		Where("account_id = ? AND type = ? AND external_ref = ?", accountID, eventType, externalRef).
		Count(&count).Error; errCount != nil {
		return false, fmt.Errorf("eventlog: dedupe check %s/%s: %w", eventType, externalRef, errCount)
	}
	return count > 0, nil
}

// HasEventSince reports whether an event of the given type has been
// recorded for this account after the given time. Used to emit per-period
// alerts at most once.
func (l *Log) HasEventSince(ctx context.Context, accountID uint64, eventType string, since time.Time) (bool, error) {
	var count int64
	if errCount := l.db.WithContext(ctx).
		Model(&models.BillingEvent{}).
		Where("account_id = ? AND type = ? AND created_at >= ?", accountID, eventType, since).
		Count(&count).Error; errCount != nil {
		return false, fmt.Errorf("eventlog: period check %s: %w", eventType, errCount)
	}
	return count > 0, nil
}
