package models

import (
	"time"

	"gorm.io/datatypes"
)

// Billing event type constants. Event rows are the audit trail and the
// idempotency guard for webhook re-delivery.
const (
	// EventSubscriptionCreated records a webhook-confirmed new subscription.
	EventSubscriptionCreated = "subscription_created"
	// EventSubscriptionUpdated records a webhook-confirmed tier change.
	EventSubscriptionUpdated = "subscription_updated"
	// EventSubscriptionCancelled records a webhook-confirmed cancellation.
	EventSubscriptionCancelled = "subscription_cancelled"
	// EventPaymentSucceeded records a paid invoice and the period reset.
	EventPaymentSucceeded = "payment_succeeded"
	// EventPaymentFailed records a failed invoice attempt.
	EventPaymentFailed = "payment_failed"
	// EventPaymentMethodAdded records a free-tier card capture.
	EventPaymentMethodAdded = "payment_method_added"
	// EventPaymentMethodUpdated records a payment method change.
	EventPaymentMethodUpdated = "payment_method_updated"
	// EventAutoBuyTexts records a credited overage purchase.
	EventAutoBuyTexts = "auto_buy_texts"
	// EventAutoUpgradeInitiated records a processor-side upgrade request.
	EventAutoUpgradeInitiated = "auto_upgrade_initiated"
	// EventAutoBuyInitiated records a processor-side overage charge request.
	EventAutoBuyInitiated = "auto_buy_initiated"
	// EventUsageAlert80 records the 80% quota alert for the period.
	EventUsageAlert80 = "usage_alert_80"
	// EventAccountSuspended records a suspension transition.
	EventAccountSuspended = "account_suspended"
	// EventAccountReactivated records a post-payment reactivation.
	EventAccountReactivated = "account_reactivated"
)

// BillingEvent is an append-only record of a billing-relevant occurrence.
// Rows are immutable once written.
type BillingEvent struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	AccountID uint64 `gorm:"not null;index:idx_billing_events_account_type,priority:1"`             // Related account ID.
	Type      string `gorm:"type:varchar(50);not null;index:idx_billing_events_account_type,priority:2"` // Event type constant.

	Amount      *float64       `gorm:"type:decimal(10,2)"`      // Monetary amount when applicable.
	ExternalRef string         `gorm:"type:varchar(191);index"` // Processor object ID used for dedupe.
	Details     datatypes.JSON `gorm:"type:jsonb"`              // Structured event payload.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Creation timestamp.
}
