package models

import "time"

// PlanTier identifies a subscription plan tier.
type PlanTier string

// PlanTier constants define the plan tiers.
const (
	// PlanFree is the default tier without a subscription.
	PlanFree PlanTier = "free"
	// PlanBasic is the entry paid tier.
	PlanBasic PlanTier = "basic"
	// PlanStandard is the mid paid tier.
	PlanStandard PlanTier = "standard"
	// PlanPremium is the top paid tier.
	PlanPremium PlanTier = "premium"
	// PlanSuspended marks an account suspended after repeated payment failure.
	PlanSuspended PlanTier = "suspended"
)

// BillingCycle identifies the subscription billing period.
type BillingCycle string

// BillingCycle constants define billing periods.
const (
	// CycleMonthly bills monthly.
	CycleMonthly BillingCycle = "monthly"
	// CycleAnnual bills yearly.
	CycleAnnual BillingCycle = "annual"
	// CycleNone applies to accounts without a subscription.
	CycleNone BillingCycle = ""
)

// PaymentMethodStatus describes the stored payment method state.
type PaymentMethodStatus string

// PaymentMethodStatus constants.
const (
	// PaymentMethodValid marks a usable payment method.
	PaymentMethodValid PaymentMethodStatus = "valid"
	// PaymentMethodExpired marks an expired payment method.
	PaymentMethodExpired PaymentMethodStatus = "expired"
	// PaymentMethodUnknown marks an account without payment method information.
	PaymentMethodUnknown PaymentMethodStatus = "unknown"
)

// SuspensionReasonPaymentFailed is set when repeated invoice failures suspend an account.
const SuspensionReasonPaymentFailed = "payment_failed"

// Account holds the billing and quota state for one subscriber.
type Account struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Email       string `gorm:"type:text;not null;uniqueIndex"` // Subscriber email address.
	PhoneNumber string `gorm:"type:text"`                      // Forwarding destination number.

	Plan      PlanTier `gorm:"type:varchar(20);not null;default:'free'"` // Current plan tier.
	PriorPlan PlanTier `gorm:"type:varchar(20)"`                         // Paid tier to restore after suspension.

	UsageCount               int64     `gorm:"not null;default:0"` // Messages delivered in the current period.
	UsageResetAt             time.Time `gorm:"not null"`           // Next quota rollover time.
	AdditionalUnitsPurchased int64     `gorm:"not null;default:0"` // Auto-bought overage capacity for the period.

	CustomerRef     string       `gorm:"type:varchar(191);index"` // Payment processor customer identifier.
	SubscriptionRef string       `gorm:"type:varchar(191);index"` // Payment processor subscription identifier.
	BillingCycle    BillingCycle `gorm:"type:varchar(20)"`        // Billing period, empty for free accounts.

	SuspensionReason    string              `gorm:"type:varchar(50)"`                           // Set iff Plan is suspended.
	PaymentMethodStatus PaymentMethodStatus `gorm:"type:varchar(20);not null;default:'unknown'"` // Stored payment method state.

	Version uint64 `gorm:"not null;default:0"` // Optimistic concurrency counter.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// IsPaid reports whether the tier is a paid subscription tier.
func (p PlanTier) IsPaid() bool {
	switch p {
	case PlanBasic, PlanStandard, PlanPremium:
		return true
	default:
		return false
	}
}
