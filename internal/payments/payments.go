package payments

import "context"

// Metadata keys and values attached to processor-side objects so the
// confirming webhook can recognize engine-initiated changes.
const (
	// MetadataAutoUpgrade marks a subscription created by auto-remediation.
	MetadataAutoUpgrade = "auto_upgrade"
	// MetadataPurpose tags the intent of a one-off charge.
	MetadataPurpose = "purpose"
	// PurposeAutoBuyTexts tags an overage unit purchase.
	PurposeAutoBuyTexts = "auto_buy_texts"
	// MetadataQuantity carries the purchased unit count.
	MetadataQuantity = "quantity"
	// MetadataAccountID carries the internal account identifier.
	MetadataAccountID = "account_id"
)

// CreateSubscriptionParams holds inputs for a processor-side subscription.
type CreateSubscriptionParams struct {
	AccountID      uint64
	CustomerRef    string
	PriceID        string
	Metadata       map[string]string
	IdempotencyKey string
}

// SubscriptionResult describes a created subscription.
type SubscriptionResult struct {
	SubscriptionRef string
	Status          string
}

// OverageChargeParams holds inputs for a one-off overage charge.
type OverageChargeParams struct {
	AccountID      uint64
	CustomerRef    string
	AmountCents    int64
	Currency       string
	Quantity       int64
	Description    string
	Metadata       map[string]string
	IdempotencyKey string
}

// ChargeResult describes a created charge.
type ChargeResult struct {
	ChargeRef   string
	AmountCents int64
}

// SubscriptionDetail describes an existing processor-side subscription.
type SubscriptionDetail struct {
	SubscriptionRef string
	CustomerRef     string
	PriceID         string
	Status          string
	Metadata        map[string]string
}

// Processor is the outbound payment processor boundary. The engine uses it
// only to initiate billing changes; plan state is persisted exclusively
// from the confirming webhook.
type Processor interface {
	CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*SubscriptionResult, error)
	CreateOverageCharge(ctx context.Context, params OverageChargeParams) (*ChargeResult, error)
	GetSubscription(ctx context.Context, subscriptionRef string) (*SubscriptionDetail, error)
}
