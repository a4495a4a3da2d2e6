package payments

import (
	"context"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// StripeProcessor places live calls against the Stripe API through an
// explicitly constructed client, never a module-level singleton.
type StripeProcessor struct {
	api *client.API
}

// NewStripeProcessor constructs a StripeProcessor with its own API client.
func NewStripeProcessor(secretKey string) (*StripeProcessor, error) {
	secretKey = strings.TrimSpace(secretKey)
	if secretKey == "" {
		return nil, fmt.Errorf("payments: missing stripe secret key")
	}
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeProcessor{api: api}, nil
}

// CreateSubscription creates a subscription at the given price.
func (p *StripeProcessor) CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*SubscriptionResult, error) {
	if strings.TrimSpace(params.CustomerRef) == "" {
		return nil, fmt.Errorf("payments: create subscription: missing customer ref")
	}
	if strings.TrimSpace(params.PriceID) == "" {
		return nil, fmt.Errorf("payments: create subscription: missing price id")
	}

	subParams := &stripe.SubscriptionParams{
		Customer: stripe.String(params.CustomerRef),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(params.PriceID)},
		},
	}
	subParams.Context = ctx
	for k, v := range params.Metadata {
		subParams.AddMetadata(k, v)
	}
	if key := strings.TrimSpace(params.IdempotencyKey); key != "" {
		subParams.SetIdempotencyKey(key)
	}

	sub, errNew := p.api.Subscriptions.New(subParams)
	if errNew != nil {
		return nil, fmt.Errorf("payments: create subscription for account %d: %w", params.AccountID, errNew)
	}
	return &SubscriptionResult{SubscriptionRef: sub.ID, Status: string(sub.Status)}, nil
}

// CreateOverageCharge places a one-off charge for purchased overage units.
func (p *StripeProcessor) CreateOverageCharge(ctx context.Context, params OverageChargeParams) (*ChargeResult, error) {
	if strings.TrimSpace(params.CustomerRef) == "" {
		return nil, fmt.Errorf("payments: create charge: missing customer ref")
	}
	if params.AmountCents <= 0 {
		return nil, fmt.Errorf("payments: create charge: invalid amount %d", params.AmountCents)
	}
	currency := strings.TrimSpace(params.Currency)
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}

	chargeParams := &stripe.ChargeParams{
		Amount:      stripe.Int64(params.AmountCents),
		Currency:    stripe.String(currency),
		Customer:    stripe.String(params.CustomerRef),
		Description: stripe.String(params.Description),
	}
	chargeParams.Context = ctx
	for k, v := range params.Metadata {
		chargeParams.AddMetadata(k, v)
	}
	if key := strings.TrimSpace(params.IdempotencyKey); key != "" {
		chargeParams.SetIdempotencyKey(key)
	}

	charge, errNew := p.api.Charges.New(chargeParams)
	if errNew != nil {
		return nil, fmt.Errorf("payments: create charge for account %d: %w", params.AccountID, errNew)
	}
	return &ChargeResult{ChargeRef: charge.ID, AmountCents: charge.Amount}, nil
}

// GetSubscription retrieves an existing subscription by reference.
func (p *StripeProcessor) GetSubscription(ctx context.Context, subscriptionRef string) (*SubscriptionDetail, error) {
	subscriptionRef = strings.TrimSpace(subscriptionRef)
	if subscriptionRef == "" {
		return nil, fmt.Errorf("payments: get subscription: missing ref")
	}

	getParams := &stripe.SubscriptionParams{}
	getParams.Context = ctx
	sub, errGet := p.api.Subscriptions.Get(subscriptionRef, getParams)
	if errGet != nil {
		return nil, fmt.Errorf("payments: get subscription %s: %w", subscriptionRef, errGet)
	}

	detail := &SubscriptionDetail{
		SubscriptionRef: sub.ID,
		Status:          string(sub.Status),
		Metadata:        sub.Metadata,
	}
	if sub.Customer != nil {
		detail.CustomerRef = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		detail.PriceID = sub.Items.Data[0].Price.ID
	}
	return detail, nil
}

// Ensure StripeProcessor implements Processor.
var _ Processor = (*StripeProcessor)(nil)
