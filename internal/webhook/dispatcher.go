package webhook

import (
	"context"
	"errors"
	"fmt"

	"github.com/relaytext/relaytext-billing/internal/eventlog"
	"github.com/relaytext/relaytext-billing/internal/ledger"
	"github.com/relaytext/relaytext-billing/internal/metrics"
	"github.com/relaytext/relaytext-billing/internal/notify"
	"github.com/relaytext/relaytext-billing/internal/payments"
	"github.com/relaytext/relaytext-billing/internal/pricing"
	log "github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v78"
	stripewebhook "github.com/stripe/stripe-go/v78/webhook"
	"gorm.io/gorm"
)

// ErrBadSignature indicates the webhook signature did not verify. This is
// a security boundary, not a retry condition; callers must answer with a
// client error and perform no side effect.
var ErrBadSignature = errors.New("webhook: invalid signature")

// Stripe event types the dispatcher routes.
const (
	eventCheckoutCompleted     = "checkout.session.completed"
	eventSetupIntentSucceeded  = "setup_intent.succeeded"
	eventPaymentMethodAttached = "payment_method.attached"
	eventInvoicePaid           = "invoice.payment_succeeded"
	eventInvoiceFailed         = "invoice.payment_failed"
	eventSubscriptionCreated   = "customer.subscription.created"
	eventSubscriptionUpdated   = "customer.subscription.updated"
	eventSubscriptionDeleted   = "customer.subscription.deleted"
	eventChargeSucceeded       = "charge.succeeded"
)

// Dispatcher verifies signed processor events and routes them to
// idempotent handlers. Handlers read current account state before
// reasoning about an update; delivery order is never assumed.
type Dispatcher struct {
	db        *gorm.DB
	ledger    *ledger.Store
	events    *eventlog.Log
	prices    *pricing.Table
	processor payments.Processor
	notifier  notify.Notifier
	secret    string
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(db *gorm.DB, ledgerStore *ledger.Store, events *eventlog.Log, prices *pricing.Table, processor payments.Processor, notifier notify.Notifier, webhookSecret string) *Dispatcher {
	return &Dispatcher{
		db:        db,
		ledger:    ledgerStore,
		events:    events,
		prices:    prices,
		processor: processor,
		notifier:  notifier,
		secret:    webhookSecret,
	}
}

// Handle verifies the event envelope and dispatches by declared type.
// Unknown types are acknowledged without error; handler failures surface
// so the processor's retry policy re-delivers the event. The endpoint may
// be pinned to a Stripe API version other than the SDK's; a version
// mismatch is not a signature failure and must not reject the event.
func (d *Dispatcher) Handle(ctx context.Context, payload []byte, signatureHeader string) error {
	event, errVerify := stripewebhook.ConstructEventWithOptions(payload, signatureHeader, d.secret,
		stripewebhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if errVerify != nil {
		metrics.WebhookEvents.WithLabelValues("unverified", "rejected").Inc()
		return fmt.Errorf("%w: %v", ErrBadSignature, errVerify)
	}

	eventType := string(event.Type)
	var errHandle error
	switch eventType {
	case eventCheckoutCompleted:
		errHandle = d.handleCheckoutCompleted(ctx, event)
	case eventSetupIntentSucceeded, eventPaymentMethodAttached:
		errHandle = d.handlePaymentMethodUpdated(ctx, event)
	case eventInvoicePaid:
		errHandle = d.handleInvoicePaid(ctx, event)
	case eventInvoiceFailed:
		errHandle = d.handleInvoiceFailed(ctx, event)
	case eventSubscriptionCreated, eventSubscriptionUpdated:
		errHandle = d.handleSubscriptionChanged(ctx, event)
	case eventSubscriptionDeleted:
		errHandle = d.handleSubscriptionDeleted(ctx, event)
	case eventChargeSucceeded:
		errHandle = d.handleChargeSucceeded(ctx, event)
	default:
		log.WithField("type", eventType).Info("webhook: unhandled event type acknowledged")
		metrics.WebhookEvents.WithLabelValues(eventType, "ignored").Inc()
		return nil
	}

	if errHandle != nil {
		metrics.WebhookEvents.WithLabelValues(eventType, "error").Inc()
		return errHandle
	}
	metrics.WebhookEvents.WithLabelValues(eventType, "ok").Inc()
	return nil
}

// customerID extracts the customer reference from a nested stripe object.
func customerID(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}
