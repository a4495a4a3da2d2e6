package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/relaytext/relaytext-billing/internal/ledger"
	"github.com/relaytext/relaytext-billing/internal/models"
	"github.com/relaytext/relaytext-billing/internal/notify"
	"github.com/relaytext/relaytext-billing/internal/payments"
	"github.com/relaytext/relaytext-billing/internal/planstate"
	"github.com/relaytext/relaytext-billing/internal/settings"
	log "github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v78"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// handleCheckoutCompleted processes a completed checkout session. A
// subscription-mode session confirms a new plan; a setup-mode session only
// records a stored payment method and never touches the plan.
func (d *Dispatcher) handleCheckoutCompleted(ctx context.Context, event stripe.Event) error {
	var session stripe.CheckoutSession
	if errDecode := json.Unmarshal(event.Data.Raw, &session); errDecode != nil {
		return fmt.Errorf("webhook: decode checkout session: %w", errDecode)
	}
	custRef := customerID(session.Customer)

	if session.Mode == stripe.CheckoutSessionModeSetup {
		return d.applyPaymentMethod(ctx, custRef, session.ID, models.EventPaymentMethodAdded)
	}
	if session.Mode != stripe.CheckoutSessionModeSubscription {
		log.WithField("mode", session.Mode).Info("webhook: checkout session mode ignored")
		return nil
	}
	if session.Subscription == nil {
		log.WithField("session", session.ID).Warn("webhook: subscription checkout without subscription object")
		return nil
	}
	subRef := session.Subscription.ID

	detail, errGet := d.processor.GetSubscription(ctx, subRef)
	if errGet != nil {
		return fmt.Errorf("webhook: fetch subscription %s: %w", subRef, errGet)
	}
	price, known := d.prices.Resolve(detail.PriceID)
	if !known {
		log.WithField("price_id", detail.PriceID).Warn("webhook: checkout confirmed unmapped price, ignoring")
		return nil
	}
	if custRef == "" {
		custRef = detail.CustomerRef
	}

	acc, errFind := d.findAccount(ctx, custRef, subRef)
	if errFind != nil {
		if errors.Is(errFind, ledger.ErrNotFound) {
			log.WithField("customer_ref", custRef).Warn("webhook: checkout for unknown account acknowledged")
			return nil
		}
		return errFind
	}

	recorded, errCheck := d.events.HasEventWithRef(ctx, acc.ID, models.EventSubscriptionCreated, subRef)
	if errCheck != nil {
		return errCheck
	}
	if recorded {
		return nil
	}

	updated, errApply := d.applyPlanChange(ctx, acc.ID, custRef, subRef, price.Tier, price.Cycle)
	if errApply != nil {
		var rejected *planstate.TransitionError
		if errors.As(errApply, &rejected) {
			log.WithFields(log.Fields{
				"account_id": acc.ID,
				"target":     rejected.To,
				"reason":     rejected.Reason,
			}).Warn("webhook: checkout plan change rejected")
			return nil
		}
		return errApply
	}

	if errAppend := d.events.Append(ctx, acc.ID, models.EventSubscriptionCreated, nil, subRef, map[string]any{
		"plan":     string(price.Tier),
		"cycle":    string(price.Cycle),
		"price_id": detail.PriceID,
	}); errAppend != nil {
		return errAppend
	}
	notify.Fire(ctx, d.notifier, updated.Email, notify.TemplatePlanConfirmation,
		string(price.Tier), strconv.FormatInt(planstate.Quota(price.Tier), 10))
	return nil
}

// handlePaymentMethodUpdated records a refreshed stored payment method from
// either a succeeded setup intent or a freshly attached payment method.
func (d *Dispatcher) handlePaymentMethodUpdated(ctx context.Context, event stripe.Event) error {
	var custRef, objectRef string
	switch string(event.Type) {
	case eventSetupIntentSucceeded:
		var intent stripe.SetupIntent
		if errDecode := json.Unmarshal(event.Data.Raw, &intent); errDecode != nil {
			return fmt.Errorf("webhook: decode setup intent: %w", errDecode)
		}
		custRef, objectRef = customerID(intent.Customer), intent.ID
	default:
		var method stripe.PaymentMethod
		if errDecode := json.Unmarshal(event.Data.Raw, &method); errDecode != nil {
			return fmt.Errorf("webhook: decode payment method: %w", errDecode)
		}
		custRef, objectRef = customerID(method.Customer), method.ID
	}
	return d.applyPaymentMethod(ctx, custRef, objectRef, models.EventPaymentMethodUpdated)
}

// applyPaymentMethod marks the account's stored payment method as valid and
// records the change once per external object reference.
func (d *Dispatcher) applyPaymentMethod(ctx context.Context, custRef, objectRef, eventType string) error {
	acc, errFind := d.ledger.GetByCustomerRef(ctx, custRef)
	if errFind != nil {
		if errors.Is(errFind, ledger.ErrNotFound) {
			log.WithField("customer_ref", custRef).Warn("webhook: payment method for unknown account acknowledged")
			return nil
		}
		return errFind
	}
	recorded, errCheck := d.events.HasEventWithRef(ctx, acc.ID, eventType, objectRef)
	if errCheck != nil {
		return errCheck
	}
	if recorded {
		return nil
	}

	if _, errMutate := d.ledger.Mutate(ctx, acc.ID, func(a *models.Account) error {
		a.PaymentMethodStatus = models.PaymentMethodValid
		return nil
	}); errMutate != nil {
		return errMutate
	}
	if errAppend := d.events.Append(ctx, acc.ID, eventType, nil, objectRef, nil); errAppend != nil {
		return errAppend
	}
	notify.Fire(ctx, d.notifier, acc.Email, notify.TemplatePaymentMethodUpdated)
	return nil
}

// handleInvoicePaid rolls the billing period: usage and purchased overage
// reset, the next rollover time advances, and an account suspended for
// payment failure returns to its prior plan.
func (d *Dispatcher) handleInvoicePaid(ctx context.Context, event stripe.Event) error {
	var invoice stripe.Invoice
	if errDecode := json.Unmarshal(event.Data.Raw, &invoice); errDecode != nil {
		return fmt.Errorf("webhook: decode invoice: %w", errDecode)
	}
	acc, errFind := d.findAccount(ctx, customerID(invoice.Customer), subscriptionRefOf(invoice.Subscription))
	if errFind != nil {
		if errors.Is(errFind, ledger.ErrNotFound) {
			log.WithField("invoice", invoice.ID).Warn("webhook: paid invoice for unknown account acknowledged")
			return nil
		}
		return errFind
	}

	recorded, errCheck := d.events.HasEventWithRef(ctx, acc.ID, models.EventPaymentSucceeded, invoice.ID)
	if errCheck != nil {
		return errCheck
	}
	if recorded {
		return nil
	}

	reactivated := false
	updated, errMutate := d.ledger.Mutate(ctx, acc.ID, func(a *models.Account) error {
		if a.Plan == models.PlanSuspended && a.SuspensionReason == models.SuspensionReasonPaymentFailed {
			planstate.Restore(a)
			reactivated = true
		}
		a.UsageCount = 0
		a.AdditionalUnitsPurchased = 0
		a.UsageResetAt = nextReset(time.Now().UTC(), a.BillingCycle)
		return nil
	})
	if errMutate != nil {
		return errMutate
	}

	if errClear := d.db.WithContext(ctx).
		Model(&models.PaymentFailure{}).
		Where("account_id = ? AND superseded = ?", acc.ID, false).
		Update("superseded", true).Error; errClear != nil {
		return fmt.Errorf("webhook: supersede payment failures for account %d: %w", acc.ID, errClear)
	}

	amount := float64(invoice.AmountPaid) / 100
	if errAppend := d.events.Append(ctx, acc.ID, models.EventPaymentSucceeded, &amount, invoice.ID, map[string]any{
		"next_reset": updated.UsageResetAt.Format(time.RFC3339),
	}); errAppend != nil {
		return errAppend
	}

	if reactivated {
		if errAppend := d.events.Append(ctx, acc.ID, models.EventAccountReactivated, nil, invoice.ID, map[string]any{
			"restored_plan": string(updated.Plan),
		}); errAppend != nil {
			return errAppend
		}
		notify.Fire(ctx, d.notifier, acc.Email, notify.TemplateAccountReactivated, string(updated.Plan))
	}
	return nil
}

// handleInvoiceFailed records the failed attempt and escalates: a reminder
// on the first failure, an urgent notice on the second, suspension from the
// third onward. Suspension reads current state first so replays are no-ops.
// A failure for an invoice that has already settled is stale delivery and
// must not touch the account.
func (d *Dispatcher) handleInvoiceFailed(ctx context.Context, event stripe.Event) error {
	var invoice stripe.Invoice
	if errDecode := json.Unmarshal(event.Data.Raw, &invoice); errDecode != nil {
		return fmt.Errorf("webhook: decode invoice: %w", errDecode)
	}
	acc, errFind := d.findAccount(ctx, customerID(invoice.Customer), subscriptionRefOf(invoice.Subscription))
	if errFind != nil {
		if errors.Is(errFind, ledger.ErrNotFound) {
			log.WithField("invoice", invoice.ID).Warn("webhook: failed invoice for unknown account acknowledged")
			return nil
		}
		return errFind
	}

	settled, errSettled := d.events.HasEventWithRef(ctx, acc.ID, models.EventPaymentSucceeded, invoice.ID)
	if errSettled != nil {
		return errSettled
	}
	if settled {
		log.WithFields(log.Fields{
			"account_id": acc.ID,
			"invoice":    invoice.ID,
		}).Info("webhook: failure for settled invoice ignored")
		return nil
	}

	attempt := int(invoice.AttemptCount)
	if attempt < 1 {
		attempt = 1
	}
	attemptRef := fmt.Sprintf("%s#%d", invoice.ID, attempt)

	recorded, errCheck := d.events.HasEventWithRef(ctx, acc.ID, models.EventPaymentFailed, attemptRef)
	if errCheck != nil {
		return errCheck
	}
	if recorded {
		return nil
	}

	if errRecord := d.recordFailure(ctx, acc.ID, invoice.ID, attempt, failureReason(&invoice)); errRecord != nil {
		return errRecord
	}
	if errAppend := d.events.Append(ctx, acc.ID, models.EventPaymentFailed, nil, attemptRef, map[string]any{
		"attempt": attempt,
	}); errAppend != nil {
		return errAppend
	}

	switch {
	case attempt == 1:
		notify.Fire(ctx, d.notifier, acc.Email, notify.TemplatePaymentReminder, invoice.ID)
	case attempt == 2:
		notify.Fire(ctx, d.notifier, acc.Email, notify.TemplatePaymentUrgent, invoice.ID)
	case attempt >= settings.SuspensionAttemptThreshold:
		if errSuspend := d.suspendForPaymentFailure(ctx, acc.ID, attemptRef); errSuspend != nil {
			return errSuspend
		}
	}
	return nil
}

// recordFailure inserts the payment failure row unless this attempt is
// already on record.
func (d *Dispatcher) recordFailure(ctx context.Context, accountID uint64, invoiceRef string, attempt int, reason string) error {
	var count int64
	if errCount := d.db.WithContext(ctx).
		Model(&models.PaymentFailure{}).
		Where("invoice_ref = ? AND attempt_number = ?", invoiceRef, attempt).
		Count(&count).Error; errCount != nil {
		return fmt.Errorf("webhook: check payment failure %s#%d: %w", invoiceRef, attempt, errCount)
	}
	if count > 0 {
		return nil
	}
	row := models.PaymentFailure{
		AccountID:     accountID,
		InvoiceRef:    invoiceRef,
		AttemptNumber: attempt,
		FailureReason: reason,
	}
	if errCreate := d.db.WithContext(ctx).Create(&row).Error; errCreate != nil {
		return fmt.Errorf("webhook: record payment failure %s#%d: %w", invoiceRef, attempt, errCreate)
	}
	return nil
}

// suspendForPaymentFailure moves the account to the suspended state once,
// preserving the prior tier for later restoration.
func (d *Dispatcher) suspendForPaymentFailure(ctx context.Context, accountID uint64, externalRef string) error {
	suspended := false
	updated, errMutate := d.ledger.Mutate(ctx, accountID, func(a *models.Account) error {
		if a.Plan == models.PlanSuspended {
			return nil
		}
		planstate.Suspend(a, models.SuspensionReasonPaymentFailed)
		suspended = true
		return nil
	})
	if errMutate != nil {
		return errMutate
	}
	if !suspended {
		return nil
	}
	if errAppend := d.events.Append(ctx, accountID, models.EventAccountSuspended, nil, externalRef, map[string]any{
		"reason":     models.SuspensionReasonPaymentFailed,
		"prior_plan": string(updated.PriorPlan),
	}); errAppend != nil {
		return errAppend
	}
	notify.Fire(ctx, d.notifier, updated.Email, notify.TemplateAccountSuspended, models.SuspensionReasonPaymentFailed)
	return nil
}

// handleSubscriptionChanged applies a webhook-confirmed tier change. A
// target whose quota the account has already exceeded is rejected and
// acknowledged as a no-op; the processor-side subscription is the source
// of truth for everything else.
func (d *Dispatcher) handleSubscriptionChanged(ctx context.Context, event stripe.Event) error {
	var sub stripe.Subscription
	if errDecode := json.Unmarshal(event.Data.Raw, &sub); errDecode != nil {
		return fmt.Errorf("webhook: decode subscription: %w", errDecode)
	}
	priceID := subscriptionPriceID(&sub)
	price, known := d.prices.Resolve(priceID)
	if !known {
		log.WithField("price_id", priceID).Warn("webhook: subscription with unmapped price acknowledged")
		return nil
	}
	custRef := customerID(sub.Customer)

	acc, errFind := d.findAccount(ctx, custRef, sub.ID)
	if errFind != nil {
		if errors.Is(errFind, ledger.ErrNotFound) {
			log.WithField("subscription", sub.ID).Warn("webhook: subscription for unknown account acknowledged")
			return nil
		}
		return errFind
	}

	from := acc.Plan
	if from == price.Tier && acc.SubscriptionRef == sub.ID && acc.BillingCycle == price.Cycle {
		return nil
	}

	updated, errApply := d.applyPlanChange(ctx, acc.ID, custRef, sub.ID, price.Tier, price.Cycle)
	if errApply != nil {
		var rejected *planstate.TransitionError
		if errors.As(errApply, &rejected) {
			log.WithFields(log.Fields{
				"account_id": acc.ID,
				"from":       rejected.From,
				"target":     rejected.To,
				"reason":     rejected.Reason,
			}).Warn("webhook: plan change rejected, current plan kept")
			return nil
		}
		return errApply
	}

	eventType := models.EventSubscriptionUpdated
	if string(event.Type) == eventSubscriptionCreated {
		eventType = models.EventSubscriptionCreated
	}
	changeRef := fmt.Sprintf("%s:%s:%s", sub.ID, price.Tier, price.Cycle)
	if eventType == models.EventSubscriptionCreated {
		changeRef = sub.ID
	}
	recorded, errCheck := d.events.HasEventWithRef(ctx, acc.ID, eventType, changeRef)
	if errCheck != nil {
		return errCheck
	}
	if recorded {
		return nil
	}

	details := map[string]any{
		"plan":     string(price.Tier),
		"cycle":    string(price.Cycle),
		"price_id": priceID,
	}
	if sub.Metadata[payments.MetadataAutoUpgrade] == "true" {
		details[payments.MetadataAutoUpgrade] = true
	}
	if errAppend := d.events.Append(ctx, acc.ID, eventType, nil, changeRef, details); errAppend != nil {
		return errAppend
	}

	if planstate.IsUpgrade(from, price.Tier) {
		notify.Fire(ctx, d.notifier, updated.Email, notify.TemplateUpgradeNotice, string(from), string(price.Tier))
	} else if eventType == models.EventSubscriptionCreated {
		notify.Fire(ctx, d.notifier, updated.Email, notify.TemplatePlanConfirmation,
			string(price.Tier), strconv.FormatInt(planstate.Quota(price.Tier), 10))
	}
	return nil
}

// handleSubscriptionDeleted returns the account to the free tier when its
// active subscription ends. Events for a subscription the account no longer
// holds are stale and acknowledged.
func (d *Dispatcher) handleSubscriptionDeleted(ctx context.Context, event stripe.Event) error {
	var sub stripe.Subscription
	if errDecode := json.Unmarshal(event.Data.Raw, &sub); errDecode != nil {
		return fmt.Errorf("webhook: decode subscription: %w", errDecode)
	}
	acc, errFind := d.findAccount(ctx, customerID(sub.Customer), sub.ID)
	if errFind != nil {
		if errors.Is(errFind, ledger.ErrNotFound) {
			log.WithField("subscription", sub.ID).Warn("webhook: cancelled subscription for unknown account acknowledged")
			return nil
		}
		return errFind
	}
	if acc.SubscriptionRef != sub.ID {
		log.WithFields(log.Fields{
			"account_id":   acc.ID,
			"subscription": sub.ID,
		}).Info("webhook: cancellation for superseded subscription ignored")
		return nil
	}

	if _, errMutate := d.ledger.Mutate(ctx, acc.ID, func(a *models.Account) error {
		planstate.ApplyChange(a, models.PlanFree, models.CycleNone, "")
		a.PriorPlan = ""
		a.SuspensionReason = ""
		return nil
	}); errMutate != nil {
		return errMutate
	}

	recorded, errCheck := d.events.HasEventWithRef(ctx, acc.ID, models.EventSubscriptionCancelled, sub.ID)
	if errCheck != nil {
		return errCheck
	}
	if recorded {
		return nil
	}
	return d.events.Append(ctx, acc.ID, models.EventSubscriptionCancelled, nil, sub.ID, nil)
}

// handleChargeSucceeded credits purchased overage units when the confirming
// charge carries the auto-buy tag. The event append and the unit credit
// commit in one transaction keyed on the charge reference, so a re-delivered
// charge can never credit twice.
func (d *Dispatcher) handleChargeSucceeded(ctx context.Context, event stripe.Event) error {
	var charge stripe.Charge
	if errDecode := json.Unmarshal(event.Data.Raw, &charge); errDecode != nil {
		return fmt.Errorf("webhook: decode charge: %w", errDecode)
	}
	if charge.Metadata[payments.MetadataPurpose] != payments.PurposeAutoBuyTexts {
		log.WithField("charge", charge.ID).Debug("webhook: charge without auto-buy tag ignored")
		return nil
	}

	quantity := int64(settings.OverageBlockSize)
	if raw := charge.Metadata[payments.MetadataQuantity]; raw != "" {
		parsed, errParse := strconv.ParseInt(raw, 10, 64)
		if errParse != nil || parsed <= 0 {
			log.WithField("charge", charge.ID).Warn("webhook: invalid auto-buy quantity, using block size")
		} else {
			quantity = parsed
		}
	}

	acc, errFind := d.findChargeAccount(ctx, &charge)
	if errFind != nil {
		if errors.Is(errFind, ledger.ErrNotFound) {
			log.WithField("charge", charge.ID).Warn("webhook: auto-buy charge for unknown account acknowledged")
			return nil
		}
		return errFind
	}

	amount := float64(charge.Amount) / 100
	credited := false
	errTx := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if errCount := tx.Model(&models.BillingEvent{}).
			Where("account_id = ? AND type = ? AND external_ref = ?", acc.ID, models.EventAutoBuyTexts, charge.ID).
			Count(&count).Error; errCount != nil {
			return errCount
		}
		if count > 0 {
			return nil
		}
		details, _ := json.Marshal(map[string]any{"quantity": quantity})
		row := models.BillingEvent{
			AccountID:   acc.ID,
			Type:        models.EventAutoBuyTexts,
			Amount:      &amount,
			ExternalRef: charge.ID,
			Details:     datatypes.JSON(details),
			CreatedAt:   time.Now().UTC(),
		}
		if errCreate := tx.Create(&row).Error; errCreate != nil {
			return errCreate
		}
		res := tx.Model(&models.Account{}).
			Where("id = ?", acc.ID).
			Updates(map[string]any{
				"additional_units_purchased": gorm.Expr("additional_units_purchased + ?", quantity),
				"version":                    gorm.Expr("version + ?", 1),
				"updated_at":                 time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		credited = true
		return nil
	})
	if errTx != nil {
		return fmt.Errorf("webhook: credit auto-buy charge %s: %w", charge.ID, errTx)
	}
	if !credited {
		return nil
	}

	notify.Fire(ctx, d.notifier, acc.Email, notify.TemplateAutoBuyReceipt,
		strconv.FormatInt(quantity, 10), fmt.Sprintf("%.2f", amount))
	return nil
}

// applyPlanChange validates and persists a tier change under optimistic
// locking. The validation runs inside the mutation so it always sees the
// row it will update.
func (d *Dispatcher) applyPlanChange(ctx context.Context, accountID uint64, custRef, subRef string, tier models.PlanTier, cycle models.BillingCycle) (*models.Account, error) {
	return d.ledger.Mutate(ctx, accountID, func(a *models.Account) error {
		if errCheck := planstate.CheckChange(a, tier); errCheck != nil {
			return errCheck
		}
		planstate.ApplyChange(a, tier, cycle, subRef)
		if a.CustomerRef == "" && custRef != "" {
			a.CustomerRef = custRef
		}
		return nil
	})
}

// findAccount resolves an account by customer reference, falling back to
// the subscription reference.
func (d *Dispatcher) findAccount(ctx context.Context, custRef, subRef string) (*models.Account, error) {
	acc, errFind := d.ledger.GetByCustomerRef(ctx, custRef)
	if errFind == nil {
		return acc, nil
	}
	if !errors.Is(errFind, ledger.ErrNotFound) {
		return nil, errFind
	}
	return d.ledger.GetBySubscriptionRef(ctx, subRef)
}

// findChargeAccount resolves the account for an auto-buy charge, preferring
// the account identifier the engine stamped into the charge metadata.
func (d *Dispatcher) findChargeAccount(ctx context.Context, charge *stripe.Charge) (*models.Account, error) {
	if raw := charge.Metadata[payments.MetadataAccountID]; raw != "" {
		if id, errParse := strconv.ParseUint(raw, 10, 64); errParse == nil {
			return d.ledger.Get(ctx, id)
		}
	}
	return d.ledger.GetByCustomerRef(ctx, customerID(charge.Customer))
}

// subscriptionRefOf extracts the subscription reference from a nested
// stripe object.
func subscriptionRefOf(s *stripe.Subscription) string {
	if s == nil {
		return ""
	}
	return s.ID
}

// subscriptionPriceID extracts the first item's price identifier.
func subscriptionPriceID(s *stripe.Subscription) string {
	if s == nil || s.Items == nil || len(s.Items.Data) == 0 || s.Items.Data[0].Price == nil {
		return ""
	}
	return s.Items.Data[0].Price.ID
}

// failureReason extracts a human-readable failure message from the invoice.
func failureReason(invoice *stripe.Invoice) string {
	if invoice.LastFinalizationError != nil && invoice.LastFinalizationError.Msg != "" {
		return invoice.LastFinalizationError.Msg
	}
	return "payment_failed"
}

// nextReset advances the quota rollover time by one billing period.
func nextReset(now time.Time, cycle models.BillingCycle) time.Time {
	if cycle == models.CycleAnnual {
		return now.AddDate(1, 0, 0)
	}
	return now.AddDate(0, 1, 0)
}
