package quota

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/relaytext/relaytext-billing/internal/eventlog"
	"github.com/relaytext/relaytext-billing/internal/ledger"
	"github.com/relaytext/relaytext-billing/internal/metrics"
	"github.com/relaytext/relaytext-billing/internal/models"
	"github.com/relaytext/relaytext-billing/internal/notify"
	"github.com/relaytext/relaytext-billing/internal/payments"
	"github.com/relaytext/relaytext-billing/internal/planstate"
	"github.com/relaytext/relaytext-billing/internal/pricing"
	"github.com/relaytext/relaytext-billing/internal/settings"
	log "github.com/sirupsen/logrus"
)

// BounceReason explains why a message was not delivered.
type BounceReason string

// BounceReason constants.
const (
	// BounceQuotaExceeded means the quota is exhausted and remediation failed.
	BounceQuotaExceeded BounceReason = "quota_exceeded"
	// BounceAccountSuspended means the account is suspended; no remediation.
	BounceAccountSuspended BounceReason = "account_suspended"
)

// Outcome is the result of one delivery-time quota check.
type Outcome struct {
	Delivered bool
	Reason    BounceReason
}

// Enforcer decides, per inbound message, whether to deliver, auto-upgrade,
// auto-purchase, or bounce. It never writes plan state from processor
// responses; the confirming webhook does that.
type Enforcer struct {
	ledger    *ledger.Store
	events    *eventlog.Log
	processor payments.Processor
	notifier  notify.Notifier
	prices    *pricing.Table
}

// NewEnforcer constructs an Enforcer.
func NewEnforcer(ledgerStore *ledger.Store, events *eventlog.Log, processor payments.Processor, notifier notify.Notifier, prices *pricing.Table) *Enforcer {
	return &Enforcer{
		ledger:    ledgerStore,
		events:    events,
		processor: processor,
		notifier:  notifier,
		prices:    prices,
	}
}

// CheckAndConsume is invoked once per inbound message, synchronously,
// before delivery.
func (e *Enforcer) CheckAndConsume(ctx context.Context, accountID uint64) (Outcome, error) {
	acc, errGet := e.ledger.Get(ctx, accountID)
	if errGet != nil {
		return Outcome{}, errGet
	}

	if acc.Plan == models.PlanSuspended {
		metrics.Deliveries.WithLabelValues("bounced_suspended").Inc()
		return Outcome{Delivered: false, Reason: BounceAccountSuspended}, nil
	}

	limit := planstate.Quota(acc.Plan) + acc.AdditionalUnitsPurchased
	consumed, errConsume := e.ledger.ConsumeQuota(ctx, accountID, limit)
	if errConsume != nil {
		return Outcome{}, errConsume
	}
	if consumed {
		e.maybeEmitUsageAlert(ctx, accountID)
		metrics.Deliveries.WithLabelValues("delivered").Inc()
		return Outcome{Delivered: true}, nil
	}

	// Quota exhausted. A concurrent webhook may have changed the plan since
	// the first read, so remediate against fresh state.
	acc, errGet = e.ledger.Get(ctx, accountID)
	if errGet != nil {
		return Outcome{}, errGet
	}

	switch {
	case acc.Plan == models.PlanFree:
		return e.autoUpgrade(ctx, acc)
	case acc.Plan.IsPaid():
		return e.autoBuy(ctx, acc)
	default:
		metrics.Deliveries.WithLabelValues("bounced_suspended").Inc()
		return Outcome{Delivered: false, Reason: BounceAccountSuspended}, nil
	}
}

// autoUpgrade creates a basic-tier subscription on the processor and
// delivers the in-flight message. The plan change itself lands with the
// confirming subscription webhook.
func (e *Enforcer) autoUpgrade(ctx context.Context, acc *models.Account) (Outcome, error) {
	params := payments.CreateSubscriptionParams{
		AccountID:   acc.ID,
		CustomerRef: acc.CustomerRef,
		PriceID:     e.prices.BasicMonthlyPriceID(),
		Metadata: map[string]string{
			payments.MetadataAutoUpgrade: "true",
			payments.MetadataAccountID:   strconv.FormatUint(acc.ID, 10),
		},
		IdempotencyKey: fmt.Sprintf("auto-upgrade-%d-%s", acc.ID, periodKey(acc)),
	}

	result, errCreate := e.processor.CreateSubscription(ctx, params)
	if errCreate != nil {
		metrics.Remediations.WithLabelValues("auto_upgrade", "failed").Inc()
		metrics.Deliveries.WithLabelValues("bounced_quota").Inc()
		log.WithError(errCreate).WithField("account_id", acc.ID).Warn("quota: auto-upgrade failed, bouncing")
		notify.Fire(ctx, e.notifier, acc.Email, notify.TemplateQuotaBounce, string(BounceQuotaExceeded))
		return Outcome{Delivered: false, Reason: BounceQuotaExceeded}, nil
	}

	if errAppend := e.events.Append(ctx, acc.ID, models.EventAutoUpgradeInitiated, nil, result.SubscriptionRef, map[string]any{
		"target_plan": string(models.PlanBasic),
		"status":      result.Status,
	}); errAppend != nil {
		return Outcome{}, errAppend
	}
	// The new tier covers the in-flight message.
	if errForce := e.ledger.ForceConsume(ctx, acc.ID); errForce != nil {
		return Outcome{}, errForce
	}
	metrics.Remediations.WithLabelValues("auto_upgrade", "ok").Inc()
	metrics.Deliveries.WithLabelValues("delivered").Inc()
	return Outcome{Delivered: true}, nil
}

// autoBuy charges for one overage block and delivers the in-flight
// message. The purchased units are credited by the confirming charge
// webhook.
func (e *Enforcer) autoBuy(ctx context.Context, acc *models.Account) (Outcome, error) {
	amountCents := pricing.OverageBlockPriceCents(acc.Plan)
	blockIndex := acc.AdditionalUnitsPurchased / settings.OverageBlockSize
	params := payments.OverageChargeParams{
		AccountID:   acc.ID,
		CustomerRef: acc.CustomerRef,
		AmountCents: amountCents,
		Quantity:    settings.OverageBlockSize,
		Description: fmt.Sprintf("RelayText overage: %d additional messages", settings.OverageBlockSize),
		Metadata: map[string]string{
			payments.MetadataPurpose:   payments.PurposeAutoBuyTexts,
			payments.MetadataQuantity:  strconv.Itoa(settings.OverageBlockSize),
			payments.MetadataAccountID: strconv.FormatUint(acc.ID, 10),
		},
		IdempotencyKey: fmt.Sprintf("auto-buy-%d-%s-%d", acc.ID, periodKey(acc), blockIndex),
	}

	result, errCharge := e.processor.CreateOverageCharge(ctx, params)
	if errCharge != nil {
		metrics.Remediations.WithLabelValues("auto_buy", "failed").Inc()
		metrics.Deliveries.WithLabelValues("bounced_quota").Inc()
		log.WithError(errCharge).WithField("account_id", acc.ID).Warn("quota: auto-buy failed, bouncing")
		notify.Fire(ctx, e.notifier, acc.Email, notify.TemplateQuotaBounce, string(BounceQuotaExceeded))
		return Outcome{Delivered: false, Reason: BounceQuotaExceeded}, nil
	}

	amount := float64(result.AmountCents) / 100
	if errAppend := e.events.Append(ctx, acc.ID, models.EventAutoBuyInitiated, &amount, result.ChargeRef, map[string]any{
		"quantity":   settings.OverageBlockSize,
		"unit_price": pricing.OverageUnitPrice(acc.Plan),
	}); errAppend != nil {
		return Outcome{}, errAppend
	}
	// The purchased block covers the in-flight message.
	if errForce := e.ledger.ForceConsume(ctx, acc.ID); errForce != nil {
		return Outcome{}, errForce
	}
	metrics.Remediations.WithLabelValues("auto_buy", "ok").Inc()
	metrics.Deliveries.WithLabelValues("delivered").Inc()
	return Outcome{Delivered: true}, nil
}

// maybeEmitUsageAlert emits the 80% usage alert the first time the plan
// quota fraction crosses the threshold this period. Alert failures never
// fail the delivery.
func (e *Enforcer) maybeEmitUsageAlert(ctx context.Context, accountID uint64) {
	acc, errGet := e.ledger.Get(ctx, accountID)
	if errGet != nil {
		log.WithError(errGet).Warn("quota: usage alert read failed")
		return
	}
	planQuota := planstate.Quota(acc.Plan)
	if planQuota <= 0 {
		return
	}
	threshold := int64(math.Ceil(float64(planQuota) * settings.UsageAlertThreshold))
	if acc.UsageCount < threshold {
		return
	}

	alreadySent, errCheck := e.events.HasEventSince(ctx, acc.ID, models.EventUsageAlert80, periodStart(acc))
	if errCheck != nil {
		log.WithError(errCheck).Warn("quota: usage alert dedupe failed")
		return
	}
	if alreadySent {
		return
	}

	if errAppend := e.events.Append(ctx, acc.ID, models.EventUsageAlert80, nil, "", map[string]any{
		"used":  acc.UsageCount,
		"quota": planQuota,
	}); errAppend != nil {
		log.WithError(errAppend).Warn("quota: usage alert append failed")
		return
	}
	notify.Fire(ctx, e.notifier, acc.Email, notify.TemplateUsageAlert,
		strconv.FormatInt(acc.UsageCount, 10), strconv.FormatInt(planQuota, 10))
}

// periodKey identifies the current billing period for idempotency keys.
func periodKey(acc *models.Account) string {
	return acc.UsageResetAt.UTC().Format("20060102")
}

// periodStart returns the beginning of the current billing period.
func periodStart(acc *models.Account) time.Time {
	reset := acc.UsageResetAt.UTC()
	if acc.BillingCycle == models.CycleAnnual {
		return reset.AddDate(-1, 0, 0)
	}
	return reset.AddDate(0, -1, 0)
}
