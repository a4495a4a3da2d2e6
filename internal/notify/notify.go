package notify

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// Template keys for transactional notifications. Data is positional and
// template-specific (plan names, quotas, dollar amounts as strings).
const (
	// TemplatePlanConfirmation confirms a new subscription: plan, quota.
	TemplatePlanConfirmation = "plan_confirmation"
	// TemplateUpgradeNotice announces a tier upgrade: old plan, new plan.
	TemplateUpgradeNotice = "upgrade_notice"
	// TemplatePaymentMethodUpdated confirms a payment method change.
	TemplatePaymentMethodUpdated = "payment_method_updated"
	// TemplatePaymentReminder is the first failed-payment notice: invoice ref.
	TemplatePaymentReminder = "payment_reminder"
	// TemplatePaymentUrgent is the second failed-payment notice: invoice ref.
	TemplatePaymentUrgent = "payment_urgent"
	// TemplateAccountSuspended announces suspension: reason.
	TemplateAccountSuspended = "account_suspended"
	// TemplateAccountReactivated announces recovery: plan.
	TemplateAccountReactivated = "account_reactivated"
	// TemplateUsageAlert warns at 80% of plan quota: used, quota.
	TemplateUsageAlert = "usage_alert"
	// TemplateAutoBuyReceipt confirms an overage purchase: quantity, cost.
	TemplateAutoBuyReceipt = "auto_buy_receipt"
	// TemplateQuotaBounce informs the sender of a bounced message: reason.
	TemplateQuotaBounce = "quota_bounce"
)

// Notifier dispatches one transactional notification to a recipient.
// Implementations are selected once at composition time.
type Notifier interface {
	Send(ctx context.Context, recipient, template string, data ...string) error
}

// Fire dispatches a notification and logs failures. Notification errors
// never block billing state changes.
func Fire(ctx context.Context, n Notifier, recipient, template string, data ...string) {
	if n == nil {
		return
	}
	if errSend := n.Send(ctx, recipient, template, data...); errSend != nil {
		log.WithError(errSend).WithField("template", template).Warn("notify: dispatch failed")
	}
}
