package planstate

import (
	"fmt"

	"github.com/relaytext/relaytext-billing/internal/models"
)

// Monthly message quotas per plan tier.
const (
	QuotaFree     int64 = 10
	QuotaBasic    int64 = 100
	QuotaStandard int64 = 500
	QuotaPremium  int64 = 1000
)

// Quota returns the monthly message quota for a plan tier. Suspended
// accounts have no deliverable quota.
func Quota(plan models.PlanTier) int64 {
	switch plan {
	case models.PlanFree:
		return QuotaFree
	case models.PlanBasic:
		return QuotaBasic
	case models.PlanStandard:
		return QuotaStandard
	case models.PlanPremium:
		return QuotaPremium
	default:
		return 0
	}
}

// Rank orders tiers for upgrade/downgrade comparison. Higher is better.
// Suspended is not part of the ordering.
func Rank(plan models.PlanTier) int {
	switch plan {
	case models.PlanFree:
		return 0
	case models.PlanBasic:
		return 1
	case models.PlanStandard:
		return 2
	case models.PlanPremium:
		return 3
	default:
		return -1
	}
}

// IsUpgrade reports whether moving from one tier to another ranks upward.
func IsUpgrade(from, to models.PlanTier) bool {
	return Rank(to) > Rank(from) && Rank(from) >= 0
}

// Transition rejection reasons.
const (
	ReasonUsageExceedsLimit = "usage_exceeds_limit"
	ReasonInvalidTarget     = "invalid_target"
	ReasonSuspended         = "account_suspended"
)

// TransitionError reports a rejected plan transition. It is an expected
// business condition, not a fault.
type TransitionError struct {
	From   models.PlanTier
	To     models.PlanTier
	Reason string
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("plan transition %s -> %s rejected: %s", e.From, e.To, e.Reason)
}

// CheckChange validates a webhook-confirmed tier change against the
// account's current usage. A target whose quota (plus purchased units)
// the account has already exceeded is rejected rather than applied.
func CheckChange(acc *models.Account, target models.PlanTier) error {
	if acc == nil {
		return &TransitionError{To: target, Reason: ReasonInvalidTarget}
	}
	if target == models.PlanSuspended || Rank(target) < 0 {
		return &TransitionError{From: acc.Plan, To: target, Reason: ReasonInvalidTarget}
	}
	if acc.UsageCount > Quota(target)+acc.AdditionalUnitsPurchased {
		return &TransitionError{From: acc.Plan, To: target, Reason: ReasonUsageExceedsLimit}
	}
	return nil
}

// ApplyChange mutates the account to the target tier. Callers validate with
// CheckChange first; plan changes are only ever applied from webhook-confirmed
// subscription events.
func ApplyChange(acc *models.Account, target models.PlanTier, cycle models.BillingCycle, subscriptionRef string) {
	acc.Plan = target
	acc.BillingCycle = cycle
	acc.SubscriptionRef = subscriptionRef
	if target == models.PlanFree {
		acc.BillingCycle = models.CycleNone
		acc.SubscriptionRef = ""
	}
}

// Suspend transitions the account to the suspended state, remembering the
// tier to restore on recovery. Re-suspending is a no-op.
func Suspend(acc *models.Account, reason string) {
	if acc.Plan == models.PlanSuspended {
		return
	}
	acc.PriorPlan = acc.Plan
	acc.Plan = models.PlanSuspended
	acc.SuspensionReason = reason
}

// Restore returns a suspended account to its prior plan and clears the
// suspension reason. Restoring a non-suspended account is a no-op.
func Restore(acc *models.Account) {
	if acc.Plan != models.PlanSuspended {
		return
	}
	prior := acc.PriorPlan
	if Rank(prior) < 0 {
		prior = models.PlanFree
	}
	acc.Plan = prior
	acc.PriorPlan = ""
	acc.SuspensionReason = ""
}
