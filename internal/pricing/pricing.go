package pricing

import (
	"fmt"
	"math"
	"strings"

	"github.com/relaytext/relaytext-billing/internal/config"
	"github.com/relaytext/relaytext-billing/internal/models"
	"github.com/relaytext/relaytext-billing/internal/settings"
)

// PlanPrice describes the internal meaning of one external price identifier.
type PlanPrice struct {
	Tier  models.PlanTier
	Cycle models.BillingCycle
}

// Table maps external processor price identifiers to internal plan tiers.
// It is built once at startup and never assembled per-request.
type Table struct {
	byPriceID map[string]PlanPrice
	basicID   string
}

// NewTable builds and validates a price table from config mappings.
func NewTable(mappings []config.PriceMapping) (*Table, error) {
	t := &Table{byPriceID: make(map[string]PlanPrice, len(mappings))}
	for _, m := range mappings {
		priceID := strings.TrimSpace(m.PriceID)
		if priceID == "" {
			return nil, fmt.Errorf("pricing: mapping with empty price-id")
		}
		if _, dup := t.byPriceID[priceID]; dup {
			return nil, fmt.Errorf("pricing: duplicate price-id %s", priceID)
		}
		tier := models.PlanTier(strings.ToLower(strings.TrimSpace(m.Tier)))
		if !tier.IsPaid() {
			return nil, fmt.Errorf("pricing: price-id %s maps to non-paid tier %q", priceID, m.Tier)
		}
		cycle := models.BillingCycle(strings.ToLower(strings.TrimSpace(m.Cycle)))
		switch cycle {
		case models.CycleMonthly, models.CycleAnnual:
		default:
			return nil, fmt.Errorf("pricing: price-id %s has invalid cycle %q", priceID, m.Cycle)
		}
		t.byPriceID[priceID] = PlanPrice{Tier: tier, Cycle: cycle}
		if tier == models.PlanBasic && cycle == models.CycleMonthly && t.basicID == "" {
			t.basicID = priceID
		}
	}
	if t.basicID == "" {
		return nil, fmt.Errorf("pricing: no monthly basic price-id configured (required for auto-upgrade)")
	}
	return t, nil
}

// Resolve returns the internal plan for an external price identifier.
func (t *Table) Resolve(priceID string) (PlanPrice, bool) {
	if t == nil {
		return PlanPrice{}, false
	}
	p, ok := t.byPriceID[strings.TrimSpace(priceID)]
	return p, ok
}

// BasicMonthlyPriceID returns the price identifier used for auto-upgrades.
func (t *Table) BasicMonthlyPriceID() string {
	if t == nil {
		return ""
	}
	return t.basicID
}

// BaseUnitPrice returns the pre-markup per-unit overage price in dollars.
func BaseUnitPrice(plan models.PlanTier) float64 {
	switch plan {
	case models.PlanBasic:
		return 0.055
	case models.PlanStandard, models.PlanPremium:
		return 0.022
	default:
		return 0
	}
}

// OverageUnitPrice returns the marked-up per-unit overage price in dollars.
// The charge-time calculation here is authoritative over any displayed price.
func OverageUnitPrice(plan models.PlanTier) float64 {
	return BaseUnitPrice(plan) * settings.OverageMarkup
}

// OverageBlockPrice returns the dollar price of one overage block.
func OverageBlockPrice(plan models.PlanTier) float64 {
	return roundCents(BaseUnitPrice(plan) * settings.OverageMarkup * settings.OverageBlockSize)
}

// OverageBlockPriceCents returns the block price in integer cents, the unit
// the payment processor charges in.
func OverageBlockPriceCents(plan models.PlanTier) int64 {
	return int64(math.Round(BaseUnitPrice(plan) * settings.OverageMarkup * settings.OverageBlockSize * 100))
}

// roundCents rounds a dollar amount to whole cents.
func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
