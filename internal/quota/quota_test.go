package quota

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/relaytext/relaytext-billing/internal/config"
	"github.com/relaytext/relaytext-billing/internal/db"
	"github.com/relaytext/relaytext-billing/internal/eventlog"
	"github.com/relaytext/relaytext-billing/internal/ledger"
	"github.com/relaytext/relaytext-billing/internal/models"
	"github.com/relaytext/relaytext-billing/internal/notify"
	"github.com/relaytext/relaytext-billing/internal/payments"
	"github.com/relaytext/relaytext-billing/internal/pricing"
	"gorm.io/gorm"
)

type enforcerFixture struct {
	conn      *gorm.DB
	ledger    *ledger.Store
	events    *eventlog.Log
	processor *payments.RecordingProcessor
	recorder  *notify.Recorder
	enforcer  *Enforcer
}

func newFixture(t *testing.T) *enforcerFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	conn, errOpen := db.Open(dsn)
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	prices, errPrices := pricing.NewTable([]config.PriceMapping{
		{PriceID: "price_basic_m", Tier: "basic", Cycle: "monthly"},
		{PriceID: "price_standard_m", Tier: "standard", Cycle: "monthly"},
		{PriceID: "price_premium_m", Tier: "premium", Cycle: "monthly"},
	})
	if errPrices != nil {
		t.Fatalf("price table: %v", errPrices)
	}

	f := &enforcerFixture{
		conn:      conn,
		ledger:    ledger.NewStore(conn),
		events:    eventlog.NewLog(conn),
		processor: payments.NewRecordingProcessor(),
		recorder:  notify.NewRecorder(),
	}
	f.enforcer = NewEnforcer(f.ledger, f.events, f.processor, f.recorder, prices)
	return f
}

func (f *enforcerFixture) seed(t *testing.T, acc *models.Account) *models.Account {
	t.Helper()
	if acc.Email == "" {
		acc.Email = "user@example.com"
	}
	if acc.UsageResetAt.IsZero() {
		acc.UsageResetAt = time.Now().UTC().AddDate(0, 1, 0)
	}
	if errCreate := f.ledger.Create(context.Background(), acc); errCreate != nil {
		t.Fatalf("seed account: %v", errCreate)
	}
	return acc
}

func (f *enforcerFixture) account(t *testing.T, id uint64) *models.Account {
	t.Helper()
	acc, errGet := f.ledger.Get(context.Background(), id)
	if errGet != nil {
		t.Fatalf("get account: %v", errGet)
	}
	return acc
}

func (f *enforcerFixture) eventCount(t *testing.T, accountID uint64, eventType string) int64 {
	t.Helper()
	var count int64
	if errCount := f.conn.Model(&models.BillingEvent{}).
		Where("account_id = ? AND type = ?", accountID, eventType).
		Count(&count).Error; errCount != nil {
		t.Fatalf("count events: %v", errCount)
	}
	return count
}

func TestCheckAndConsume_DeliversWithinQuota(t *testing.T) {
	f := newFixture(t)
	acc := f.seed(t, &models.Account{Plan: models.PlanBasic, UsageCount: 5})

	outcome, errCheck := f.enforcer.CheckAndConsume(context.Background(), acc.ID)
	if errCheck != nil {
		t.Fatalf("check: %v", errCheck)
	}
	if !outcome.Delivered {
		t.Fatalf("expected delivery, got bounce %s", outcome.Reason)
	}
	if got := f.account(t, acc.ID).UsageCount; got != 6 {
		t.Fatalf("expected usage 6, got %d", got)
	}
}

func TestCheckAndConsume_FreeOverageAutoUpgrades(t *testing.T) {
	f := newFixture(t)
	acc := f.seed(t, &models.Account{Plan: models.PlanFree, UsageCount: 10, CustomerRef: "cus_free"})

	outcome, errCheck := f.enforcer.CheckAndConsume(context.Background(), acc.ID)
	if errCheck != nil {
		t.Fatalf("check: %v", errCheck)
	}
	if !outcome.Delivered {
		t.Fatalf("free overage must deliver via auto-upgrade, got bounce %s", outcome.Reason)
	}

	if len(f.processor.Subscriptions) != 1 {
		t.Fatalf("expected 1 subscription request, got %d", len(f.processor.Subscriptions))
	}
	req := f.processor.Subscriptions[0]
	if req.PriceID != "price_basic_m" {
		t.Fatalf("expected basic monthly price, got %s", req.PriceID)
	}
	if req.Metadata[payments.MetadataAutoUpgrade] != "true" {
		t.Fatalf("expected auto_upgrade metadata marker")
	}
	if req.IdempotencyKey == "" {
		t.Fatalf("expected idempotency key on subscription request")
	}

	// The plan itself stays free until the confirming webhook lands.
	after := f.account(t, acc.ID)
	if after.Plan != models.PlanFree {
		t.Fatalf("plan must not change before webhook confirmation, got %s", after.Plan)
	}
	if after.UsageCount != 11 {
		t.Fatalf("expected in-flight message consumed, usage %d", after.UsageCount)
	}
	if got := f.eventCount(t, acc.ID, models.EventAutoUpgradeInitiated); got != 1 {
		t.Fatalf("expected 1 auto_upgrade_initiated event, got %d", got)
	}
}

func TestCheckAndConsume_BasicOverageAutoBuys(t *testing.T) {
	f := newFixture(t)
	acc := f.seed(t, &models.Account{Plan: models.PlanBasic, UsageCount: 100, CustomerRef: "cus_basic"})

	outcome, errCheck := f.enforcer.CheckAndConsume(context.Background(), acc.ID)
	if errCheck != nil {
		t.Fatalf("check: %v", errCheck)
	}
	if !outcome.Delivered {
		t.Fatalf("basic overage must deliver via auto-buy, got bounce %s", outcome.Reason)
	}

	if len(f.processor.Charges) != 1 {
		t.Fatalf("expected 1 charge request, got %d", len(f.processor.Charges))
	}
	charge := f.processor.Charges[0]
	if charge.AmountCents != 605 {
		t.Fatalf("expected 100 units at 0.0605 = 605 cents, got %d", charge.AmountCents)
	}
	if charge.Quantity != 100 {
		t.Fatalf("expected block of 100 units, got %d", charge.Quantity)
	}
	if charge.Metadata[payments.MetadataPurpose] != payments.PurposeAutoBuyTexts {
		t.Fatalf("expected auto-buy purpose metadata")
	}

	after := f.account(t, acc.ID)
	if after.UsageCount != 101 {
		t.Fatalf("expected in-flight message consumed, usage %d", after.UsageCount)
	}
	// Purchased units are credited by the confirming charge webhook, not here.
	if after.AdditionalUnitsPurchased != 0 {
		t.Fatalf("units must not be credited before webhook confirmation, got %d", after.AdditionalUnitsPurchased)
	}
	if got := f.eventCount(t, acc.ID, models.EventAutoBuyInitiated); got != 1 {
		t.Fatalf("expected 1 auto_buy_initiated event, got %d", got)
	}
}

func TestCheckAndConsume_BouncesWhenRemediationFails(t *testing.T) {
	f := newFixture(t)
	acc := f.seed(t, &models.Account{Plan: models.PlanBasic, UsageCount: 100, CustomerRef: "cus_fail"})
	f.processor.FailCharges = true

	outcome, errCheck := f.enforcer.CheckAndConsume(context.Background(), acc.ID)
	if errCheck != nil {
		t.Fatalf("check: %v", errCheck)
	}
	if outcome.Delivered {
		t.Fatalf("expected bounce when charge fails")
	}
	if outcome.Reason != BounceQuotaExceeded {
		t.Fatalf("expected quota_exceeded bounce, got %s", outcome.Reason)
	}

	// No partial quota consumption on a failed remediation.
	if got := f.account(t, acc.ID).UsageCount; got != 100 {
		t.Fatalf("expected usage unchanged at 100, got %d", got)
	}
	if f.recorder.CountByTemplate(notify.TemplateQuotaBounce) != 1 {
		t.Fatalf("expected quota bounce notification")
	}
}

func TestCheckAndConsume_SuspendedBouncesUnconditionally(t *testing.T) {
	f := newFixture(t)
	acc := f.seed(t, &models.Account{
		Plan:             models.PlanSuspended,
		PriorPlan:        models.PlanBasic,
		SuspensionReason: models.SuspensionReasonPaymentFailed,
	})

	outcome, errCheck := f.enforcer.CheckAndConsume(context.Background(), acc.ID)
	if errCheck != nil {
		t.Fatalf("check: %v", errCheck)
	}
	if outcome.Delivered || outcome.Reason != BounceAccountSuspended {
		t.Fatalf("expected suspended bounce, got %+v", outcome)
	}
	if len(f.processor.Subscriptions) != 0 || len(f.processor.Charges) != 0 {
		t.Fatalf("suspended accounts must not trigger remediation")
	}
	if got := f.account(t, acc.ID).UsageCount; got != 0 {
		t.Fatalf("expected no usage consumed, got %d", got)
	}
}

func TestCheckAndConsume_PurchasedUnitsExtendLimit(t *testing.T) {
	f := newFixture(t)
	acc := f.seed(t, &models.Account{Plan: models.PlanBasic, UsageCount: 100, AdditionalUnitsPurchased: 100})

	outcome, errCheck := f.enforcer.CheckAndConsume(context.Background(), acc.ID)
	if errCheck != nil {
		t.Fatalf("check: %v", errCheck)
	}
	if !outcome.Delivered {
		t.Fatalf("expected delivery within purchased units")
	}
	if len(f.processor.Charges) != 0 {
		t.Fatalf("no charge needed while purchased units remain")
	}
}

func TestUsageAlert_EmittedOncePerPeriod(t *testing.T) {
	f := newFixture(t)
	acc := f.seed(t, &models.Account{Plan: models.PlanBasic, UsageCount: 79})

	// Crossing 80% fires the alert.
	if _, errCheck := f.enforcer.CheckAndConsume(context.Background(), acc.ID); errCheck != nil {
		t.Fatalf("check: %v", errCheck)
	}
	if got := f.eventCount(t, acc.ID, models.EventUsageAlert80); got != 1 {
		t.Fatalf("expected 1 usage alert event, got %d", got)
	}
	if f.recorder.CountByTemplate(notify.TemplateUsageAlert) != 1 {
		t.Fatalf("expected 1 usage alert notification")
	}

	// Further deliveries this period stay silent.
	for i := 0; i < 3; i++ {
		if _, errCheck := f.enforcer.CheckAndConsume(context.Background(), acc.ID); errCheck != nil {
			t.Fatalf("check %d: %v", i, errCheck)
		}
	}
	if got := f.eventCount(t, acc.ID, models.EventUsageAlert80); got != 1 {
		t.Fatalf("alert must fire once per period, got %d events", got)
	}
}

func TestCheckAndConsume_NeverExceedsLimit(t *testing.T) {
	f := newFixture(t)
	f.processor.FailSubscriptions = true
	acc := f.seed(t, &models.Account{Plan: models.PlanFree, UsageCount: 9})

	// One delivery left; the next must bounce since remediation fails.
	for i := 0; i < 3; i++ {
		if _, errCheck := f.enforcer.CheckAndConsume(context.Background(), acc.ID); errCheck != nil {
			t.Fatalf("check %d: %v", i, errCheck)
		}
	}
	if got := f.account(t, acc.ID).UsageCount; got != 10 {
		t.Fatalf("usage must never pass the limit, got %d", got)
	}
}
