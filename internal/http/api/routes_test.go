package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/relaytext/relaytext-billing/internal/config"
	"github.com/relaytext/relaytext-billing/internal/db"
	"github.com/relaytext/relaytext-billing/internal/eventlog"
	"github.com/relaytext/relaytext-billing/internal/ledger"
	"github.com/relaytext/relaytext-billing/internal/models"
	"github.com/relaytext/relaytext-billing/internal/notify"
	"github.com/relaytext/relaytext-billing/internal/payments"
	"github.com/relaytext/relaytext-billing/internal/pricing"
	"github.com/relaytext/relaytext-billing/internal/quota"
	"github.com/relaytext/relaytext-billing/internal/ratelimit"
	"github.com/relaytext/relaytext-billing/internal/security"
	"github.com/relaytext/relaytext-billing/internal/webhook"
)

const testJWTSecret = "test-jwt-secret"

type serverFixture struct {
	engine *gin.Engine
	ledger *ledger.Store
}

func newServer(t *testing.T, deliveryPerSecond int) *serverFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

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
	})
	if errPrices != nil {
		t.Fatalf("price table: %v", errPrices)
	}

	ledgerStore := ledger.NewStore(conn)
	events := eventlog.NewLog(conn)
	processor := payments.NewRecordingProcessor()
	notifier := notify.NewRecorder()
	enforcer := quota.NewEnforcer(ledgerStore, events, processor, notifier, prices)
	dispatcher := webhook.NewDispatcher(conn, ledgerStore, events, prices, processor, notifier, "whsec_test")
	// A fixed clock keeps rate-limit windows deterministic.
	fixedNow := time.Unix(1_700_000_000, 0)
	limiter := ratelimit.NewManager(config.RateLimitConfig{DeliveryPerSecond: deliveryPerSecond}, func() time.Time { return fixedNow }, nil)

	engine := gin.New()
	RegisterRoutes(engine, conn, config.JWTConfig{Secret: testJWTSecret, Expiry: time.Hour}, dispatcher, enforcer, limiter)
	return &serverFixture{engine: engine, ledger: ledgerStore}
}

func (f *serverFixture) seed(t *testing.T, acc *models.Account) *models.Account {
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

func serviceToken(t *testing.T) string {
	t.Helper()
	token, errMint := security.MintServiceToken(testJWTSecret, "delivery-pipeline", time.Hour)
	if errMint != nil {
		t.Fatalf("mint token: %v", errMint)
	}
	return token
}

func TestHealthz(t *testing.T) {
	f := newServer(t, 0)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	f.engine.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestDeliveryCheck_RequiresToken(t *testing.T) {
	f := newServer(t, 0)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v0/delivery/check", strings.NewReader(`{"account_id":1}`))
	req.Header.Set("Content-Type", "application/json")
	f.engine.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/v0/delivery/check", strings.NewReader(`{"account_id":1}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer not-a-token")
	f.engine.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", w.Code)
	}
}

func TestDeliveryCheck_DeliversAndConsumes(t *testing.T) {
	f := newServer(t, 0)
	acc := f.seed(t, &models.Account{Plan: models.PlanBasic, UsageCount: 5})

	w := httptest.NewRecorder()
	body := fmt.Sprintf(`{"account_id":%d}`, acc.ID)
	req := httptest.NewRequest(http.MethodPost, "/v0/delivery/check", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+serviceToken(t))
	f.engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Delivered bool   `json:"delivered"`
		Reason    string `json:"reason"`
	}
	if errDecode := json.Unmarshal(w.Body.Bytes(), &resp); errDecode != nil {
		t.Fatalf("decode response: %v", errDecode)
	}
	if !resp.Delivered {
		t.Fatalf("expected delivery, got reason %s", resp.Reason)
	}

	after, errGet := f.ledger.Get(context.Background(), acc.ID)
	if errGet != nil {
		t.Fatalf("get account: %v", errGet)
	}
	if after.UsageCount != 6 {
		t.Fatalf("expected usage 6, got %d", after.UsageCount)
	}
}

func TestDeliveryCheck_UnknownAccount(t *testing.T) {
	f := newServer(t, 0)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v0/delivery/check", strings.NewReader(`{"account_id":999}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+serviceToken(t))
	f.engine.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestDeliveryCheck_RateLimited(t *testing.T) {
	f := newServer(t, 1)
	acc := f.seed(t, &models.Account{Plan: models.PlanBasic})
	token := serviceToken(t)
	body := fmt.Sprintf(`{"account_id":%d}`, acc.ID)

	send := func() int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v0/delivery/check", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		f.engine.ServeHTTP(w, req)
		return w.Code
	}

	if code := send(); code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", code)
	}
	if code := send(); code != http.StatusTooManyRequests {
		t.Fatalf("second request in window: expected 429, got %d", code)
	}
}

func TestWebhook_BadSignature(t *testing.T) {
	f := newServer(t, 0)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v0/webhooks/stripe", strings.NewReader(`{"id":"evt_1"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=bogus")
	f.engine.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
