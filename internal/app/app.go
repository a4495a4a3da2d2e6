package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/relaytext/relaytext-billing/internal/config"
	"github.com/relaytext/relaytext-billing/internal/db"
	"github.com/relaytext/relaytext-billing/internal/eventlog"
	"github.com/relaytext/relaytext-billing/internal/http/api"
	"github.com/relaytext/relaytext-billing/internal/http/api/admin"
	"github.com/relaytext/relaytext-billing/internal/ledger"
	"github.com/relaytext/relaytext-billing/internal/metrics"
	"github.com/relaytext/relaytext-billing/internal/notify"
	"github.com/relaytext/relaytext-billing/internal/payments"
	"github.com/relaytext/relaytext-billing/internal/pricing"
	"github.com/relaytext/relaytext-billing/internal/quota"
	"github.com/relaytext/relaytext-billing/internal/ratelimit"
	"github.com/relaytext/relaytext-billing/internal/webhook"
	log "github.com/sirupsen/logrus"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// ConfigExists reports whether the config file is present on disk.
func ConfigExists(configPath string) bool {
	info, errStat := os.Stat(configPath)
	return errStat == nil && !info.IsDir()
}

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	return db.Migrate(conn)
}

// RunServer boots the billing engine with database-backed components.
func RunServer(ctx context.Context, cfg config.AppConfig, defaultPort int) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}

	jwtConfig, errJWT := config.LoadJWTConfig(configPath)
	if errJWT != nil {
		return errJWT
	}
	stripeConfig, errStripe := config.LoadStripeConfig(configPath)
	if errStripe != nil {
		return errStripe
	}
	notifyConfig, errNotify := config.LoadNotifyConfig(configPath)
	if errNotify != nil {
		return errNotify
	}
	rateConfig := config.LoadRateLimitConfig(configPath)
	serverConfig := config.LoadServerConfig(configPath, defaultPort)

	prices, errPrices := pricing.NewTable(stripeConfig.Prices)
	if errPrices != nil {
		return errPrices
	}
	processor, errProcessor := buildProcessor(stripeConfig)
	if errProcessor != nil {
		return errProcessor
	}
	notifier, errNotifier := buildNotifier(ctx, notifyConfig)
	if errNotifier != nil {
		return errNotifier
	}

	ledgerStore := ledger.NewStore(conn)
	events := eventlog.NewLog(conn)
	enforcer := quota.NewEnforcer(ledgerStore, events, processor, notifier, prices)
	dispatcher := webhook.NewDispatcher(conn, ledgerStore, events, prices, processor, notifier, stripeConfig.WebhookSecret)
	limiter := ratelimit.NewManager(rateConfig, nil, nil)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), metrics.Middleware())
	api.RegisterRoutes(engine, conn, jwtConfig, dispatcher, enforcer, limiter)
	admin.RegisterAdminRoutes(engine, conn, jwtConfig)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", serverConfig.Port),
		Handler: engine,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()
	log.Infof("billing engine listening on :%d (stripe mode=%s)", serverConfig.Port, stripeConfig.Mode)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case errServe := <-serveErr:
		if errors.Is(errServe, http.ErrServerClosed) {
			return nil
		}
		return errServe
	}
}

// buildProcessor selects the payment processor backend by configured mode.
func buildProcessor(cfg config.StripeConfig) (payments.Processor, error) {
	if cfg.Mode == config.StripeModeRecording {
		log.Info("payment processor running in recording mode")
		return payments.NewRecordingProcessor(), nil
	}
	return payments.NewStripeProcessor(cfg.SecretKey)
}

// buildNotifier selects the notification backend by configured mode.
func buildNotifier(ctx context.Context, cfg config.NotifyConfig) (notify.Notifier, error) {
	if cfg.Mode == config.NotifyModeSES {
		return notify.NewSESNotifier(ctx, cfg.SESRegion, cfg.SESSender)
	}
	return notify.NewLogNotifier(), nil
}
