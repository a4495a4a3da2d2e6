package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath          = "CONFIG_PATH"
	EnvDBConnection        = "DB_CONNECTION"
	EnvStripeSecretKey     = "STRIPE_SECRET_KEY"
	EnvStripeWebhookSecret = "STRIPE_WEBHOOK_SECRET"
	EnvJWTSecret           = "JWT_SECRET"
	EnvJWTExpiry           = "JWT_EXPIRY"
)

// AppConfig holds resolved application configuration values.
type AppConfig struct {
	ConfigPath string
}

// LoadFromEnv loads app config from environment variables.
func LoadFromEnv() (AppConfig, error) {
	return AppConfig{ConfigPath: ResolveConfigPath(os.Getenv(EnvConfigPath))}, nil
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// ErrMissingDatabaseDSN indicates no database DSN is present in the config file.
var ErrMissingDatabaseDSN = errors.New("missing database dsn (set `database-dsn` or `database.dsn` in config file)")

// LoadDatabaseDSN reads the database DSN from the YAML config file.
func LoadDatabaseDSN(configPath string) (string, error) {
	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		return dsn, nil
	}

	// fileConfig maps the YAML fields needed for DSN resolution.
	type fileConfig struct {
		DatabaseDSN string `yaml:"database-dsn"`
		Database    struct {
			DSN string `yaml:"dsn"`
		} `yaml:"database"`
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("read config file: %w", err)
	}

	var cfg fileConfig
	if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
		return "", fmt.Errorf("parse config file: %w", errUnmarshal)
	}

	if dsn := strings.TrimSpace(cfg.DatabaseDSN); dsn != "" {
		return dsn, nil
	}
	if dsn := strings.TrimSpace(cfg.Database.DSN); dsn != "" {
		return dsn, nil
	}
	return "", ErrMissingDatabaseDSN
}

// JWTConfig holds service-token secret and expiry settings.
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	Expiry time.Duration `yaml:"expiry"`
}

// defaultJWTExpiry is used when the config omits or invalidates JWT expiry.
const defaultJWTExpiry = 30 * 24 * time.Hour

// LoadJWTConfig loads service-token settings from the YAML config file.
func LoadJWTConfig(configPath string) (JWTConfig, error) {
	// fileConfig maps the YAML fields needed for JWT settings.
	type fileConfig struct {
		JWT JWTConfig `yaml:"jwt"`
	}

	result := JWTConfig{Expiry: defaultJWTExpiry}

	data, errRead := os.ReadFile(configPath)
	if errRead == nil {
		var cfg fileConfig
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal == nil {
			result = cfg.JWT
		}
	}

	if secret := strings.TrimSpace(os.Getenv(EnvJWTSecret)); secret != "" {
		result.Secret = secret
	}
	if expiryRaw := strings.TrimSpace(os.Getenv(EnvJWTExpiry)); expiryRaw != "" {
		if expiry, errParse := time.ParseDuration(expiryRaw); errParse == nil && expiry > 0 {
			result.Expiry = expiry
		}
	}

	if result.Expiry <= 0 {
		result.Expiry = defaultJWTExpiry
	}
	return result, nil
}

// Payment processor mode constants.
const (
	// StripeModeLive places real processor calls.
	StripeModeLive = "live"
	// StripeModeRecording records processor calls without placing them.
	StripeModeRecording = "recording"
)

// PriceMapping binds one external processor price ID to an internal tier.
type PriceMapping struct {
	PriceID string `yaml:"price-id"`
	Tier    string `yaml:"tier"`
	Cycle   string `yaml:"cycle"`
}

// StripeConfig holds payment processor credentials and the price table.
type StripeConfig struct {
	SecretKey     string         `yaml:"secret-key"`
	WebhookSecret string         `yaml:"webhook-secret"`
	Mode          string         `yaml:"mode"`
	Prices        []PriceMapping `yaml:"prices"`
}

// LoadStripeConfig loads payment processor settings from the YAML config file.
func LoadStripeConfig(configPath string) (StripeConfig, error) {
	// fileConfig maps the YAML fields needed for processor settings.
	type fileConfig struct {
		Stripe StripeConfig `yaml:"stripe"`
	}

	var result StripeConfig

	data, errRead := os.ReadFile(configPath)
	if errRead == nil {
		var cfg fileConfig
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
			return StripeConfig{}, fmt.Errorf("parse config file: %w", errUnmarshal)
		}
		result = cfg.Stripe
	}

	if key := strings.TrimSpace(os.Getenv(EnvStripeSecretKey)); key != "" {
		result.SecretKey = key
	}
	if secret := strings.TrimSpace(os.Getenv(EnvStripeWebhookSecret)); secret != "" {
		result.WebhookSecret = secret
	}

	result.Mode = strings.ToLower(strings.TrimSpace(result.Mode))
	if result.Mode == "" {
		if strings.TrimSpace(result.SecretKey) == "" {
			result.Mode = StripeModeRecording
		} else {
			result.Mode = StripeModeLive
		}
	}
	if result.Mode != StripeModeLive && result.Mode != StripeModeRecording {
		return StripeConfig{}, fmt.Errorf("invalid stripe mode: %s", result.Mode)
	}
	return result, nil
}

// Notifier mode constants.
const (
	// NotifyModeLog writes notifications to the application log only.
	NotifyModeLog = "log"
	// NotifyModeSES dispatches notifications through Amazon SES.
	NotifyModeSES = "ses"
)

// NotifyConfig holds transactional notification settings.
type NotifyConfig struct {
	Mode      string `yaml:"mode"`
	SESRegion string `yaml:"ses-region"`
	SESSender string `yaml:"ses-sender"`
}

// LoadNotifyConfig loads notification settings from the YAML config file.
func LoadNotifyConfig(configPath string) (NotifyConfig, error) {
	// fileConfig maps the YAML fields needed for notification settings.
	type fileConfig struct {
		Notify NotifyConfig `yaml:"notify"`
	}

	result := NotifyConfig{Mode: NotifyModeLog}

	data, errRead := os.ReadFile(configPath)
	if errRead == nil {
		var cfg fileConfig
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal == nil && strings.TrimSpace(cfg.Notify.Mode) != "" {
			result = cfg.Notify
		}
	}

	result.Mode = strings.ToLower(strings.TrimSpace(result.Mode))
	switch result.Mode {
	case NotifyModeLog:
	case NotifyModeSES:
		if strings.TrimSpace(result.SESSender) == "" {
			return NotifyConfig{}, errors.New("notify mode ses requires `ses-sender`")
		}
	default:
		return NotifyConfig{}, fmt.Errorf("invalid notify mode: %s", result.Mode)
	}
	return result, nil
}

// RateLimitConfig holds delivery rate limit settings.
type RateLimitConfig struct {
	DeliveryPerSecond int    `yaml:"delivery-per-second"`
	RedisEnabled      bool   `yaml:"redis-enabled"`
	RedisAddr         string `yaml:"redis-addr"`
	RedisPassword     string `yaml:"redis-password"`
	RedisDB           int    `yaml:"redis-db"`
	RedisPrefix       string `yaml:"redis-prefix"`
}

// LoadRateLimitConfig loads rate limit settings from the YAML config file.
func LoadRateLimitConfig(configPath string) RateLimitConfig {
	// fileConfig maps the YAML fields needed for rate limit settings.
	type fileConfig struct {
		RateLimit RateLimitConfig `yaml:"rate-limit"`
	}

	var result RateLimitConfig

	data, errRead := os.ReadFile(configPath)
	if errRead == nil {
		var cfg fileConfig
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal == nil {
			result = cfg.RateLimit
		}
	}

	if result.DeliveryPerSecond < 0 {
		result.DeliveryPerSecond = 0
	}
	if result.RedisDB < 0 {
		result.RedisDB = 0
	}
	result.RedisAddr = strings.TrimSpace(result.RedisAddr)
	result.RedisPassword = strings.TrimSpace(result.RedisPassword)
	result.RedisPrefix = strings.TrimSpace(result.RedisPrefix)
	return result
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoadServerConfig loads HTTP server settings from the YAML config file.
func LoadServerConfig(configPath string, defaultPort int) ServerConfig {
	// fileConfig maps the YAML fields needed for server settings.
	type fileConfig struct {
		Server ServerConfig `yaml:"server"`
	}

	result := ServerConfig{Port: defaultPort}

	data, errRead := os.ReadFile(configPath)
	if errRead == nil {
		var cfg fileConfig
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal == nil && cfg.Server.Port > 0 {
			result.Port = cfg.Server.Port
		}
	}
	return result
}
