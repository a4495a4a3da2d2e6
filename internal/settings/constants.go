package settings

// Engine constants and defaults.
const (
	// OverageBlockSize is the number of units credited per auto-purchase.
	OverageBlockSize = 100
	// OverageMarkup is the multiplier applied to the base per-unit price.
	OverageMarkup = 1.10
	// UsageAlertThreshold is the plan-quota fraction that triggers the usage alert.
	UsageAlertThreshold = 0.8
	// SuspensionAttemptThreshold is the failed invoice attempt that suspends an account.
	SuspensionAttemptThreshold = 3
	// DefaultDeliveryRateLimit is the fallback per-account delivery limit (0 means unlimited).
	DefaultDeliveryRateLimit = 0
	// DefaultRateLimitRedisPrefix is the fallback Redis key prefix.
	DefaultRateLimitRedisPrefix = "rtb:rl"
	// DefaultServerPort is the fallback HTTP listener port.
	DefaultServerPort = 8318
)
