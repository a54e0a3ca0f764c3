package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultHTTPAddr          = ":8080"
	defaultDatabaseURL       = "file:coworkspace.db?cache=shared"
	defaultJWTSecret         = "change-me-jwt-secret"
	defaultJWTTTL            = "24h"
	defaultBookingCacheTTL   = "5m"
	defaultApprovalTimeout   = "24h"
	defaultPaymentTimeout    = "15m"
	defaultSlotHoldTTL       = "15m"
	defaultSettlementGrace   = "5m"
	defaultReminderWindow    = "2h"
	defaultPayoutDelay       = "0s"
	defaultOrphanSessionAge  = "30m"
	defaultBuyerFeePercent   = "5"
	defaultHostFeePercent    = "5"
	defaultVerifyMaxAttempts = "5"
	defaultVerifyBaseDelay   = "1s"
	defaultRefundRetryAge    = "1h"
	defaultSchedulerEnabled  = "false"
	defaultSweepInterval     = "5m"
	defaultPaymentAPIURL     = "https://api.stripe.com"
	defaultWebhookSecret     = "change-me-webhook-secret"
	defaultAppBaseURL        = "http://localhost:5173"
	defaultRateLimit         = "60"
	defaultEnableTracing     = "false"
	defaultCurrency          = "EUR"
)

type Config struct {
	AppEnv      string
	HTTPAddr    string
	DatabaseURL string

	JWTSecret     string
	JWTTTL        time.Duration
	InternalToken string

	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	BookingCacheTTL time.Duration

	Booking   BookingConfig
	Scheduler SchedulerConfig
	Payment   PaymentConfig

	AppBaseURL         string
	CORSOrigins        []string
	RateLimitPerMinute int
	EnableTracing      bool
}

// BookingConfig holds the state machine timing and commission inputs.
type BookingConfig struct {
	ApprovalTimeout  time.Duration
	PaymentTimeout   time.Duration
	SlotHoldTTL      time.Duration
	SettlementGrace  time.Duration
	ReminderWindow   time.Duration
	PayoutDelay      time.Duration
	OrphanSessionAge time.Duration
	BuyerFeePercent  int
	HostFeePercent   int
	DefaultCurrency  string
}

type SchedulerConfig struct {
	Enabled  bool
	Interval time.Duration
}

type PaymentConfig struct {
	APIURL            string
	APIKey            string
	WebhookSecret     string
	VerifyMaxAttempts int
	VerifyBaseDelay   time.Duration
	RefundRetryAge    time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{}
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = strings.TrimSpace(os.Getenv("ENV"))
	}
	if appEnv == "" {
		appEnv = "dev"
	}
	cfg.AppEnv = strings.ToLower(appEnv)

	cfg.HTTPAddr = strings.TrimSpace(getEnv("HTTP_ADDR", defaultHTTPAddr))
	cfg.DatabaseURL = strings.TrimSpace(getEnv("DATABASE_URL", defaultDatabaseURL))
	cfg.JWTSecret = strings.TrimSpace(getEnv("JWT_SECRET", defaultJWTSecret))
	cfg.InternalToken = strings.TrimSpace(os.Getenv("INTERNAL_TOKEN"))
	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.AppBaseURL = strings.TrimRight(strings.TrimSpace(getEnv("APP_BASE_URL", defaultAppBaseURL)), "/")
	cfg.EnableTracing = parseBoolEnv("ENABLE_TRACING", defaultEnableTracing)
	for _, o := range strings.Split(os.Getenv("CORS_ALLOWED_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, o)
		}
	}

	cfg.Payment.APIURL = strings.TrimRight(strings.TrimSpace(getEnv("PAYMENT_API_URL", defaultPaymentAPIURL)), "/")
	cfg.Payment.APIKey = strings.TrimSpace(os.Getenv("PAYMENT_API_KEY"))
	cfg.Payment.WebhookSecret = strings.TrimSpace(getEnv("PAYMENT_WEBHOOK_SECRET", defaultWebhookSecret))
	cfg.Booking.DefaultCurrency = strings.ToUpper(strings.TrimSpace(getEnv("DEFAULT_CURRENCY", defaultCurrency)))
	cfg.Scheduler.Enabled = parseBoolEnv("SCHEDULER_ENABLED", defaultSchedulerEnabled)

	durations := []struct {
		name     string
		fallback string
		dst      *time.Duration
	}{
		{"JWT_TTL", defaultJWTTTL, &cfg.JWTTTL},
		{"BOOKING_LIST_CACHE_TTL", defaultBookingCacheTTL, &cfg.BookingCacheTTL},
		{"APPROVAL_TIMEOUT", defaultApprovalTimeout, &cfg.Booking.ApprovalTimeout},
		{"PAYMENT_TIMEOUT", defaultPaymentTimeout, &cfg.Booking.PaymentTimeout},
		{"SLOT_HOLD_TTL", defaultSlotHoldTTL, &cfg.Booking.SlotHoldTTL},
		{"SETTLEMENT_GRACE", defaultSettlementGrace, &cfg.Booking.SettlementGrace},
		{"REMINDER_WINDOW", defaultReminderWindow, &cfg.Booking.ReminderWindow},
		{"PAYOUT_DELAY", defaultPayoutDelay, &cfg.Booking.PayoutDelay},
		{"ORPHAN_SESSION_AGE", defaultOrphanSessionAge, &cfg.Booking.OrphanSessionAge},
		{"SWEEP_INTERVAL", defaultSweepInterval, &cfg.Scheduler.Interval},
		{"VERIFY_BASE_DELAY", defaultVerifyBaseDelay, &cfg.Payment.VerifyBaseDelay},
		{"REFUND_RETRY_AGE", defaultRefundRetryAge, &cfg.Payment.RefundRetryAge},
	}
	for _, d := range durations {
		v, err := parseDurationEnv(d.name, d.fallback)
		if err != nil {
			return nil, err
		}
		*d.dst = v
	}

	ints := []struct {
		name     string
		fallback string
		dst      *int
	}{
		{"REDIS_DB", "0", &cfg.RedisDB},
		{"BUYER_FEE_PERCENT", defaultBuyerFeePercent, &cfg.Booking.BuyerFeePercent},
		{"HOST_FEE_PERCENT", defaultHostFeePercent, &cfg.Booking.HostFeePercent},
		{"VERIFY_MAX_ATTEMPTS", defaultVerifyMaxAttempts, &cfg.Payment.VerifyMaxAttempts},
		{"RATE_LIMIT_PER_MINUTE", defaultRateLimit, &cfg.RateLimitPerMinute},
	}
	for _, i := range ints {
		v, err := parseIntEnv(i.name, i.fallback)
		if err != nil {
			return nil, err
		}
		*i.dst = v
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	log.Printf("config loaded: env=%s addr=%s approval_timeout=%s payment_timeout=%s grace=%s fees=%d/%d scheduler=%t redis=%t",
		cfg.AppEnv, cfg.HTTPAddr, cfg.Booking.ApprovalTimeout, cfg.Booking.PaymentTimeout,
		cfg.Booking.SettlementGrace, cfg.Booking.BuyerFeePercent, cfg.Booking.HostFeePercent,
		cfg.Scheduler.Enabled, cfg.RedisAddr != "")

	return cfg, nil
}

func validateConfig(cfg *Config) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must not be empty")
	}
	if cfg.JWTTTL <= 0 {
		return fmt.Errorf("JWT_TTL must be > 0")
	}
	if cfg.Booking.ApprovalTimeout <= 0 {
		return fmt.Errorf("APPROVAL_TIMEOUT must be > 0")
	}
	if cfg.Booking.PaymentTimeout <= 0 {
		return fmt.Errorf("PAYMENT_TIMEOUT must be > 0")
	}
	if cfg.Booking.SlotHoldTTL <= 0 {
		return fmt.Errorf("SLOT_HOLD_TTL must be > 0")
	}
	if cfg.Booking.SettlementGrace < 0 {
		return fmt.Errorf("SETTLEMENT_GRACE must be >= 0")
	}
	if cfg.Booking.PayoutDelay < 0 {
		return fmt.Errorf("PAYOUT_DELAY must be >= 0")
	}
	if cfg.Booking.BuyerFeePercent < 0 || cfg.Booking.BuyerFeePercent > 100 {
		return fmt.Errorf("BUYER_FEE_PERCENT must be within 0..100")
	}
	if cfg.Booking.HostFeePercent < 0 || cfg.Booking.HostFeePercent > 100 {
		return fmt.Errorf("HOST_FEE_PERCENT must be within 0..100")
	}
	if len(cfg.Booking.DefaultCurrency) != 3 {
		return fmt.Errorf("DEFAULT_CURRENCY must be a 3-letter code")
	}
	if cfg.Payment.VerifyMaxAttempts < 1 {
		return fmt.Errorf("VERIFY_MAX_ATTEMPTS must be >= 1")
	}
	if cfg.Payment.VerifyBaseDelay <= 0 {
		return fmt.Errorf("VERIFY_BASE_DELAY must be > 0")
	}
	if cfg.Scheduler.Enabled && cfg.Scheduler.Interval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be > 0 when SCHEDULER_ENABLED=true")
	}
	if cfg.RateLimitPerMinute < 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be >= 0")
	}

	if isProdLike(cfg.AppEnv) {
		if isEmptyOrDefault(cfg.JWTSecret, defaultJWTSecret) {
			return fmt.Errorf("in prod/release JWT_SECRET must be set and not default")
		}
		if isEmptyOrDefault(cfg.Payment.WebhookSecret, defaultWebhookSecret) {
			return fmt.Errorf("in prod/release PAYMENT_WEBHOOK_SECRET must be set and not default")
		}
		if cfg.Payment.APIKey == "" {
			return fmt.Errorf("in prod/release PAYMENT_API_KEY must be set")
		}
	}

	return nil
}

func isProdLike(env string) bool {
	env = strings.ToLower(strings.TrimSpace(env))
	return env == "prod" || env == "production" || env == "release"
}

func isEmptyOrDefault(v, def string) bool {
	trimmed := strings.TrimSpace(v)
	return trimmed == "" || trimmed == def
}

func parseDurationEnv(name, fallback string) (time.Duration, error) {
	value := strings.TrimSpace(getEnv(name, fallback))
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", name, value, err)
	}
	return d, nil
}

func parseIntEnv(name, fallback string) (int, error) {
	value := strings.TrimSpace(getEnv(name, fallback))
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", name, value, err)
	}
	return n, nil
}

func parseBoolEnv(name, fallback string) bool {
	value := strings.ToLower(strings.TrimSpace(getEnv(name, fallback)))
	return value == "1" || value == "true" || value == "yes" || value == "on"
}

func getEnv(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
