package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
)

const (
	StoreCRDB   = "crdb"
	StoreMemory = "memory"
)

type Config struct {
	HTTPAddr     string
	StoreDriver  string
	CRDBDSN      string
	MongoURI     string
	MongoDB      string
	RedisAddr    string
	RabbitURL    string
	JWTPublicKey string
	OTLPEndpoint string
	LogLevel     string

	PaymentWindow  time.Duration
	SweepInterval  time.Duration
	SweepBatch     int
	VenueTimezone  *time.Location
	Currency       string
	IdempotencyTTL time.Duration
	CatalogTTL     time.Duration

	RateLimitPerUser int
	RateLimitPerIP   int
	RateLimitPeriod  time.Duration

	GatewaySecret        string
	GatewayTimeout       time.Duration
	StripeSecretKey      string
	StripePublishableKey string
	StripeWebhookSecret  string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	MailFrom     string
	SNSEnabled   bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		StoreDriver:  strings.ToLower(getenv("STORE_DRIVER", StoreCRDB)),
		CRDBDSN:      os.Getenv("CRDB_DSN"),
		MongoURI:     os.Getenv("MONGO_URI"),
		MongoDB:      getenv("MONGO_DB", "venues"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		RabbitURL:    os.Getenv("RABBIT_URL"),
		JWTPublicKey: os.Getenv("JWT_PUBLIC_KEY"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		LogLevel:     getenv("LOG_LEVEL", "info"),
		Currency:     getenv("CURRENCY", "INR"),

		GatewaySecret:        os.Getenv("GATEWAY_SECRET"),
		StripeSecretKey:      os.Getenv("STRIPE_SECRET_KEY"),
		StripePublishableKey: os.Getenv("STRIPE_PUBLISHABLE_KEY"),
		StripeWebhookSecret:  os.Getenv("STRIPE_WEBHOOK_SECRET"),

		SMTPHost:     os.Getenv("SMTP_HOST"),
		SMTPUsername: os.Getenv("SMTP_USERNAME"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),
		MailFrom:     os.Getenv("MAIL_FROM"),
	}

	var err error
	durations := []struct {
		key  string
		def  time.Duration
		dest *time.Duration
	}{
		{"PAYMENT_WINDOW", 24 * time.Hour, &cfg.PaymentWindow},
		{"SWEEP_INTERVAL", time.Minute, &cfg.SweepInterval},
		{"IDEMPOTENCY_TTL", time.Hour, &cfg.IdempotencyTTL},
		{"CATALOG_CACHE_TTL", 5 * time.Minute, &cfg.CatalogTTL},
		{"GATEWAY_TIMEOUT", 10 * time.Second, &cfg.GatewayTimeout},
		{"RATE_LIMIT_PERIOD", time.Minute, &cfg.RateLimitPeriod},
	}
	for _, d := range durations {
		if *d.dest, err = durationEnv(d.key, d.def); err != nil {
			return nil, err
		}
	}

	if cfg.SweepBatch, err = intEnv("SWEEP_BATCH", 100); err != nil {
		return nil, err
	}
	if cfg.RateLimitPerUser, err = intEnv("RATE_LIMIT_PER_USER", 60); err != nil {
		return nil, err
	}
	if cfg.RateLimitPerIP, err = intEnv("RATE_LIMIT_PER_IP", 300); err != nil {
		return nil, err
	}
	if cfg.SMTPPort, err = intEnv("SMTP_PORT", 587); err != nil {
		return nil, err
	}
	if cfg.SNSEnabled, err = boolEnv("SNS_ENABLED", false); err != nil {
		return nil, err
	}

	tz := getenv("VENUE_TIMEZONE", "Asia/Kolkata")
	if cfg.VenueTimezone, err = time.LoadLocation(tz); err != nil {
		return nil, errors.Wrapf(err, "VENUE_TIMEZONE %q", tz)
	}

	if cfg.StoreDriver != StoreCRDB && cfg.StoreDriver != StoreMemory {
		return nil, errors.Newf("STORE_DRIVER must be %q or %q, got %q", StoreCRDB, StoreMemory, cfg.StoreDriver)
	}

	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, errors.Wrapf(err, "%s", key)
	}
	if d <= 0 {
		return 0, errors.Newf("%s must be positive, got %s", key, v)
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.Wrapf(err, "%s", key)
	}
	return n, nil
}

func boolEnv(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errors.Wrapf(err, "%s", key)
	}
	return b, nil
}
