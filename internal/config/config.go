package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis RedisConfig

	Payment  PaymentConfig
	Identity IdentityConfig

	// PublicOrigin is the browser-facing origin used for checkout return URLs.
	PublicOrigin   string
	AllowedOrigins []string
	SnowflakeNode  int64
	MigrateOnStart bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

type PaymentConfig struct {
	Provider        string
	Currency        string
	StripeSecretKey string
	WebhookSecrets  []string
	WebhookHeader   string
	CallTimeout     time.Duration
	CallRetries     int
}

type IdentityConfig struct {
	WebhookSecret string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "coursemart"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "coursemart"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "coursemart.db"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 10)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 50)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 300)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 60)),
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       int(getenvInt64("REDIS_DB", 0)),
		},
		Payment: PaymentConfig{
			Provider:        strings.ToLower(getenv("PAYMENT_PROVIDER", "stripe")),
			Currency:        strings.ToLower(getenv("CURRENCY", "usd")),
			StripeSecretKey: strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
			WebhookSecrets:  splitList(getenv("STRIPE_WEBHOOK_SECRETS", getenv("STRIPE_WEBHOOK_SECRET", ""))),
			WebhookHeader:   getenv("PAYMENT_SIGNATURE_HEADER", "Stripe-Signature"),
			CallTimeout:     time.Duration(getenvInt64("PAYMENT_CALL_TIMEOUT_MS", 10_000)) * time.Millisecond,
			CallRetries:     int(getenvInt64("PAYMENT_CALL_RETRIES", 1)),
		},
		Identity: IdentityConfig{
			WebhookSecret: strings.TrimSpace(getenv("IDENTITY_WEBHOOK_SECRET", getenv("CLERK_WEBHOOK_SECRET", ""))),
		},
		PublicOrigin:   strings.TrimRight(getenv("PUBLIC_ORIGIN", "http://localhost:5173"), "/"),
		AllowedOrigins: splitList(getenv("CORS_ALLOWED_ORIGINS", "http://localhost:5173")),
		SnowflakeNode:  getenvInt64("SNOWFLAKE_NODE", 1),
		MigrateOnStart: getenvBool("MIGRATE_ON_START", true),
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
