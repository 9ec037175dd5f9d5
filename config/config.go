package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var ErrIncompleteDatabase = errors.New("database config incomplete")

// Config holds all configuration for the storefront service.
type Config struct {
	Port string
	Env  string

	// UseSecrets defers validation until ApplySecrets has run.
	UseSecrets bool
	SecretName string

	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresHost     string
	PostgresPort     string
	PostgresSSLMode  string
	PostgresTimeZone string
	AutoMigrate      bool

	// StripeWebhookSecret may be empty; the webhook then answers 500.
	StripeWebhookSecret string

	FulfillmentEnabled bool
	PrintfulAPIKey     string
	PrintfulStoreID    string
	PrintfulBaseURL    string

	OrderSNSTopicARN    string
	CloudWatchEnabled   bool
	CloudWatchNamespace string
	CloudWatchLogGroup  string

	// RedisURL enables the distributed job lock.
	RedisURL string

	SMTPHost      string
	SMTPPort      int
	SMTPUser      string
	SMTPPassword  string
	SMTPFrom      string
	StorefrontURL string

	StatusSyncSchedule   string
	EventPurgeSchedule   string
	CartReminderSchedule string
	EventRetention       time.Duration
	CartIdleAfter        time.Duration
	CartRecoveryWindow   time.Duration

	RateLimitPerMinute int
	RateLimitBurst     int
	RequestTimeout     time.Duration
}

// SecretSource reads a JSON object secret. *awspkg.SecretsClient satisfies it.
type SecretSource interface {
	GetSecretMap(ctx context.Context, name string) (map[string]string, error)
}

// LoadConfig reads configuration from the environment, after loading a .env
// file when one is present.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port: getEnv("PORT", "8080"),
		Env:  getEnv("APP_ENV", "development"),

		UseSecrets: getEnvBool("AWS_USE_SECRETS", false),
		SecretName: getEnv("AWS_SECRET_NAME", "storefront/CONFIG"),

		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:       os.Getenv("POSTGRES_DB"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		PostgresTimeZone: getEnv("POSTGRES_TIMEZONE", "UTC"),
		AutoMigrate:      getEnvBool("DB_AUTO_MIGRATE", true),

		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),

		FulfillmentEnabled: getEnvBool("PRINTFUL_AUTO_FULFILL", false),
		PrintfulAPIKey:     os.Getenv("PRINTFUL_API_KEY"),
		PrintfulStoreID:    os.Getenv("PRINTFUL_STORE_ID"),
		PrintfulBaseURL:    os.Getenv("PRINTFUL_BASE_URL"),

		OrderSNSTopicARN:    os.Getenv("ORDER_SNS_TOPIC_ARN"),
		CloudWatchEnabled:   getEnvBool("CLOUDWATCH_ENABLED", false),
		CloudWatchNamespace: getEnv("CLOUDWATCH_NAMESPACE", "Storefront"),
		CloudWatchLogGroup:  getEnv("CLOUDWATCH_LOG_GROUP", "/storefront/services"),

		RedisURL: os.Getenv("REDIS_URL"),

		SMTPHost:      os.Getenv("SMTP_HOST"),
		SMTPPort:      getEnvInt("SMTP_PORT", 587),
		SMTPUser:      os.Getenv("SMTP_USER"),
		SMTPPassword:  os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:      os.Getenv("SMTP_FROM"),
		StorefrontURL: getEnv("STOREFRONT_URL", "http://localhost:3000"),

		StatusSyncSchedule:   getEnv("STATUS_SYNC_SCHEDULE", "@every 15m"),
		EventPurgeSchedule:   getEnv("EVENT_PURGE_SCHEDULE", "@daily"),
		CartReminderSchedule: getEnv("CART_REMINDER_SCHEDULE", "@hourly"),
		EventRetention:       getEnvDuration("EVENT_RETENTION", 30*24*time.Hour),
		CartIdleAfter:        getEnvDuration("CART_IDLE_AFTER", time.Hour),
		CartRecoveryWindow:   getEnvDuration("CART_RECOVERY_WINDOW", 30*24*time.Hour),

		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 600),
		RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 100),
		RequestTimeout:     getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
	}

	if cfg.UseSecrets {
		return cfg, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplySecrets overrides credentials from the named Secrets Manager secret,
// a JSON object keyed by environment variable name. Missing keys keep the
// environment value.
func (c *Config) ApplySecrets(ctx context.Context, src SecretSource, name string) error {
	values, err := src.GetSecretMap(ctx, name)
	if err != nil {
		return fmt.Errorf("load secrets %s: %w", name, err)
	}
	overrides := map[string]*string{
		"POSTGRES_USER":         &c.PostgresUser,
		"POSTGRES_PASSWORD":     &c.PostgresPassword,
		"POSTGRES_DB":           &c.PostgresDB,
		"POSTGRES_HOST":         &c.PostgresHost,
		"POSTGRES_PORT":         &c.PostgresPort,
		"STRIPE_WEBHOOK_SECRET": &c.StripeWebhookSecret,
		"PRINTFUL_API_KEY":      &c.PrintfulAPIKey,
		"SMTP_PASSWORD":         &c.SMTPPassword,
	}
	for key, field := range overrides {
		if v := strings.TrimSpace(values[key]); v != "" {
			*field = v
		}
	}
	return c.Validate()
}

// Validate checks the settings the service cannot start without.
func (c *Config) Validate() error {
	if c.PostgresUser == "" || c.PostgresPassword == "" || c.PostgresDB == "" || c.PostgresHost == "" {
		return ErrIncompleteDatabase
	}
	if c.FulfillmentEnabled && c.PrintfulAPIKey == "" {
		return errors.New("PRINTFUL_AUTO_FULFILL requires PRINTFUL_API_KEY")
	}
	return nil
}

// DSN is the Postgres connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		c.PostgresHost, c.PostgresUser, c.PostgresPassword, c.PostgresDB,
		c.PostgresPort, c.PostgresSSLMode, c.PostgresTimeZone,
	)
}

// SMTPEnabled reports whether cart reminder mail can be sent.
func (c *Config) SMTPEnabled() bool {
	return c.SMTPHost != "" && c.SMTPFrom != ""
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return fallback
}
