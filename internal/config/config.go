package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

// Config is built once at process start and handed down by value; nothing in
// the service reads configuration from globals.
type Config struct {
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	HTTP         HTTPConfig         `ignored:"true"`
	Database     DatabaseConfig     `ignored:"true"`
	Kafka        KafkaConfig        `ignored:"true"`
	Redis        RedisConfig        `ignored:"true"`
	Auth         AuthConfig         `ignored:"true"`
	Notification NotificationConfig `ignored:"true"`
	Risk         RiskConfig         `ignored:"true"`
	Payment      PaymentConfig      `ignored:"true"`
	RateLimit    RateLimitConfig    `ignored:"true"`
}

type HTTPConfig struct {
	Port         string        `envconfig:"ORDER_SERVICE_PORT" default:"8081"`
	ReadTimeout  time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"15s"`
	WriteTimeout time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"15s"`
	IdleTimeout  time.Duration `envconfig:"HTTP_IDLE_TIMEOUT" default:"60s"`
	// AllowedOrigins limits websocket upgrades; empty accepts any origin.
	AllowedOrigins []string `envconfig:"WS_ALLOWED_ORIGINS"`
}

type DatabaseConfig struct {
	// Driver is "postgres" or "memory".
	Driver   string `envconfig:"DB_DRIVER" default:"postgres"`
	Host     string `envconfig:"DB_HOST" default:"localhost"`
	Port     string `envconfig:"DB_PORT" default:"5432"`
	User     string `envconfig:"DB_USER" default:"orderservice"`
	Password string `envconfig:"DB_PASSWORD" default:"orderservice"`
	Name     string `envconfig:"DB_NAME" default:"food_orders"`
	SSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type KafkaConfig struct {
	Enabled           bool     `envconfig:"KAFKA_ENABLED" default:"true"`
	Brokers           []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	OrderEventsTopic  string   `envconfig:"KAFKA_ORDER_EVENTS_TOPIC" default:"order.events"`
	NotificationTopic string   `envconfig:"KAFKA_NOTIFICATION_TOPIC" default:"notification.requested"`
	NotificationDLQ   string   `envconfig:"KAFKA_NOTIFICATION_DLQ_TOPIC" default:"notification.requested.dlq"`
	ConsumerGroup     string   `envconfig:"KAFKA_CONSUMER_GROUP" default:"notification-worker"`
	DLQMonitorGroup   string   `envconfig:"KAFKA_DLQ_MONITOR_GROUP" default:"dlq-monitor"`
	// DLQReplay makes the DLQ monitor put failed requests back on the
	// notification topic until they carry DLQMaxReplays failures.
	DLQReplay     bool `envconfig:"KAFKA_DLQ_REPLAY" default:"false"`
	DLQMaxReplays int  `envconfig:"KAFKA_DLQ_MAX_REPLAYS" default:"3"`
}

type RedisConfig struct {
	Enabled        bool          `envconfig:"REDIS_ENABLED" default:"true"`
	Addr           string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password       string        `envconfig:"REDIS_PASSWORD"`
	DB             int           `envconfig:"REDIS_DB" default:"0"`
	IdempotencyTTL time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`
}

type AuthConfig struct {
	JWTSecret string `envconfig:"JWT_SECRET"`
	Issuer    string `envconfig:"JWT_ISSUER"`
}

type NotificationConfig struct {
	TitlePrefix       string        `envconfig:"NOTIFY_TITLE_PREFIX"`
	RetryMax          int           `envconfig:"NOTIFY_RETRY_MAX" default:"3"`
	RetryInitialDelay time.Duration `envconfig:"NOTIFY_RETRY_INITIAL_DELAY" default:"1s"`
	RetryMaxDelay     time.Duration `envconfig:"NOTIFY_RETRY_MAX_DELAY" default:"30s"`
	BreakerFailures   int           `envconfig:"NOTIFY_BREAKER_FAILURES" default:"5"`
	BreakerTimeout    time.Duration `envconfig:"NOTIFY_BREAKER_TIMEOUT" default:"30s"`
	PushProviderURL   string        `envconfig:"PUSH_PROVIDER_URL" default:"http://localhost:8090"`
	PushProviderKey   string        `envconfig:"PUSH_PROVIDER_KEY"`
	WhatsAppURL       string        `envconfig:"WHATSAPP_PROVIDER_URL" default:"http://localhost:8091"`
	WhatsAppKey       string        `envconfig:"WHATSAPP_PROVIDER_KEY"`
	ProviderTimeout   time.Duration `envconfig:"NOTIFY_PROVIDER_TIMEOUT" default:"3s"`
}

type RiskConfig struct {
	CancellationThreshold int    `envconfig:"RISK_CANCELLATION_THRESHOLD" default:"3"`
	SuspensionReason      string `envconfig:"RISK_SUSPENSION_REASON" default:"Automatically suspended after repeated order cancellations"`
}

type PaymentConfig struct {
	MockMode       bool          `envconfig:"PAYMENT_MOCK_MODE" default:"true"`
	GatewayURL     string        `envconfig:"PAYMENT_GATEWAY_URL" default:"http://localhost:8092"`
	APIKey         string        `envconfig:"PAYMENT_GATEWAY_API_KEY"`
	Currency       string        `envconfig:"PAYMENT_CURRENCY" default:"usd"`
	Timeout        time.Duration `envconfig:"PAYMENT_GATEWAY_TIMEOUT" default:"10s"`
	BreakerTimeout time.Duration `envconfig:"PAYMENT_BREAKER_TIMEOUT" default:"30s"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64       `envconfig:"RATE_LIMIT_RPS" default:"10"`
	Burst             int           `envconfig:"RATE_LIMIT_BURST" default:"20"`
	IdleExpiry        time.Duration `envconfig:"RATE_LIMIT_IDLE_EXPIRY" default:"3m"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	var cfg Config
	// Sections are processed one by one so their keys stay unprefixed.
	sections := []interface{}{
		&cfg, &cfg.HTTP, &cfg.Database, &cfg.Kafka, &cfg.Redis, &cfg.Auth,
		&cfg.Notification, &cfg.Risk, &cfg.Payment, &cfg.RateLimit,
	}
	for _, section := range sections {
		if err := envconfig.Process("", section); err != nil {
			return nil, fmt.Errorf("failed to process environment: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var problems []string

	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		problems = append(problems, fmt.Sprintf("unknown DB_DRIVER %q", c.Database.Driver))
	}
	if c.Risk.CancellationThreshold < 1 {
		problems = append(problems, "RISK_CANCELLATION_THRESHOLD must be at least 1")
	}
	if strings.TrimSpace(c.Risk.SuspensionReason) == "" {
		problems = append(problems, "RISK_SUSPENSION_REASON must not be blank")
	}
	if c.Notification.RetryMax < 0 {
		problems = append(problems, "NOTIFY_RETRY_MAX must not be negative")
	}
	if c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst < 1 {
		problems = append(problems, "rate limit must allow at least one request")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		problems = append(problems, "KAFKA_BROKERS is required when Kafka is enabled")
	}
	if !c.Payment.MockMode && c.Payment.GatewayURL == "" {
		problems = append(problems, "PAYMENT_GATEWAY_URL is required outside mock mode")
	}

	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}

// MinorUnits converts an amount to the gateway's integer minor currency unit.
func (p PaymentConfig) MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
