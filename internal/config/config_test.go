package config

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.HTTP.Port != "8081" {
		t.Errorf("Expected default port 8081, got %s", cfg.HTTP.Port)
	}
	if cfg.Risk.CancellationThreshold != 3 {
		t.Errorf("Expected cancellation threshold 3, got %d", cfg.Risk.CancellationThreshold)
	}
	if cfg.Kafka.NotificationTopic != "notification.requested" {
		t.Errorf("Unexpected notification topic %q", cfg.Kafka.NotificationTopic)
	}
	if cfg.Redis.IdempotencyTTL != 24*time.Hour {
		t.Errorf("Expected 24h idempotency TTL, got %s", cfg.Redis.IdempotencyTTL)
	}
	if !cfg.Payment.MockMode {
		t.Error("Expected payment mock mode by default")
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("ORDER_SERVICE_PORT", "9000")
	t.Setenv("DB_DRIVER", "memory")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("RISK_CANCELLATION_THRESHOLD", "5")
	t.Setenv("NOTIFY_TITLE_PREFIX", "[FoodNow] ")
	t.Setenv("NOTIFY_RETRY_INITIAL_DELAY", "250ms")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.HTTP.Port != "9000" {
		t.Errorf("Expected port 9000, got %s", cfg.HTTP.Port)
	}
	if cfg.Database.Driver != "memory" {
		t.Errorf("Expected memory driver, got %s", cfg.Database.Driver)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "kafka-2:9092" {
		t.Errorf("Unexpected brokers %v", cfg.Kafka.Brokers)
	}
	if cfg.Risk.CancellationThreshold != 5 {
		t.Errorf("Expected threshold 5, got %d", cfg.Risk.CancellationThreshold)
	}
	if cfg.Notification.TitlePrefix != "[FoodNow] " {
		t.Errorf("Unexpected title prefix %q", cfg.Notification.TitlePrefix)
	}
	if cfg.Notification.RetryInitialDelay != 250*time.Millisecond {
		t.Errorf("Expected 250ms retry delay, got %s", cfg.Notification.RetryInitialDelay)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		problem string
	}{
		{
			name:    "unknown_driver",
			mutate:  func(c *Config) { c.Database.Driver = "sqlite" },
			problem: "unknown DB_DRIVER",
		},
		{
			name:    "threshold_below_one",
			mutate:  func(c *Config) { c.Risk.CancellationThreshold = 0 },
			problem: "RISK_CANCELLATION_THRESHOLD",
		},
		{
			name:    "blank_reason",
			mutate:  func(c *Config) { c.Risk.SuspensionReason = "  " },
			problem: "RISK_SUSPENSION_REASON",
		},
		{
			name:    "kafka_without_brokers",
			mutate:  func(c *Config) { c.Kafka.Brokers = nil },
			problem: "KAFKA_BROKERS",
		},
		{
			name:    "real_gateway_without_url",
			mutate:  func(c *Config) { c.Payment.MockMode = false; c.Payment.GatewayURL = "" },
			problem: "PAYMENT_GATEWAY_URL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load() returned error: %v", err)
			}
			tt.mutate(cfg)

			err = cfg.Validate()
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.problem) {
				t.Errorf("Expected error mentioning %q, got %v", tt.problem, err)
			}
		})
	}
}

func TestMinorUnits(t *testing.T) {
	p := PaymentConfig{Currency: "usd"}

	if got := p.MinorUnits(decimal.RequireFromString("45.00")); got != 4500 {
		t.Errorf("Expected 4500, got %d", got)
	}
	if got := p.MinorUnits(decimal.RequireFromString("12.345")); got != 1235 {
		t.Errorf("Expected 1235, got %d", got)
	}
}
