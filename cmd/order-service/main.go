package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jogardn/food-delivery/internal/auth"
	"github.com/jogardn/food-delivery/internal/circuitbreaker"
	"github.com/jogardn/food-delivery/internal/config"
	"github.com/jogardn/food-delivery/internal/events"
	"github.com/jogardn/food-delivery/internal/idempotency"
	"github.com/jogardn/food-delivery/internal/notify"
	"github.com/jogardn/food-delivery/internal/orders"
	"github.com/jogardn/food-delivery/internal/payment"
	"github.com/jogardn/food-delivery/internal/store"
	"github.com/jogardn/food-delivery/internal/store/memory"
	"github.com/jogardn/food-delivery/internal/store/postgres"
	"github.com/jogardn/food-delivery/internal/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.WithError(err).Warn("Unknown log level, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := openStore(ctx, cfg.Database, logger)
	defer st.Close()

	breakers := circuitbreaker.NewManager(logger)

	var gateway payment.Gateway
	if cfg.Payment.MockMode {
		logger.Warn("Payment gateway running in mock mode")
		gateway = payment.NewMockGateway(true, logger)
	} else {
		gateway = payment.NewHTTPGateway(cfg.Payment, breakers, logger)
	}

	hub := websocket.NewHub(cfg.HTTP.AllowedOrigins, logger)
	go hub.Run(ctx)

	metrics := notify.NewMetrics()
	var producer *events.KafkaProducer
	var sender notify.Sender
	if cfg.Kafka.Enabled {
		producer, err = events.NewKafkaProducer(cfg.Kafka, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create Kafka producer")
		}
		defer producer.Close()

		// Provider delivery happens in the notification worker.
		sender = notify.Fanout{notify.NewKafkaSender(producer), notify.NewHubSender(hub)}
	} else {
		sender = notify.NewDirectSender(cfg.Notification, breakers, hub, logger)
	}
	sender = notify.Chain(sender,
		notify.WithValidation(),
		notify.WithTitlePrefix(cfg.Notification.TitlePrefix),
		notify.WithLogging(logger),
		notify.WithMetrics(metrics),
	)

	manager := orders.NewManager(st, gateway, notify.NewGateway(sender, logger), cfg.Risk, logger)
	if producer != nil {
		manager.SetEventPublisher(producer)
	}

	guard := newGuard(ctx, cfg.Redis, logger)

	handler := orders.NewHandler(manager, guard, logger)
	handler.SetMetricsSources(breakers, metrics)

	verifier := auth.NewVerifier(cfg.Auth, logger)
	limiter := orders.NewRateLimiter(cfg.RateLimit)
	router := orders.NewRouter(handler, verifier, limiter, hub.HandleWebSocket, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"port":   cfg.HTTP.Port,
			"store":  cfg.Database.Driver,
			"kafka":  cfg.Kafka.Enabled,
			"redis":  cfg.Redis.Enabled,
			"mocked": cfg.Payment.MockMode,
		}).Info("Starting order service")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	cancel()

	logger.Info("Server gracefully stopped")
}

func openStore(ctx context.Context, cfg config.DatabaseConfig, logger *logrus.Logger) store.Store {
	if cfg.Driver == "memory" {
		logger.Warn("Using in-memory store; data is lost on restart")
		return memory.New()
	}
	st, err := postgres.Open(ctx, cfg.DSN(), logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	return st
}

func newGuard(ctx context.Context, cfg config.RedisConfig, logger *logrus.Logger) idempotency.Guard {
	if !cfg.Enabled {
		return idempotency.NewMemoryGuard(cfg.IdempotencyTTL)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	return idempotency.NewRedisGuard(client, cfg.IdempotencyTTL, logger)
}
