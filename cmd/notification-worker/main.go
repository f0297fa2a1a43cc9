package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jogardn/food-delivery/internal/circuitbreaker"
	"github.com/jogardn/food-delivery/internal/config"
	"github.com/jogardn/food-delivery/internal/events"
	"github.com/jogardn/food-delivery/internal/notify"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	breakers := circuitbreaker.NewManager(logger)
	metrics := notify.NewMetrics()

	// The consumer owns retries and dead-lettering, so the chain has no
	// retry middleware of its own.
	sender := notify.Chain(
		notify.NewProviderRouter(cfg.Notification, breakers, logger),
		notify.WithValidation(),
		notify.WithTitlePrefix(cfg.Notification.TitlePrefix),
		notify.WithLogging(logger),
		notify.WithMetrics(metrics),
	)

	consumer, err := events.NewNotificationConsumer(cfg.Kafka, events.RetryPolicyFrom(cfg.Notification), notify.NewDelivery(sender), logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create notification consumer")
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := consumer.Start(ctx); err != nil {
			logger.WithError(err).Error("Notification consumer stopped")
			cancel()
		}
	}()
	go reportMetrics(ctx, consumer, breakers, metrics, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	logger.Info("Shutting down notification worker...")
}

func reportMetrics(ctx context.Context, consumer *events.NotificationConsumer, breakers *circuitbreaker.Manager, metrics *notify.Metrics, logger *logrus.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m := consumer.Metrics()
			logger.WithFields(logrus.Fields{
				"processed":     m.Processed,
				"succeeded":     m.Succeeded,
				"failed":        m.Failed,
				"retries":       m.Retries,
				"dead_lettered": m.DeadLettered,
				"channels":      metrics.Snapshot(),
				"breakers":      breakers.AllMetrics(),
			}).Info("Notification worker metrics")
		}
	}
}
