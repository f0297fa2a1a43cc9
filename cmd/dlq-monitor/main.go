package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jogardn/food-delivery/internal/config"
	"github.com/jogardn/food-delivery/internal/events"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	monitor, err := events.NewDLQMonitor(cfg.Kafka, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create DLQ monitor")
	}
	defer monitor.Close()

	monitor.OnDeadLetter(printDeadLetter)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := monitor.Start(ctx); err != nil {
			logger.WithError(err).Error("DLQ monitor stopped")
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	logger.Info("Shutting down DLQ monitor...")
}

func printDeadLetter(dl events.DeadLetter) {
	fmt.Printf("\n=== DLQ Message ===\n")
	fmt.Printf("Time: %s\n", time.Now().Format(time.RFC3339))
	fmt.Printf("Key: %s\n", dl.Key)
	fmt.Printf("Error: %s\n", dl.Metadata.ErrorMessage)
	fmt.Printf("Retry Count: %d\n", dl.Metadata.RetryCount)
	if dl.Request != nil {
		fmt.Printf("Channel: %s\n", dl.Request.Channel)
		fmt.Printf("Request: %s\n", dl.Request.RequestID)
	}
	fmt.Printf("Replayed: %t\n", dl.Replayed)
	fmt.Printf("==================\n\n")
}
