package notify

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jogardn/food-delivery/internal/circuitbreaker"
	"github.com/sirupsen/logrus"
)

func WithValidation() Middleware {
	return func(next Sender) Sender {
		return SenderFunc(func(ctx context.Context, msg Message) error {
			if err := msg.Validate(); err != nil {
				return err
			}
			return next.Send(ctx, msg)
		})
	}
}

// WithTitlePrefix prepends prefix to push titles that do not carry it yet.
func WithTitlePrefix(prefix string) Middleware {
	return func(next Sender) Sender {
		if prefix == "" {
			return next
		}
		return SenderFunc(func(ctx context.Context, msg Message) error {
			if msg.Channel == ChannelPush && !strings.HasPrefix(msg.Title, prefix) {
				msg.Title = prefix + msg.Title
			}
			return next.Send(ctx, msg)
		})
	}
}

func WithLogging(logger *logrus.Logger) Middleware {
	return func(next Sender) Sender {
		return SenderFunc(func(ctx context.Context, msg Message) error {
			start := time.Now()
			err := next.Send(ctx, msg)

			entry := logger.WithFields(logrus.Fields{
				"channel":    msg.Channel,
				"recipients": len(msg.CustomerIDs),
				"duration":   time.Since(start).String(),
			})
			if err != nil {
				entry.WithError(err).Warn("Notification delivery failed")
				return err
			}
			entry.Debug("Notification delivered")
			return nil
		})
	}
}

func WithMetrics(metrics *Metrics) Middleware {
	return func(next Sender) Sender {
		return SenderFunc(func(ctx context.Context, msg Message) error {
			start := time.Now()
			err := next.Send(ctx, msg)
			metrics.record(msg.Channel, time.Since(start), err)
			return err
		})
	}
}

func WithCircuitBreaker(breaker *circuitbreaker.CircuitBreaker) Middleware {
	return func(next Sender) Sender {
		return SenderFunc(func(ctx context.Context, msg Message) error {
			return breaker.Execute(ctx, func(ctx context.Context) error {
				return next.Send(ctx, msg)
			})
		})
	}
}

// IsRetryable reports whether a delivery error may succeed on a later try.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrInvalidMessage) || errors.Is(err, context.Canceled) {
		return false
	}
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Retryable()
	}
	return true
}
