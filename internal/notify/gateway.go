package notify

import (
	"context"

	"github.com/jogardn/food-delivery/internal/circuitbreaker"
	"github.com/jogardn/food-delivery/internal/config"
	"github.com/jogardn/food-delivery/internal/events"
	"github.com/sirupsen/logrus"
)

// Gateway is the notification contract of the order core. Delivery is best
// effort: failures are logged and reported as false, never returned.
type Gateway struct {
	sender Sender
	logger *logrus.Logger
}

func NewGateway(sender Sender, logger *logrus.Logger) *Gateway {
	return &Gateway{sender: sender, logger: logger}
}

func (g *Gateway) SendPush(ctx context.Context, customerIDs []int64, title, body string, data map[string]string) bool {
	return g.send(ctx, Message{
		Channel:     ChannelPush,
		CustomerIDs: customerIDs,
		Title:       title,
		Body:        body,
		Data:        data,
	})
}

func (g *Gateway) SendDirectMessage(ctx context.Context, phone, body string) bool {
	return g.send(ctx, Message{
		Channel: ChannelDirect,
		Phone:   phone,
		Body:    body,
	})
}

func (g *Gateway) send(ctx context.Context, msg Message) bool {
	if err := g.sender.Send(ctx, msg); err != nil {
		g.logger.WithError(err).WithFields(logrus.Fields{
			"channel":    msg.Channel,
			"recipients": len(msg.CustomerIDs),
		}).Warn("Notification not delivered")
		return false
	}
	return true
}

// NewProviderRouter routes push and direct messages to their REST providers,
// each behind its own circuit breaker.
func NewProviderRouter(cfg config.NotificationConfig, breakers *circuitbreaker.Manager, logger *logrus.Logger) ChannelRouter {
	breakerConfig := circuitbreaker.Config{
		MaxFailures: cfg.BreakerFailures,
		Timeout:     cfg.BreakerTimeout,
		MaxRequests: 1,
		IsFailure:   IsRetryable,
	}
	return ChannelRouter{
		ChannelPush: Chain(
			NewPushSender(cfg.PushProviderURL, cfg.PushProviderKey, cfg.ProviderTimeout, logger),
			WithCircuitBreaker(breakers.GetOrCreate("push-provider", breakerConfig)),
		),
		ChannelDirect: Chain(
			NewWhatsAppSender(cfg.WhatsAppURL, cfg.WhatsAppKey, cfg.ProviderTimeout, logger),
			WithCircuitBreaker(breakers.GetOrCreate("whatsapp-provider", breakerConfig)),
		),
	}
}

// NewDirectSender delivers from the request path without the queue: straight
// to the providers, with pushes mirrored to the live feed. Each message costs
// at most one provider call.
func NewDirectSender(cfg config.NotificationConfig, breakers *circuitbreaker.Manager, feed LiveFeed, logger *logrus.Logger) Sender {
	return Fanout{NewProviderRouter(cfg, breakers, logger), NewHubSender(feed)}
}

// Delivery feeds queued requests from the worker's consumer into a sender.
type Delivery struct {
	sender Sender
}

func NewDelivery(sender Sender) *Delivery {
	return &Delivery{sender: sender}
}

func (d *Delivery) HandleNotification(ctx context.Context, req events.NotificationRequest) error {
	return d.sender.Send(ctx, messageFromRequest(req))
}

func (d *Delivery) IsRetryable(err error) bool {
	return IsRetryable(err)
}
