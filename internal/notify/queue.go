package notify

import (
	"context"

	"github.com/jogardn/food-delivery/internal/events"
)

type Publisher interface {
	PublishNotification(ctx context.Context, req events.NotificationRequest) error
}

// KafkaSender queues messages for the notification worker.
type KafkaSender struct {
	publisher Publisher
}

func NewKafkaSender(publisher Publisher) *KafkaSender {
	return &KafkaSender{publisher: publisher}
}

func (s *KafkaSender) Send(ctx context.Context, msg Message) error {
	return s.publisher.PublishNotification(ctx, msg.request())
}

// LiveFeed pushes a payload to the connected sessions of users.
type LiveFeed interface {
	SendTo(userIDs []int64, messageType string, data interface{}) int
}

type liveNotification struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// HubSender mirrors push messages onto the live websocket feed. Recipients
// that are not connected are skipped; direct messages are ignored.
type HubSender struct {
	feed LiveFeed
}

func NewHubSender(feed LiveFeed) *HubSender {
	return &HubSender{feed: feed}
}

func (s *HubSender) Send(_ context.Context, msg Message) error {
	if msg.Channel != ChannelPush {
		return nil
	}
	s.feed.SendTo(msg.CustomerIDs, "notification", liveNotification{
		Title: msg.Title,
		Body:  msg.Body,
		Data:  msg.Data,
	})
	return nil
}
