// Package events moves order-domain events and queued notification requests
// over Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/jogardn/food-delivery/internal/config"
	"github.com/jogardn/food-delivery/pkg/models"
	"github.com/sirupsen/logrus"
)

type OrderEventType string

const (
	OrderCreated           OrderEventType = "order.created"
	OrderStatusChanged     OrderEventType = "order.status_changed"
	OrderCancelled         OrderEventType = "order.cancelled"
	PaymentUpdated         OrderEventType = "payment.updated"
	PaymentMethodSuspended OrderEventType = "payment_method.suspended"

	// PaymentAfterCancel marks money captured for an order already cancelled;
	// it needs a manual refund.
	PaymentAfterCancel OrderEventType = "payment.after_cancel"
)

type OrderEvent struct {
	EventID       string               `json:"event_id"`
	Type          OrderEventType       `json:"type"`
	OrderID       int64                `json:"order_id,omitempty"`
	CustomerID    int64                `json:"customer_id"`
	CourierID     *int64               `json:"courier_id,omitempty"`
	State         models.OrderState    `json:"state,omitempty"`
	PreviousState models.OrderState    `json:"previous_state,omitempty"`
	PaymentMethod models.PaymentMethod `json:"payment_method,omitempty"`
	PaymentState  models.PaymentState  `json:"payment_state,omitempty"`
	Total         string               `json:"total,omitempty"`
	EventTime     time.Time            `json:"event_time"`
}

// key keeps every event of one order on one partition.
func (e OrderEvent) key() string {
	if e.OrderID != 0 {
		return "order-" + strconv.FormatInt(e.OrderID, 10)
	}
	return "customer-" + strconv.FormatInt(e.CustomerID, 10)
}

// NotificationRequest is a queued notification for the worker to deliver.
type NotificationRequest struct {
	RequestID   string            `json:"request_id"`
	Channel     string            `json:"channel"`
	CustomerIDs []int64           `json:"customer_ids,omitempty"`
	Phone       string            `json:"phone,omitempty"`
	Title       string            `json:"title,omitempty"`
	Body        string            `json:"body"`
	Data        map[string]string `json:"data,omitempty"`
	RequestedAt time.Time         `json:"requested_at"`
}

type KafkaProducer struct {
	producer          sarama.SyncProducer
	orderTopic        string
	notificationTopic string
	logger            *logrus.Logger
	now               func() time.Time
}

func newProducerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Version = sarama.V2_6_0_0
	return config
}

func NewKafkaProducer(cfg config.KafkaConfig, logger *logrus.Logger) (*KafkaProducer, error) {
	producer, err := sarama.NewSyncProducer(cfg.Brokers, newProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}
	return NewKafkaProducerWithClient(producer, cfg, logger), nil
}

// NewKafkaProducerWithClient wraps an existing sync producer.
func NewKafkaProducerWithClient(producer sarama.SyncProducer, cfg config.KafkaConfig, logger *logrus.Logger) *KafkaProducer {
	return &KafkaProducer{
		producer:          producer,
		orderTopic:        cfg.OrderEventsTopic,
		notificationTopic: cfg.NotificationTopic,
		logger:            logger,
		now:               time.Now,
	}
}

func (p *KafkaProducer) PublishOrderEvent(ctx context.Context, event OrderEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	event.EventTime = p.now().UTC()

	err := p.send(ctx, p.orderTopic, event.key(), event, sarama.RecordHeader{
		Key:   []byte("event_type"),
		Value: []byte(event.Type),
	})
	if err != nil {
		return err
	}

	p.logger.WithFields(logrus.Fields{
		"event_id":    event.EventID,
		"event_type":  event.Type,
		"order_id":    event.OrderID,
		"customer_id": event.CustomerID,
	}).Debug("Order event published")
	return nil
}

func (p *KafkaProducer) PublishNotification(ctx context.Context, req NotificationRequest) error {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = p.now().UTC()
	}

	if err := p.send(ctx, p.notificationTopic, req.RequestID, req); err != nil {
		return err
	}

	p.logger.WithFields(logrus.Fields{
		"request_id": req.RequestID,
		"channel":    req.Channel,
	}).Debug("Notification request queued")
	return nil
}

func (p *KafkaProducer) send(ctx context.Context, topic, key string, payload interface{}, headers ...sarama.RecordHeader) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic:   topic,
		Key:     sarama.StringEncoder(key),
		Value:   sarama.ByteEncoder(data),
		Headers: headers,
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.WithError(err).WithField("topic", topic).Error("Failed to send message to Kafka")
		return fmt.Errorf("failed to send message to %s: %w", topic, err)
	}

	p.logger.WithFields(logrus.Fields{
		"topic":     topic,
		"partition": partition,
		"offset":    offset,
		"key":       key,
	}).Debug("Message published to Kafka")
	return nil
}

func (p *KafkaProducer) Close() error {
	return p.producer.Close()
}
