package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/jogardn/food-delivery/internal/config"
	"github.com/sirupsen/logrus"
)

type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

func RetryPolicyFrom(cfg config.NotificationConfig) RetryPolicy {
	return RetryPolicy{
		MaxRetries:   cfg.RetryMax,
		InitialDelay: cfg.RetryInitialDelay,
		MaxDelay:     cfg.RetryMaxDelay,
	}
}

// Delay is the wait before retry number attempt (1-based), doubling each
// time up to MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	delay := p.InitialDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

type NotificationHandler interface {
	HandleNotification(ctx context.Context, req NotificationRequest) error
	IsRetryable(err error) bool
}

type ConsumerMetrics struct {
	Processed    int64 `json:"processed"`
	Succeeded    int64 `json:"succeeded"`
	Failed       int64 `json:"failed"`
	Retries      int64 `json:"retries"`
	DeadLettered int64 `json:"dead_lettered"`
}

// MessageMetadata travels with a dead-lettered message.
type MessageMetadata struct {
	RetryCount    int       `json:"retry_count"`
	FirstFailure  time.Time `json:"first_failure"`
	LastFailure   time.Time `json:"last_failure"`
	OriginalTopic string    `json:"original_topic"`
	ErrorMessage  string    `json:"error_message"`
}

// NotificationConsumer delivers queued notification requests, retrying with
// backoff and parking what still fails on the dead letter topic.
type NotificationConsumer struct {
	group     sarama.ConsumerGroup
	producer  sarama.SyncProducer
	processor *notificationProcessor
	topic     string
	logger    *logrus.Logger
}

func NewNotificationConsumer(cfg config.KafkaConfig, policy RetryPolicy, handler NotificationHandler, logger *logrus.Logger) (*NotificationConsumer, error) {
	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.ConsumerGroup, newConsumerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	producer, err := sarama.NewSyncProducer(cfg.Brokers, newProducerConfig())
	if err != nil {
		group.Close()
		return nil, fmt.Errorf("failed to create producer for DLQ: %w", err)
	}

	return &NotificationConsumer{
		group:     group,
		producer:  producer,
		processor: newNotificationProcessor(handler, producer, cfg.NotificationDLQ, policy, logger),
		topic:     cfg.NotificationTopic,
		logger:    logger,
	}, nil
}

func (c *NotificationConsumer) Start(ctx context.Context) error {
	c.logger.WithField("topic", c.topic).Info("Notification consumer started")
	return consumeGroup(ctx, c.group, []string{c.topic}, c.processor, c.logger)
}

func (c *NotificationConsumer) Metrics() ConsumerMetrics {
	return c.processor.snapshot()
}

func (c *NotificationConsumer) Close() error {
	if err := c.producer.Close(); err != nil {
		c.logger.WithError(err).Error("Failed to close producer")
	}
	return c.group.Close()
}

type notificationProcessor struct {
	handler  NotificationHandler
	dlq      sarama.SyncProducer
	dlqTopic string
	policy   RetryPolicy
	logger   *logrus.Logger
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time

	processed    int64
	succeeded    int64
	failed       int64
	retries      int64
	deadLettered int64
}

func newNotificationProcessor(handler NotificationHandler, dlq sarama.SyncProducer, dlqTopic string, policy RetryPolicy, logger *logrus.Logger) *notificationProcessor {
	return &notificationProcessor{
		handler:  handler,
		dlq:      dlq,
		dlqTopic: dlqTopic,
		policy:   policy,
		logger:   logger,
		sleep:    sleepContext,
		now:      time.Now,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *notificationProcessor) Setup(sarama.ConsumerGroupSession) error {
	p.logger.Info("Kafka consumer group session setup")
	return nil
}

func (p *notificationProcessor) Cleanup(sarama.ConsumerGroupSession) error {
	p.logger.Info("Kafka consumer group session cleanup")
	return nil
}

func (p *notificationProcessor) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			if err := p.process(session.Context(), message); err != nil {
				// Leave the offset uncommitted; the message is redelivered
				// after the next rebalance.
				return err
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// process handles one message. It returns an error only when the message
// could neither be delivered nor parked on the dead letter topic.
func (p *notificationProcessor) process(ctx context.Context, message *sarama.ConsumerMessage) error {
	atomic.AddInt64(&p.processed, 1)

	err := p.handleWithRetry(ctx, message)
	if err == nil {
		atomic.AddInt64(&p.succeeded, 1)
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	atomic.AddInt64(&p.failed, 1)
	p.logger.WithError(err).WithField("key", string(message.Key)).Error("Failed to process message after retries")

	if dlqErr := p.sendToDLQ(message, err); dlqErr != nil {
		p.logger.WithError(dlqErr).Error("Failed to send message to DLQ")
		return dlqErr
	}
	atomic.AddInt64(&p.deadLettered, 1)
	return nil
}

func (p *notificationProcessor) handleWithRetry(ctx context.Context, message *sarama.ConsumerMessage) error {
	var req NotificationRequest
	if err := json.Unmarshal(message.Value, &req); err != nil {
		return fmt.Errorf("failed to unmarshal notification request: %w", err)
	}

	entry := p.logger.WithFields(logrus.Fields{
		"request_id": req.RequestID,
		"channel":    req.Channel,
		"partition":  message.Partition,
		"offset":     message.Offset,
	})

	var err error
	for attempt := 0; attempt <= p.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := p.policy.Delay(attempt)
			entry.WithFields(logrus.Fields{"attempt": attempt, "delay": delay}).Info("Retrying notification delivery")
			if sleepErr := p.sleep(ctx, delay); sleepErr != nil {
				return sleepErr
			}
			atomic.AddInt64(&p.retries, 1)
		}

		err = p.handler.HandleNotification(ctx, req)
		if err == nil {
			entry.Debug("Notification delivered")
			return nil
		}
		if !p.handler.IsRetryable(err) {
			entry.WithError(err).Error("Non-retryable error encountered")
			return err
		}
		entry.WithError(err).WithField("attempt", attempt+1).Warn("Retryable error delivering notification")
	}

	return fmt.Errorf("exhausted retries for notification %s: %w", req.RequestID, err)
}

func (p *notificationProcessor) metadata(message *sarama.ConsumerMessage) MessageMetadata {
	metadata := MessageMetadata{OriginalTopic: message.Topic}
	if raw, ok := header(message, "metadata"); ok {
		_ = json.Unmarshal(raw, &metadata)
	}
	if raw, ok := header(message, "retry_count"); ok {
		if n, err := strconv.Atoi(string(raw)); err == nil {
			metadata.RetryCount = n
		}
	}
	if metadata.OriginalTopic == "" {
		metadata.OriginalTopic = message.Topic
	}
	return metadata
}

func (p *notificationProcessor) sendToDLQ(message *sarama.ConsumerMessage, processingError error) error {
	now := p.now().UTC()
	metadata := p.metadata(message)
	metadata.RetryCount++
	if metadata.FirstFailure.IsZero() {
		metadata.FirstFailure = now
	}
	metadata.LastFailure = now
	metadata.ErrorMessage = processingError.Error()

	metadataBytes, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	dlqMessage := &sarama.ProducerMessage{
		Topic: p.dlqTopic,
		Key:   sarama.ByteEncoder(message.Key),
		Value: sarama.ByteEncoder(message.Value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("metadata"), Value: metadataBytes},
			{Key: []byte("original_topic"), Value: []byte(message.Topic)},
			{Key: []byte("original_partition"), Value: []byte(strconv.Itoa(int(message.Partition)))},
			{Key: []byte("original_offset"), Value: []byte(strconv.FormatInt(message.Offset, 10))},
			{Key: []byte("failure_time"), Value: []byte(now.Format(time.RFC3339))},
		},
	}

	partition, offset, err := p.dlq.SendMessage(dlqMessage)
	if err != nil {
		return fmt.Errorf("failed to send to DLQ: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"dlq_topic":     p.dlqTopic,
		"dlq_partition": partition,
		"dlq_offset":    offset,
		"original_key":  string(message.Key),
		"retry_count":   metadata.RetryCount,
		"error":         processingError.Error(),
	}).Warn("Message sent to dead letter queue")
	return nil
}

func (p *notificationProcessor) snapshot() ConsumerMetrics {
	return ConsumerMetrics{
		Processed:    atomic.LoadInt64(&p.processed),
		Succeeded:    atomic.LoadInt64(&p.succeeded),
		Failed:       atomic.LoadInt64(&p.failed),
		Retries:      atomic.LoadInt64(&p.retries),
		DeadLettered: atomic.LoadInt64(&p.deadLettered),
	}
}
