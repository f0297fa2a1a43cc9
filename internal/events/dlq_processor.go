package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/jogardn/food-delivery/internal/config"
	"github.com/sirupsen/logrus"
)

// DeadLetter is what the monitor learned about one parked message.
type DeadLetter struct {
	Key       string
	Partition int32
	Offset    int64
	Metadata  MessageMetadata
	Request   *NotificationRequest
	Replayed  bool
}

// DLQMonitor tails the notification dead letter topic. With replay enabled
// it puts messages back on the notification topic until they have failed
// maxReplays times.
type DLQMonitor struct {
	group       sarama.ConsumerGroup
	producer    sarama.SyncProducer
	dlqTopic    string
	replayTopic string
	maxReplays  int
	report      func(DeadLetter)
	logger      *logrus.Logger
	now         func() time.Time
}

func NewDLQMonitor(cfg config.KafkaConfig, logger *logrus.Logger) (*DLQMonitor, error) {
	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.DLQMonitorGroup, newConsumerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create DLQ consumer: %w", err)
	}

	var producer sarama.SyncProducer
	if cfg.DLQReplay {
		producer, err = sarama.NewSyncProducer(cfg.Brokers, newProducerConfig())
		if err != nil {
			group.Close()
			return nil, fmt.Errorf("failed to create producer: %w", err)
		}
	}

	return newDLQMonitor(group, producer, cfg, logger), nil
}

func newDLQMonitor(group sarama.ConsumerGroup, producer sarama.SyncProducer, cfg config.KafkaConfig, logger *logrus.Logger) *DLQMonitor {
	return &DLQMonitor{
		group:       group,
		producer:    producer,
		dlqTopic:    cfg.NotificationDLQ,
		replayTopic: cfg.NotificationTopic,
		maxReplays:  cfg.DLQMaxReplays,
		report:      func(DeadLetter) {},
		logger:      logger,
		now:         time.Now,
	}
}

// OnDeadLetter registers fn to be called for every inspected message.
func (m *DLQMonitor) OnDeadLetter(fn func(DeadLetter)) {
	m.report = fn
}

func (m *DLQMonitor) Start(ctx context.Context) error {
	m.logger.WithFields(logrus.Fields{
		"dlq_topic": m.dlqTopic,
		"replay":    m.producer != nil,
	}).Info("DLQ monitor started")
	return consumeGroup(ctx, m.group, []string{m.dlqTopic}, m, m.logger)
}

func (m *DLQMonitor) Close() error {
	if m.producer != nil {
		if err := m.producer.Close(); err != nil {
			m.logger.WithError(err).Error("Failed to close producer")
		}
	}
	return m.group.Close()
}

func (m *DLQMonitor) Setup(sarama.ConsumerGroupSession) error {
	m.logger.Info("DLQ consumer session setup")
	return nil
}

func (m *DLQMonitor) Cleanup(sarama.ConsumerGroupSession) error {
	m.logger.Info("DLQ consumer session cleanup")
	return nil
}

func (m *DLQMonitor) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			m.handle(message)
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

func (m *DLQMonitor) handle(message *sarama.ConsumerMessage) DeadLetter {
	letter := m.inspect(message)

	m.logger.WithFields(logrus.Fields{
		"key":            letter.Key,
		"original_topic": letter.Metadata.OriginalTopic,
		"retry_count":    letter.Metadata.RetryCount,
		"first_failure":  letter.Metadata.FirstFailure,
		"last_failure":   letter.Metadata.LastFailure,
		"error_message":  letter.Metadata.ErrorMessage,
	}).Warn("DLQ message detected")

	if m.producer != nil {
		if letter.Metadata.RetryCount >= m.maxReplays {
			m.logger.WithFields(logrus.Fields{
				"key":         letter.Key,
				"retry_count": letter.Metadata.RetryCount,
			}).Error("Message exceeded maximum replay attempts")
		} else if err := m.replay(message, letter.Metadata); err != nil {
			m.logger.WithError(err).Error("Failed to replay DLQ message")
		} else {
			letter.Replayed = true
		}
	}

	m.report(letter)
	return letter
}

func (m *DLQMonitor) inspect(message *sarama.ConsumerMessage) DeadLetter {
	letter := DeadLetter{
		Key:       string(message.Key),
		Partition: message.Partition,
		Offset:    message.Offset,
	}
	if raw, ok := header(message, "metadata"); ok {
		if err := json.Unmarshal(raw, &letter.Metadata); err != nil {
			m.logger.WithError(err).Error("Failed to unmarshal metadata")
		}
	}

	var req NotificationRequest
	if err := json.Unmarshal(message.Value, &req); err == nil {
		letter.Request = &req
	}
	return letter
}

func (m *DLQMonitor) replay(message *sarama.ConsumerMessage, metadata MessageMetadata) error {
	metadataBytes, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	replayMessage := &sarama.ProducerMessage{
		Topic: m.replayTopic,
		Key:   sarama.ByteEncoder(message.Key),
		Value: sarama.ByteEncoder(message.Value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("metadata"), Value: metadataBytes},
			{Key: []byte("retry_count"), Value: []byte(strconv.Itoa(metadata.RetryCount))},
			{Key: []byte("replayed_from_dlq"), Value: []byte("true")},
			{Key: []byte("replay_time"), Value: []byte(m.now().UTC().Format(time.RFC3339))},
		},
	}

	partition, offset, err := m.producer.SendMessage(replayMessage)
	if err != nil {
		return fmt.Errorf("failed to replay message: %w", err)
	}

	m.logger.WithFields(logrus.Fields{
		"replay_topic":     m.replayTopic,
		"replay_partition": partition,
		"replay_offset":    offset,
		"key":              string(message.Key),
	}).Info("Message replayed from DLQ")
	return nil
}
