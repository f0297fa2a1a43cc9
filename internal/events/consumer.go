package events

import (
	"context"
	"errors"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

func newConsumerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Version = sarama.V2_6_0_0
	return config
}

// consumeGroup runs handler over topics until ctx ends. Consume returns at
// every rebalance, so it is called in a loop.
func consumeGroup(ctx context.Context, group sarama.ConsumerGroup, topics []string, handler sarama.ConsumerGroupHandler, logger *logrus.Logger) error {
	for {
		if err := group.Consume(ctx, topics, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			logger.WithError(err).WithField("topics", topics).Error("Error consuming from Kafka")
			return err
		}
		if ctx.Err() != nil {
			logger.WithField("topics", topics).Info("Kafka consumer context cancelled")
			return nil
		}
	}
}

// header returns the value of the first header named key.
func header(message *sarama.ConsumerMessage, key string) ([]byte, bool) {
	for _, h := range message.Headers {
		if h != nil && string(h.Key) == key {
			return h.Value, true
		}
	}
	return nil, false
}
