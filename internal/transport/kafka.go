// Package transport wires the Kafka producers and consumer group the
// stream processor runs on top of. Grounded on this codebase's
// cmd/kafka-worker/main.go connect-with-retry loop and sarama.Config
// tuning, here adapted to carry the inbound scoring topic, outbound
// decisions topic, and DLQ topic instead of a single CDC topic.
package transport

import (
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog/log"
)

// ConsumerConfig builds the sarama.Config this codebase's consumer
// groups use: round-robin rebalancing, newest-offset start, and errors
// surfaced on the Errors() channel rather than swallowed.
func ConsumerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	cfg.Consumer.Return.Errors = true
	cfg.Version = sarama.V3_0_0_0
	return cfg
}

// ProducerConfig builds the sarama.Config for the outbound/DLQ
// producers: required-ack-from-all-in-sync-replicas and bounded
// internal retries, so a transient broker hiccup doesn't immediately
// fall through to the Decision Sink's own bounded retry loop.
func ProducerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 200 * time.Millisecond
	cfg.Producer.Return.Successes = true
	cfg.Version = sarama.V3_0_0_0
	return cfg
}

// NewConsumerGroupWithRetry connects a consumer group, retrying on
// failure the same way cmd/kafka-worker/main.go does: up to 30 attempts,
// 5s apart, since Kafka brokers in a freshly started compose stack often
// aren't ready the instant this process starts.
func NewConsumerGroupWithRetry(brokers []string, groupID string, cfg *sarama.Config) (sarama.ConsumerGroup, error) {
	var (
		group sarama.ConsumerGroup
		err   error
	)
	for attempt := 0; attempt < 30; attempt++ {
		group, err = sarama.NewConsumerGroup(brokers, groupID, cfg)
		if err == nil {
			return group, nil
		}
		log.Warn().Err(err).Int("attempt", attempt+1).Msg("transport: failed to connect kafka consumer group, retrying")
		time.Sleep(5 * time.Second)
	}
	return nil, err
}

// NewSyncProducerWithRetry is the producer-side analogue of
// NewConsumerGroupWithRetry, used for both the outbound decisions
// producer and the DLQ producer.
func NewSyncProducerWithRetry(brokers []string, cfg *sarama.Config) (sarama.SyncProducer, error) {
	var (
		producer sarama.SyncProducer
		err      error
	)
	for attempt := 0; attempt < 30; attempt++ {
		producer, err = sarama.NewSyncProducer(brokers, cfg)
		if err == nil {
			return producer, nil
		}
		log.Warn().Err(err).Int("attempt", attempt+1).Msg("transport: failed to connect kafka producer, retrying")
		time.Sleep(5 * time.Second)
	}
	return nil, err
}
