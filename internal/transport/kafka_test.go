package transport

import (
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
)

func TestConsumerConfig_NewestOffsetAndErrorsReturned(t *testing.T) {
	cfg := ConsumerConfig()
	assert.Equal(t, sarama.OffsetNewest, cfg.Consumer.Offsets.Initial)
	assert.True(t, cfg.Consumer.Return.Errors)
}

func TestProducerConfig_WaitsForAllReplicasAndReturnsSuccesses(t *testing.T) {
	cfg := ProducerConfig()
	assert.Equal(t, sarama.WaitForAll, cfg.Producer.RequiredAcks)
	assert.True(t, cfg.Producer.Return.Successes)
}
