package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/enterprise/fraud-pipeline/configs"
	"github.com/enterprise/fraud-pipeline/internal/decisionstore"
	"github.com/enterprise/fraud-pipeline/internal/modelclient"
	"github.com/enterprise/fraud-pipeline/internal/pipeline"
	"github.com/enterprise/fraud-pipeline/internal/statestore"
	"github.com/enterprise/fraud-pipeline/internal/transport"
)

func main() {
	_ = godotenv.Load()

	cfg := configs.Load()
	setupLogging(cfg.Server.Environment)

	log.Info().
		Str("environment", cfg.Server.Environment).
		Int("concurrency", cfg.Worker.Concurrency).
		Strs("brokers", cfg.Kafka.Brokers).
		Str("group_id", cfg.Kafka.ConsumerGroup).
		Msg("Starting fraud scoring worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := statestore.NewFromURL(ctx, cfg.Redis.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}

	dbPool, err := decisionstore.NewFromURL(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()
	decisions := decisionstore.New(dbPool)

	model := modelclient.New(cfg.ModelClientConfig())

	producer, err := transport.NewSyncProducerWithRetry(cfg.Kafka.Brokers, transport.ProducerConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Kafka decisions producer")
	}
	defer producer.Close()

	dlqProducer, err := transport.NewSyncProducerWithRetry(cfg.Kafka.Brokers, transport.ProducerConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Kafka DLQ producer")
	}
	defer dlqProducer.Close()

	consumerGroup, err := transport.NewConsumerGroupWithRetry(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, transport.ConsumerConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Kafka consumer group after retries")
	}
	defer consumerGroup.Close()

	proc := pipeline.New(
		store,
		decisions,
		model,
		producer,
		dlqProducer,
		cfg.Kafka.OutboundTopic,
		cfg.Kafka.DLQTopic,
		cfg.Rules,
		cfg.Weights,
		cfg.Thresholds,
		pipeline.SinkConfig{MaxRetries: cfg.Worker.SinkRetries, RetryDelay: cfg.Worker.SinkRetryWait},
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("Shutdown signal received, stopping worker")
		cancel()
	}()

	go func() {
		for err := range consumerGroup.Errors() {
			log.Warn().Err(err).Msg("kafka consumer group error")
		}
	}()

	topics := []string{cfg.Kafka.InboundTopic}
	for {
		if err := consumerGroup.Consume(ctx, topics, proc); err != nil {
			log.Error().Err(err).Msg("Error from consumer group session")
		}
		if ctx.Err() != nil {
			log.Info().Msg("Context cancelled, shutting down worker")
			return
		}
	}
}

func setupLogging(env string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
