// Command loadgen publishes synthetic Transaction messages to the
// inbound Kafka topic, keyed by userId, for local exercising of the
// worker without a real payment front end feeding it.
package main

import (
	"encoding/json"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/enterprise/fraud-pipeline/configs"
	"github.com/enterprise/fraud-pipeline/internal/domain"
	"github.com/enterprise/fraud-pipeline/internal/transport"

	"github.com/IBM/sarama"
)

var currencies = []string{"USD", "EUR", "GBP", "JPY"}

var cities = []domain.Location{
	{Lat: 40.7128, Lon: -74.0060, City: "New York", Country: "US"},
	{Lat: 51.5074, Lon: -0.1278, City: "London", Country: "GB"},
	{Lat: 35.6762, Lon: 139.6503, City: "Tokyo", Country: "JP"},
	{Lat: -33.8688, Lon: 151.2093, City: "Sydney", Country: "AU"},
}

func main() {
	_ = godotenv.Load()
	cfg := configs.Load()

	count := 100
	if v := os.Getenv("LOADGEN_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			count = n
		}
	}
	users := 10
	if v := os.Getenv("LOADGEN_USERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			users = n
		}
	}

	producer, err := transport.NewSyncProducerWithRetry(cfg.Kafka.Brokers, transport.ProducerConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("loadgen: failed to connect kafka producer")
	}
	defer producer.Close()

	rng := rand.New(rand.NewSource(42))

	for i := 0; i < count; i++ {
		userID := "loadgen-user-" + strconv.Itoa(rng.Intn(users))
		loc := cities[rng.Intn(len(cities))]

		tx := domain.Transaction{
			TransactionID: uuid.New().String(),
			UserID:        userID,
			Amount:        roundTo2(rng.Float64() * 2000),
			Currency:      currencies[rng.Intn(len(currencies))],
			MerchantID:    "merchant-" + strconv.Itoa(rng.Intn(50)),
			OccurredAt:    time.Now().UTC(),
			Device: &domain.Device{
				ID:        "device-" + strconv.Itoa(rng.Intn(users*2)),
				IP:        "10.0." + strconv.Itoa(rng.Intn(255)) + "." + strconv.Itoa(rng.Intn(255)),
				UserAgent: "loadgen/1.0",
			},
			Location: &loc,
		}

		payload, err := json.Marshal(tx)
		if err != nil {
			log.Error().Err(err).Msg("loadgen: marshal transaction failed")
			continue
		}

		msg := &sarama.ProducerMessage{
			Topic: cfg.Kafka.InboundTopic,
			Key:   sarama.StringEncoder(tx.UserID),
			Value: sarama.ByteEncoder(payload),
		}
		if _, _, err := producer.SendMessage(msg); err != nil {
			log.Error().Err(err).Str("transaction_id", tx.TransactionID).Msg("loadgen: send failed")
			continue
		}
	}

	log.Info().Int("count", count).Str("topic", cfg.Kafka.InboundTopic).Msg("loadgen: finished publishing transactions")
}

func roundTo2(v float64) float64 {
	return float64(int(v*100)) / 100
}
