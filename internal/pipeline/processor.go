// Package pipeline implements the Stream Processor and Decision Sink
// (§4.6, §4.7): a sarama.ConsumerGroupHandler that runs the idempotency
// gate, rule engine, state updates, feature extraction, model call,
// score combination, and publish+persist sequence for each inbound
// transaction. Grounded on this codebase's Worker/WorkerPool shutdown
// discipline (internal/scoring/worker.go) generalized from a Redis
// Streams batch loop onto a sarama ConsumerGroupHandler, the structural
// pattern already demonstrated by this codebase's CDC analytics
// consumer (cmd/kafka-worker/main.go's AnalyticsPipelineHandler).
package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog/log"

	"github.com/enterprise/fraud-pipeline/internal/combiner"
	"github.com/enterprise/fraud-pipeline/internal/decisionstore"
	"github.com/enterprise/fraud-pipeline/internal/domain"
	"github.com/enterprise/fraud-pipeline/internal/features"
	"github.com/enterprise/fraud-pipeline/internal/modelclient"
	"github.com/enterprise/fraud-pipeline/internal/rules"
	"github.com/enterprise/fraud-pipeline/internal/statestore"
)

// SinkConfig bounds the Decision Sink's in-band retry policy (§4.7, §7):
// a publish or persist is attempted once plus MaxRetries retries, after
// which the failure escalates to the processor's failure path (the input
// message is not acknowledged).
type SinkConfig struct {
	MaxRetries int
	RetryDelay time.Duration
}

// DefaultSinkConfig returns a conservative bounded-retry policy.
func DefaultSinkConfig() SinkConfig {
	return SinkConfig{MaxRetries: 3, RetryDelay: 100 * time.Millisecond}
}

// Pipeline wires every component together and implements the per-message
// orchestration from §4.6. It satisfies sarama.ConsumerGroupHandler.
type Pipeline struct {
	store       *statestore.Store
	decisions   *decisionstore.Store
	model       *modelclient.Client
	producer    sarama.SyncProducer
	dlqProducer sarama.SyncProducer

	outboundTopic string
	dlqTopic      string

	rulesCfg   rules.Config
	weights    combiner.Weights
	thresholds combiner.Thresholds
	sinkCfg    SinkConfig
}

// New constructs a Pipeline from its wired dependencies and config.
func New(
	store *statestore.Store,
	decisions *decisionstore.Store,
	model *modelclient.Client,
	producer sarama.SyncProducer,
	dlqProducer sarama.SyncProducer,
	outboundTopic, dlqTopic string,
	rulesCfg rules.Config,
	weights combiner.Weights,
	thresholds combiner.Thresholds,
	sinkCfg SinkConfig,
) *Pipeline {
	return &Pipeline{
		store:         store,
		decisions:     decisions,
		model:         model,
		producer:      producer,
		dlqProducer:   dlqProducer,
		outboundTopic: outboundTopic,
		dlqTopic:      dlqTopic,
		rulesCfg:      rulesCfg,
		weights:       weights,
		thresholds:    thresholds,
		sinkCfg:       sinkCfg,
	}
}

// Setup is called at the start of a new consumer group session.
func (p *Pipeline) Setup(sarama.ConsumerGroupSession) error {
	log.Info().Msg("pipeline: consumer session started")
	return nil
}

// Cleanup is called at the end of a consumer group session.
func (p *Pipeline) Cleanup(sarama.ConsumerGroupSession) error {
	log.Info().Msg("pipeline: consumer session ended")
	return nil
}

// ConsumeClaim processes one assigned partition's messages in order;
// sarama guarantees one ConsumeClaim goroutine per partition, which is
// what gives §5's per-partition FIFO and per-user sequential processing
// (when the producer keys by userId) without any bespoke scheduling.
func (p *Pipeline) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			if p.handleMessage(session.Context(), msg) {
				session.MarkMessage(msg, "")
			}
			// If handleMessage returns false, the message is left
			// unacknowledged; redelivery re-runs it from step 1 (§4.6).

		case <-session.Context().Done():
			return nil
		}
	}
}

// handleMessage runs the full ten-step main loop for one message.
// It returns true iff the offset should be acknowledged.
func (p *Pipeline) handleMessage(ctx context.Context, msg *sarama.ConsumerMessage) bool {
	start := time.Now()

	var tx domain.Transaction
	if err := json.Unmarshal(msg.Value, &tx); err != nil || !tx.Valid() {
		p.sendToDLQ(ctx, msg, "schema_invalid")
		return true // §6.1: dropped to DLQ, acknowledge.
	}

	_, ackable := p.Score(ctx, tx, start)
	return ackable
}

// Score runs steps 2-9 of the main loop for a single transaction.
// ackable is true whenever the input offset may be acknowledged: either
// because a decision was successfully published and persisted, or
// because the idempotency gate found the transaction already scored
// (§4.6 step 2: "if present, acknowledge and skip"). ackable is false
// only when the sink could not publish or persist after bounded
// retries, in which case decision is always nil and the caller must
// leave the message unacknowledged so redelivery retries from step 1.
func (p *Pipeline) Score(ctx context.Context, tx domain.Transaction, start time.Time) (decision *domain.Decision, ackable bool) {
	// Step 2: idempotency gate.
	exists, err := p.decisions.Exists(ctx, tx.TransactionID)
	if err != nil {
		log.Warn().Err(err).Str("transaction_id", tx.TransactionID).Msg("pipeline: idempotency check failed, proceeding")
	}
	if exists {
		return nil, true
	}

	d := p.score(ctx, tx, start)

	// Steps 8-9: Decision Sink (publish + persist), bounded retry.
	if !p.publishWithRetry(ctx, d) {
		return nil, false
	}
	if !p.persistWithRetry(ctx, d) {
		return nil, false
	}

	return &d, true
}

// ScoreDryRun runs the scoring logic (steps 3-7) without any state
// writes or sink effects, for use by tests checking the idempotence and
// round-trip properties in §8 without standing up Kafka or Postgres.
// Adapted from this codebase's BacktestService.ScoreTransactionDryRun —
// kept as test infrastructure only, never exposed as an API (see
// DESIGN.md).
func (p *Pipeline) ScoreDryRun(ctx context.Context, tx domain.Transaction) domain.Decision {
	signals := p.readSignals(ctx, tx)
	rr := rules.Evaluate(tx, signals, p.rulesCfg)
	feats := features.Extract(tx, signals, p.rulesCfg.BurstWindowSec, rr)
	probability := p.model.Predict(ctx, feats[:])
	score, reasons := combiner.Combine(rr.Score, probability, p.weights, rr.Reasons)
	category := combiner.Classify(score, p.thresholds)

	return domain.Decision{
		TransactionID: tx.TransactionID,
		UserID:        tx.UserID,
		Decision:      category,
		Score:         score,
		Reasons:       reasons,
		EvaluatedAt:   tx.OccurredAt,
	}
}

// score runs steps 3-7; the state updates of step 5 are recorded after
// the reads in step 3 and the rule evaluation in step 4, so the
// transaction does not influence its own rules (§4.6).
func (p *Pipeline) score(ctx context.Context, tx domain.Transaction, start time.Time) domain.Decision {
	// Step 3: read state signals.
	signals := p.readSignals(ctx, tx)

	// Step 4: rule engine.
	rr := rules.Evaluate(tx, signals, p.rulesCfg)

	// Step 5: record state updates, after the reads above.
	p.recordState(ctx, tx)

	// Step 6: feature vector + bounded model call.
	feats := features.Extract(tx, signals, p.rulesCfg.BurstWindowSec, rr)
	probability := p.model.Predict(ctx, feats[:])

	// Step 7: combine + classify.
	score, reasons := combiner.Combine(rr.Score, probability, p.weights, rr.Reasons)
	category := combiner.Classify(score, p.thresholds)

	return domain.Decision{
		TransactionID: tx.TransactionID,
		UserID:        tx.UserID,
		Decision:      category,
		Score:         score,
		Reasons:       reasons,
		LatencyMs:     time.Since(start).Milliseconds(),
		EvaluatedAt:   time.Now().UTC(),
	}
}

func (p *Pipeline) readSignals(ctx context.Context, tx domain.Transaction) domain.StateSignals {
	now := tx.OccurredAt
	signals := domain.StateSignals{
		RecentCounts: map[int64]int64{
			p.rulesCfg.BurstWindowSec: p.store.RecentCount(ctx, tx.UserID, now, p.rulesCfg.BurstWindowSec),
		},
		MedianAmount: p.store.MedianAmount(ctx, tx.UserID),
		LastLocation: p.store.GetLastLocation(ctx, tx.UserID),
	}

	if tx.Device != nil && tx.Device.ID != "" {
		signals.DeviceIsNew = p.store.DeviceIsUnseen(ctx, tx.UserID, tx.Device.ID)
		signals.DeviceIsRecent = p.store.DeviceFirstSeenWithin(ctx, tx.UserID, tx.Device.ID, now, p.rulesCfg.DeviceNewWithinDays)
	}
	if tx.Device != nil && tx.Device.IP != "" {
		signals.IPIsNew = p.store.IPIsUnseen(ctx, tx.UserID, tx.Device.IP)
		signals.IPIsRecent = p.store.IPFirstSeenWithin(ctx, tx.UserID, tx.Device.IP, now, p.rulesCfg.IPNewWithinDays)
	}

	return signals
}

func (p *Pipeline) recordState(ctx context.Context, tx domain.Transaction) {
	p.store.RecordTxTime(ctx, tx.UserID, tx.OccurredAt)
	p.store.RecordAmount(ctx, tx.UserID, tx.Amount, p.rulesCfg.SpendHistorySize)

	if tx.Device != nil && tx.Device.ID != "" {
		p.store.ObserveDevice(ctx, tx.UserID, tx.Device.ID, tx.OccurredAt)
	}
	if tx.Device != nil && tx.Device.IP != "" {
		p.store.ObserveIP(ctx, tx.UserID, tx.Device.IP, tx.OccurredAt)
	}
	if tx.Location != nil {
		p.store.SetLastLocation(ctx, tx.UserID, tx.Location.Lat, tx.Location.Lon, tx.OccurredAt)
	}
}

func (p *Pipeline) publishWithRetry(ctx context.Context, d domain.Decision) bool {
	payload, err := json.Marshal(d)
	if err != nil {
		log.Error().Err(err).Str("transaction_id", d.TransactionID).Msg("pipeline: marshal decision failed")
		return false
	}

	msg := &sarama.ProducerMessage{
		Topic: p.outboundTopic,
		Key:   sarama.StringEncoder(d.UserID),
		Value: sarama.ByteEncoder(payload),
	}

	var lastErr error
	for attempt := 0; attempt <= p.sinkCfg.MaxRetries; attempt++ {
		if _, _, lastErr = p.producer.SendMessage(msg); lastErr == nil {
			return true
		}
		log.Warn().Err(lastErr).Int("attempt", attempt+1).Str("transaction_id", d.TransactionID).Msg("pipeline: publish failed, retrying")
		time.Sleep(p.sinkCfg.RetryDelay)
	}

	log.Error().Err(lastErr).Str("transaction_id", d.TransactionID).Msg("pipeline: publish failed after retries, leaving unacknowledged")
	return false
}

func (p *Pipeline) persistWithRetry(ctx context.Context, d domain.Decision) bool {
	var lastErr error
	for attempt := 0; attempt <= p.sinkCfg.MaxRetries; attempt++ {
		if lastErr = p.decisions.Create(ctx, d); lastErr == nil {
			return true
		}
		log.Warn().Err(lastErr).Int("attempt", attempt+1).Str("transaction_id", d.TransactionID).Msg("pipeline: persist failed, retrying")
		time.Sleep(p.sinkCfg.RetryDelay)
	}

	log.Error().Err(lastErr).Str("transaction_id", d.TransactionID).Msg("pipeline: persist failed after retries, leaving unacknowledged")
	return false
}

func (p *Pipeline) sendToDLQ(ctx context.Context, msg *sarama.ConsumerMessage, reason string) {
	if p.dlqProducer == nil {
		return
	}

	// Payloads that are not valid JSON are carried as a string so the
	// envelope still marshals.
	var original interface{} = json.RawMessage(msg.Value)
	if !json.Valid(msg.Value) {
		original = string(msg.Value)
	}
	envelope := map[string]interface{}{
		"reason":   reason,
		"original": original,
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		log.Error().Err(err).Msg("pipeline: marshal dlq envelope failed")
		return
	}

	dlqMsg := &sarama.ProducerMessage{
		Topic: p.dlqTopic,
		Key:   sarama.ByteEncoder(msg.Key),
		Value: sarama.ByteEncoder(payload),
	}

	if _, _, err := p.dlqProducer.SendMessage(dlqMsg); err != nil {
		log.Error().Err(err).Msg("pipeline: send to dlq failed")
	}
}
