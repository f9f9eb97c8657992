// Package kafka ingests reputation updates from a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/moxie-stats/internal/config"
	"github.com/moxie-stats/internal/domain"
	"github.com/moxie-stats/internal/metrics"
)

// ReputationHandler applies decoded reputation updates
type ReputationHandler interface {
	ApplyReputationBatch(ctx context.Context, updates []domain.ReputationUpdate) error
}

// Consumer consumes reputation messages from Kafka
type Consumer struct {
	config        *config.KafkaConfig
	handler       ReputationHandler
	log           zerolog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, handler ReputationHandler, log zerolog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating consumer group: %w", err)
	}

	return newConsumer(cfg, consumerGroup, handler, log), nil
}

func newConsumer(cfg *config.KafkaConfig, group sarama.ConsumerGroup, handler ReputationHandler, log zerolog.Logger) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		config:        cfg,
		handler:       handler,
		log:           log.With().Str("component", "kafka_consumer").Logger(),
		consumerGroup: group,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start begins consuming messages and returns once the first session is set up
func (c *Consumer) Start() error {
	c.log.Info().
		Strs("brokers", c.config.Brokers).
		Str("topic", c.config.Topic).
		Str("group_id", c.config.GroupID).
		Msg("Starting Kafka consumer")

	// Every session gets its own ready channel; Start only waits for the first.
	firstReady := make(chan bool)

	c.wg.Add(1)
	go func(ready chan bool) {
		defer c.wg.Done()
		for {
			handler := newGroupHandler(c.config, c.handler, c.log, ready)

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.Topic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.log.Error().Err(err).Msg("Error from consumer")
			}

			if c.ctx.Err() != nil {
				return
			}

			ready = make(chan bool)
		}
	}(firstReady)

	select {
	case <-firstReady:
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
	c.log.Info().Msg("Kafka consumer ready")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.log.Error().Err(err).Msg("Consumer group error")
			}
		}
	}()

	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.log.Info().Msg("Stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// groupHandler implements sarama.ConsumerGroupHandler
type groupHandler struct {
	batchSize    int
	batchTimeout time.Duration
	handler      ReputationHandler
	log          zerolog.Logger
	ready        chan bool
}

func newGroupHandler(cfg *config.KafkaConfig, handler ReputationHandler, log zerolog.Logger, ready chan bool) *groupHandler {
	return &groupHandler{
		batchSize:    max(cfg.BatchSize, 1),
		batchTimeout: cfg.BatchTimeout,
		handler:      handler,
		log:          log,
		ready:        ready,
	}
}

// Setup is called at the beginning of a new session
func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

// Cleanup is called at the end of a session
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim batches the updates of a partition by size or timeout
func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	batch := make([]domain.ReputationUpdate, 0, h.batchSize)
	batchTimer := time.NewTimer(h.batchTimeout)
	defer batchTimer.Stop()

	processBatch := func() {
		if len(batch) == 0 {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := h.handler.ApplyReputationBatch(ctx, batch); err != nil {
			h.log.Error().Err(err).Int("batch_size", len(batch)).Msg("Failed to process batch")
			metrics.ReputationUpdates.WithLabelValues("failed").Add(float64(len(batch)))
		} else {
			h.log.Debug().Int("batch_size", len(batch)).Msg("Processed batch")
			metrics.ReputationUpdates.WithLabelValues("applied").Add(float64(len(batch)))
		}

		batch = batch[:0]
	}

	for {
		select {
		case <-session.Context().Done():
			processBatch()
			return nil

		case <-batchTimer.C:
			processBatch()
			batchTimer.Reset(h.batchTimeout)

		case message, ok := <-claim.Messages():
			if !ok {
				processBatch()
				return nil
			}

			update, err := DecodeUpdate(message.Value, message.Timestamp)
			if err != nil {
				h.log.Warn().
					Err(err).
					Int64("offset", message.Offset).
					Int32("partition", message.Partition).
					Msg("Skipping reputation message")
				metrics.ReputationUpdates.WithLabelValues("invalid").Inc()
				session.MarkMessage(message, "")
				continue
			}

			batch = append(batch, update)
			session.MarkMessage(message, "")

			if len(batch) >= h.batchSize {
				processBatch()
				batchTimer.Reset(h.batchTimeout)
			}
		}
	}
}

// DecodeUpdate parses and validates one message. A missing timestamp is
// taken from the message.
func DecodeUpdate(value []byte, sent time.Time) (domain.ReputationUpdate, error) {
	var update domain.ReputationUpdate
	if err := json.Unmarshal(value, &update); err != nil {
		return domain.ReputationUpdate{}, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	if update.FID == "" {
		return domain.ReputationUpdate{}, fmt.Errorf("%w: fid is required", domain.ErrInvalidRequest)
	}
	if math.IsNaN(update.Score) || math.IsInf(update.Score, 0) || update.Score < 0 {
		return domain.ReputationUpdate{}, fmt.Errorf("%w: score %v", domain.ErrInvalidRequest, update.Score)
	}
	if update.Timestamp.IsZero() {
		update.Timestamp = sent
	}
	return update, nil
}
