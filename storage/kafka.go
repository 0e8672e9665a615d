package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/drake-forum/technoshield/config"
	"github.com/drake-forum/technoshield/core"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// KafkaAlertPublisher streams alerts to a topic, keyed by dedup key so one
// condition always lands on the same partition
type KafkaAlertPublisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.SugaredLogger
}

// NewKafkaProducerConfig returns the producer settings the publisher needs
func NewKafkaProducerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = true
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.ClientID = "technoshield"
	return cfg
}

// NewKafkaAlertPublisher connects a synchronous producer to the brokers
func NewKafkaAlertPublisher(cfg config.KafkaConfig, logger *zap.SugaredLogger) (*KafkaAlertPublisher, error) {
	producer, err := sarama.NewSyncProducer(cfg.Brokers, NewKafkaProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Kafka producer: %v", ErrSinkUnavailable, err)
	}
	return NewKafkaAlertPublisherWithProducer(producer, cfg.Topic, logger), nil
}

// NewKafkaAlertPublisherWithProducer wraps an existing producer
func NewKafkaAlertPublisherWithProducer(producer sarama.SyncProducer, topic string, logger *zap.SugaredLogger) *KafkaAlertPublisher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &KafkaAlertPublisher{producer: producer, topic: topic, logger: logger}
}

// StoreAlerts publishes alerts as JSON. Kafka has no upsert, so every
// accepted alert counts as new.
func (k *KafkaAlertPublisher) StoreAlerts(ctx context.Context, alerts []core.Alert) (int, error) {
	if len(alerts) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	msgs := make([]*sarama.ProducerMessage, 0, len(alerts))
	for i := range alerts {
		payload, err := json.Marshal(&alerts[i])
		if err != nil {
			return 0, fmt.Errorf("failed to encode alert %s: %w", alerts[i].AlertID, err)
		}
		msgs = append(msgs, &sarama.ProducerMessage{
			Topic: k.topic,
			Key:   sarama.StringEncoder(alerts[i].DedupKey()),
			Value: sarama.ByteEncoder(payload),
			Headers: []sarama.RecordHeader{
				{Key: []byte("alert_id"), Value: []byte(alerts[i].AlertID)},
				{Key: []byte("severity"), Value: []byte(alerts[i].Severity)},
			},
		})
	}

	if err := k.producer.SendMessages(msgs); err != nil {
		var perrs sarama.ProducerErrors
		if errors.As(err, &perrs) && len(perrs) > 0 {
			sent := len(msgs) - len(perrs)
			k.logger.Errorw("Some alerts were not published", "topic", k.topic, "failed", len(perrs), "sent", sent)
			return sent, fmt.Errorf("failed to publish %d of %d alerts: %w", len(perrs), len(msgs), perrs[0].Err)
		}
		return 0, fmt.Errorf("failed to publish alerts: %w", err)
	}
	return len(msgs), nil
}

// Close flushes and closes the producer
func (k *KafkaAlertPublisher) Close() error {
	return k.producer.Close()
}
