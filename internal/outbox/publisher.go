package outbox

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/newtechdevloper/FitStack-sub000/internal/logger"
)

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaPublisher(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

// NewSyncProducer builds a producer that waits for all in-sync replicas.
func NewSyncProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return producer, nil
}

// Publish keys messages by tenant and aggregate so one aggregate's events
// stay ordered within a partition.
func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(e.TenantID + ":" + e.AggregateID),
		Value: sarama.ByteEncoder(e.Payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_id"), Value: []byte(e.ID)},
			{Key: []byte("event_type"), Value: []byte(e.EventType)},
			{Key: []byte("tenant_id"), Value: []byte(e.TenantID)},
		},
		Timestamp: e.CreatedAt,
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("publish %s: %w", e.ID, err)
	}

	logger.Debug("outbox event published",
		"event_id", e.ID,
		"event_type", e.EventType,
		"partition", partition,
		"offset", offset,
	)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// LogPublisher writes events to the structured log. Used when no broker is
// configured.
type LogPublisher struct{}

func (LogPublisher) Publish(ctx context.Context, e Event) error {
	logger.Info("outbox event",
		"event_id", e.ID,
		"tenant_id", e.TenantID,
		"event_type", e.EventType,
		"aggregate_id", e.AggregateID,
		"payload", string(e.Payload),
	)
	return nil
}

func (LogPublisher) Close() error { return nil }
