package sink

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/mklimuk/thermohost/config"
)

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes readings keyed by sensor name, so a sensor's readings stay
// ordered within a partition.
type Kafka struct {
	writer MessageWriter
}

func NewKafkaWriter(cfg config.Kafka) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
}

func NewKafka(w MessageWriter) *Kafka {
	return &Kafka{writer: w}
}

func (k *Kafka) Name() string {
	return "kafka"
}

func (k *Kafka) Publish(ctx context.Context, key string, payload []byte) error {
	err := k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: payload})
	if err != nil {
		return fmt.Errorf("kafka publish: %w", err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}
