package infra

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/staffdesk/medbook/internal/domain"
)

// KafkaProducer publishes outbox events, one topic per event type.
type KafkaProducer struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// NewKafkaProducer creates a producer for a comma-separated broker list.
// Messages are keyed by partition key so one staff member's events stay ordered.
func NewKafkaProducer(brokers string, logger *slog.Logger) *KafkaProducer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(splitBrokers(brokers)...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		WriteTimeout:           10 * time.Second,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error("kafka writer", "detail", fmt.Sprintf(msg, args...))
		}),
	}
	logger.Info("kafka producer initialized", "brokers", brokers)
	return &KafkaProducer{writer: w, logger: logger}
}

// Publish writes one event and waits for the broker acknowledgement.
func (p *KafkaProducer) Publish(ctx context.Context, e domain.OutboxDraft) error {
	msg, err := kafkaMessage(e)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, msg)
}

// Close flushes and shuts down the writer.
func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

func kafkaMessage(e domain.OutboxDraft) (kafka.Message, error) {
	body, err := EncodeOutboxEvent(e)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Topic: e.Topic(),
		Key:   []byte(e.PartitionKey),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(e.EventID.String())},
			{Key: "event_type", Value: []byte(e.EventType)},
		},
		Time: e.OccurredAt,
	}, nil
}

func splitBrokers(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
