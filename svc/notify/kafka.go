package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/equilibra/platform/svc/billing"
)

type KafkaConfig struct {
	Brokers []string      `env:"KAFKA_BROKERS" envSeparator:","`
	Topic   string        `env:"KAFKA_PURCHASE_TOPIC" envDefault:"billing.purchases"`
	Timeout time.Duration `env:"KAFKA_WRITE_TIMEOUT" envDefault:"5s"`
}

func (c KafkaConfig) Enabled() bool { return len(c.Brokers) > 0 }

// NewKafkaWriter builds a writer that keys messages by user so events of
// one user stay ordered on a partition.
func NewKafkaWriter(cfg KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		WriteTimeout:           cfg.Timeout,
		AllowAutoTopicCreation: true,
	}
}

// MessageWriter is the subset of *kafka.Writer used by KafkaNotifier.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaNotifier publishes purchase events for downstream consumers.
type KafkaNotifier struct {
	writer MessageWriter
}

func NewKafkaNotifier(w MessageWriter) *KafkaNotifier {
	return &KafkaNotifier{writer: w}
}

func (n *KafkaNotifier) NotifyPurchase(ctx context.Context, ev billing.PurchaseEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal purchase event: %w", err)
	}

	err = n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.UserID.String()),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte("purchase.completed")},
			{Key: "provider", Value: []byte(ev.Provider)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish purchase event: %w", err)
	}
	return nil
}
