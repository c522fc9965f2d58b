// Package consumer provides the Kafka consumer shared by the thresholder input topics.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	kafkautil "thresholder/pkg/kafka"
)

// Consumer wraps a Kafka reader. Offsets are committed explicitly after a message has been
// handled, which gives at-least-once delivery.
type Consumer struct {
	reader *kafka.Reader
	topic  string
}

// NewConsumer creates a new Kafka consumer with the specified brokers, topic, and group ID.
func NewConsumer(brokers string, topic string, groupID string) (*Consumer, error) {
	if err := kafkautil.ValidateConsumerParams(brokers, topic, groupID); err != nil {
		return nil, err
	}

	brokerList := kafkautil.ParseBrokers(brokers)

	slog.Info("Initializing Kafka consumer",
		"brokers", brokerList,
		"topic", topic,
		"group_id", groupID,
	)

	cfg := kafkautil.NewReaderConfig(brokerList, topic, groupID)
	reader := kafka.NewReader(cfg)
	kafkautil.LogReaderConfig(cfg)

	return &Consumer{
		reader: reader,
		topic:  topic,
	}, nil
}

// Topic returns the consumed topic.
func (c *Consumer) Topic() string {
	return c.topic
}

// Fetch returns the next message without committing it.
func (c *Consumer) Fetch(ctx context.Context) (kafka.Message, error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to fetch message from Kafka: %w", err)
	}
	return msg, nil
}

// Commit marks msg as processed.
func (c *Consumer) Commit(ctx context.Context, msg kafka.Message) error {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to commit offset %d on %s: %w", msg.Offset, c.topic, err)
	}
	return nil
}

// Close gracefully closes the Kafka reader and releases resources.
func (c *Consumer) Close() error {
	slog.Info("Closing Kafka consumer", "topic", c.topic)
	if err := c.reader.Close(); err != nil {
		slog.Error("Error closing Kafka consumer", "topic", c.topic, "error", err)
		return err
	}
	slog.Info("Kafka consumer closed successfully", "topic", c.topic)
	return nil
}

// Decode unmarshals a JSON message value into a T.
func Decode[T any](msg kafka.Message) (*T, error) {
	var v T
	if err := json.Unmarshal(msg.Value, &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message at offset %d: %w", msg.Offset, err)
	}
	return &v, nil
}
