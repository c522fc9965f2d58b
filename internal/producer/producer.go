// Package producer provides the Kafka producer for the thresholder output topics.
package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"thresholder/internal/events"
	kafkautil "thresholder/pkg/kafka"
)

const (
	defaultPartitions        = 3
	defaultReplicationFactor = 1
)

// Producer wraps a Kafka writer bound to one topic. Messages are keyed by alarm id so all
// events of one alarm stay ordered on one partition.
type Producer struct {
	writer *kafka.Writer
	topic  string
}

// NewProducer creates a new Kafka producer with the specified brokers and topic.
// The producer is configured for at-least-once delivery semantics with synchronous writes.
func NewProducer(brokers string, topic string) (*Producer, error) {
	if err := kafkautil.ValidateProducerParams(brokers, topic); err != nil {
		return nil, err
	}

	brokerList := kafkautil.ParseBrokers(brokers)

	slog.Info("Initializing Kafka producer",
		"brokers", brokerList,
		"topic", topic,
	)

	// Best effort: the writer also auto-creates topics, but with broker defaults.
	createTopicIfNotExists(brokerList[0], topic)

	writer := kafkautil.NewWriter(brokerList, topic)

	slog.Info("Kafka producer configured",
		"write_timeout", kafkautil.WriteTimeout,
		"required_acks", "RequireOne",
		"async", false,
		"partition_key", "alarm_id (hashed)",
	)

	return &Producer{
		writer: writer,
		topic:  topic,
	}, nil
}

// createTopicIfNotExists attempts to create the topic if it doesn't exist.
// This is a best-effort operation and failures are logged but don't prevent producer creation.
func createTopicIfNotExists(broker, topic string) {
	conn, err := kafka.Dial("tcp", broker)
	if err != nil {
		slog.Warn("Could not connect to Kafka to check/create topic",
			"broker", broker,
			"topic", topic,
			"error", err,
		)
		return
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions(topic)
	if err == nil && len(partitions) > 0 {
		slog.Info("Topic already exists", "topic", topic, "partitions", len(partitions))
		return
	}

	err = conn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     defaultPartitions,
		ReplicationFactor: defaultReplicationFactor,
	})
	if err != nil {
		slog.Warn("Could not create topic (may need to be created manually)", "topic", topic, "error", err)
		return
	}

	slog.Info("Created topic",
		"topic", topic,
		"partitions", defaultPartitions,
		"replication_factor", defaultReplicationFactor,
	)
}

// PublishSubAlarmState publishes a sub-alarm state change for the alarm reducer.
func (p *Producer) PublishSubAlarmState(ctx context.Context, ev *events.SubAlarmStateChanged) error {
	return p.publish(ctx, ev.AlarmID, "sub_alarm_state_changed", ev, time.Unix(ev.Timestamp, 0))
}

// PublishTransition publishes an alarm state transition.
func (p *Producer) PublishTransition(ctx context.Context, ev *events.AlarmStateTransitioned) error {
	return p.publish(ctx, ev.AlarmID, "alarm_state_transitioned", ev, time.Unix(ev.Timestamp, 0))
}

func (p *Producer) publish(ctx context.Context, alarmID, eventType string, v any, ts time.Time) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", eventType, err)
	}

	msg := kafka.Message{
		Key:   []byte(alarmID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
			{Key: "alarm_id", Value: []byte(alarmID)},
		},
		Time: ts,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		slog.Error("Failed to write message to Kafka",
			"alarm_id", alarmID,
			"topic", p.topic,
			"error", err,
		)
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}
	return nil
}

// Close gracefully closes the Kafka writer and releases resources.
func (p *Producer) Close() error {
	slog.Info("Closing Kafka producer", "topic", p.topic)
	if err := p.writer.Close(); err != nil {
		slog.Error("Error closing Kafka producer", "topic", p.topic, "error", err)
		return err
	}
	slog.Info("Kafka producer closed successfully", "topic", p.topic)
	return nil
}
