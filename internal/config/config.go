// Package config provides configuration parsing and validation for the thresholder service.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Config holds all configuration parameters for the thresholder service.
type Config struct {
	KafkaBrokers       string
	MetricsTopic       string
	AlarmEventsTopic   string
	SubAlarmStateTopic string
	TransitionsTopic   string
	ConsumerGroupID    string
	PostgresDSN        string
	RedisAddr          string

	TickInterval       time.Duration
	LagMessagePeriod   time.Duration
	MinLag             time.Duration
	MaxLagMessages     int
	Partitions         int
	EmitBufferSize     int
	SporadicNamespaces string
	DefinitionCacheTTL time.Duration

	MetricsAddr string
	LogLevel    string
}

// Validate checks that all required configuration fields are set and have valid values.
// Returns an error if validation fails, nil otherwise.
func (c *Config) Validate() error {
	if c.KafkaBrokers == "" {
		return fmt.Errorf("kafka-brokers cannot be empty")
	}
	if c.MetricsTopic == "" {
		return fmt.Errorf("metrics-topic cannot be empty")
	}
	if c.AlarmEventsTopic == "" {
		return fmt.Errorf("alarm-events-topic cannot be empty")
	}
	if c.SubAlarmStateTopic == "" {
		return fmt.Errorf("sub-alarm-state-topic cannot be empty")
	}
	if c.TransitionsTopic == "" {
		return fmt.Errorf("transitions-topic cannot be empty")
	}
	if c.ConsumerGroupID == "" {
		return fmt.Errorf("consumer-group-id cannot be empty")
	}
	if c.PostgresDSN == "" {
		return fmt.Errorf("postgres-dsn cannot be empty")
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick-interval must be > 0")
	}
	if c.LagMessagePeriod <= 0 {
		return fmt.Errorf("lag-message-period must be > 0")
	}
	if c.MinLag < 0 || c.MinLag >= c.LagMessagePeriod {
		return fmt.Errorf("min-lag must be >= 0 and < lag-message-period")
	}
	if c.MaxLagMessages < 0 {
		return fmt.Errorf("max-lag-messages must be >= 0")
	}
	if c.Partitions <= 0 {
		return fmt.Errorf("partitions must be > 0")
	}
	if c.EmitBufferSize <= 0 {
		return fmt.Errorf("emit-buffer-size must be > 0")
	}
	if c.DefinitionCacheTTL < 0 {
		return fmt.Errorf("definition-cache-ttl must be >= 0")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLogLevel maps debug, info, warn and error to slog levels. Empty means info.
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log-level %q is not one of debug, info, warn, error", level)
	}
}
