package kafka

import "time"

const (
	// MaxPollWait bounds how long a fetch waits for new data before returning.
	MaxPollWait = 500 * time.Millisecond
	// CommitInterval is how often to commit offsets (after processing).
	CommitInterval = 1 * time.Second
	// WriteTimeout is the maximum time to wait for a Kafka write operation.
	WriteTimeout = 10 * time.Second
)
