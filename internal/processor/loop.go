package processor

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"thresholder/internal/observability"
)

// fetchRetryDelay throttles the loop while the broker is unreachable.
const fetchRetryDelay = 500 * time.Millisecond

// consume reads messages until ctx is cancelled. handle reports whether the message is
// done with; only then is its offset committed, so unhandled messages are redelivered
// after a restart or rebalance.
func consume(ctx context.Context, loop string, source MessageSource, metrics Metrics, handle func(context.Context, kafka.Message) bool) error {
	slog.Info("Starting processing loop", "loop", loop)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Processing loop stopped", "loop", loop)
			return nil
		default:
		}

		msg, err := source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("Processing loop stopped", "loop", loop)
				return nil
			}
			slog.Error("Failed to fetch message", "loop", loop, "error", err)
			metrics.RecordError()
			select {
			case <-ctx.Done():
			case <-time.After(fetchRetryDelay):
			}
			continue
		}

		metrics.RecordReceived()
		start := time.Now()
		if !handle(ctx, msg) {
			continue
		}
		elapsed := time.Since(start)
		metrics.RecordProcessed(elapsed)
		observability.ObserveProcessing(loop, elapsed)

		if err := source.Commit(ctx, msg); err != nil {
			slog.Error("Failed to commit offset",
				"loop", loop,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
			// the next successful commit covers this offset
		}
	}
}
