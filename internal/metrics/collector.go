package metrics

import (
	"context"
	"log/slog"
	"time"
)

// Queue is anything that can report how many jobs are waiting
type Queue interface {
	Len() int
}

// StartQueueDepthCollector periodically copies the queue length into the
// queue depth gauge until ctx is cancelled
func StartQueueDepthCollector(ctx context.Context, queue Queue, interval time.Duration) {
	logger := slog.Default()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Collect once immediately
	QueueDepth.Set(float64(queue.Len()))

	for {
		select {
		case <-ctx.Done():
			logger.Info("Queue depth collector stopping")
			return
		case <-ticker.C:
			QueueDepth.Set(float64(queue.Len()))
		}
	}
}
