package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"polar-fitness-sync/internal/gamification"
	"polar-fitness-sync/internal/metrics"
	"polar-fitness-sync/internal/polar"
	"polar-fitness-sync/internal/syncer"
)

// ErrQueueFull is returned when the job queue has no room
var ErrQueueFull = errors.New("job queue is full")

// Job is one unit of background work
type Job struct {
	Type       string
	UserID     string
	Date       string
	Event      *polar.WebhookEvent
	EnqueuedAt time.Time
}

// Syncer runs syncs for a user
type Syncer interface {
	SyncUser(ctx context.Context, userID, date string, categories ...polar.Category) (*syncer.Summary, error)
	ExerciseDate(ctx context.Context, userID, exerciseID string) (string, error)
}

// Evaluator recomputes achievements after new data lands
type Evaluator interface {
	Evaluate(ctx context.Context, userID string) (*gamification.Summary, error)
}

// Worker processes sync jobs and webhook events from a bounded queue
type Worker struct {
	syncer    Syncer
	evaluator Evaluator
	queue     chan Job
	logger    *slog.Logger
}

// NewWorker creates a worker with room for size pending jobs.
// evaluator may be nil.
func NewWorker(s Syncer, evaluator Evaluator, size int) *Worker {
	if size < 1 {
		size = 1
	}
	return &Worker{
		syncer:    s,
		evaluator: evaluator,
		queue:     make(chan Job, size),
		logger:    slog.Default(),
	}
}

// Enqueue adds job without blocking
func (w *Worker) Enqueue(job Job) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	select {
	case w.queue <- job:
		metrics.QueueEnqueueTotal.WithLabelValues(job.Type).Inc()
		return nil
	default:
		metrics.QueueDequeueTotal.WithLabelValues(job.Type, metrics.ResultDropped).Inc()
		return ErrQueueFull
	}
}

// EnqueueSync schedules a full sync of userID for date
func (w *Worker) EnqueueSync(userID, date string) error {
	return w.Enqueue(Job{Type: metrics.JobTypeSyncUser, UserID: userID, Date: date})
}

// EnqueueWebhook schedules the sync announced by a webhook event for userID
func (w *Worker) EnqueueWebhook(userID string, event polar.WebhookEvent) error {
	return w.Enqueue(Job{Type: metrics.JobTypeWebhookEvent, UserID: userID, Date: event.DataDate(), Event: &event})
}

// Len returns the number of pending jobs
func (w *Worker) Len() int {
	return len(w.queue)
}

// Serve processes jobs until ctx is done
func (w *Worker) Serve(ctx context.Context) error {
	w.logger.Info("Starting worker")
	metrics.WorkerActive.Set(1)
	defer metrics.WorkerActive.Set(0)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Stopping worker", "pending", len(w.queue))
			return ctx.Err()
		case job := <-w.queue:
			w.process(ctx, job)
		}
	}
}

// process runs one job and records its metrics. Failures are logged, not retried.
func (w *Worker) process(ctx context.Context, job Job) {
	start := time.Now()
	metrics.QueueItemAge.WithLabelValues(job.Type).Observe(start.Sub(job.EnqueuedAt).Seconds())

	result, err := w.run(ctx, job)
	if err != nil {
		w.logger.Error("Failed to process job",
			"job_type", job.Type,
			"user_id", job.UserID,
			"date", job.Date,
			"error", err)
		result = metrics.ResultFailure
	}

	metrics.QueueProcessingDuration.WithLabelValues(job.Type, result).Observe(time.Since(start).Seconds())
	metrics.QueueDequeueTotal.WithLabelValues(job.Type, result).Inc()
}

func (w *Worker) run(ctx context.Context, job Job) (string, error) {
	switch job.Type {
	case metrics.JobTypeSyncUser:
		return metrics.ResultSuccess, w.syncUser(ctx, job.UserID, job.Date)

	case metrics.JobTypeWebhookEvent:
		if job.Event == nil {
			return "", fmt.Errorf("webhook job for %s has no event", job.UserID)
		}
		category, ok := job.Event.Category()
		if !ok {
			w.logger.Warn("Unknown webhook event, skipping", "event", job.Event.Event, "user_id", job.UserID)
			return metrics.ResultDropped, nil
		}
		date := job.Date
		if job.Event.Event == polar.EventExercise && job.Event.EntityID != "" {
			// The exercise is stored under its start date, not its upload date
			resolved, err := w.syncer.ExerciseDate(ctx, job.UserID, job.Event.EntityID)
			if err != nil {
				return "", fmt.Errorf("failed to resolve date of exercise %s: %w", job.Event.EntityID, err)
			}
			date = resolved
		}
		if date == "" {
			w.logger.Warn("Webhook event without date, skipping", "event", job.Event.Event, "user_id", job.UserID)
			return metrics.ResultDropped, nil
		}
		return metrics.ResultSuccess, w.syncUser(ctx, job.UserID, date, category)

	default:
		w.logger.Warn("Unknown job type", "job_type", job.Type)
		return metrics.ResultDropped, nil
	}
}

func (w *Worker) syncUser(ctx context.Context, userID, date string, categories ...polar.Category) error {
	summary, err := w.syncer.SyncUser(ctx, userID, date, categories...)
	if err != nil {
		return err
	}

	if w.evaluator != nil {
		if _, err := w.evaluator.Evaluate(ctx, userID); err != nil {
			w.logger.Error("Failed to evaluate achievements", "user_id", userID, "error", err)
		}
	}

	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d categories failed", summary.Failed, summary.Total)
	}
	return nil
}
