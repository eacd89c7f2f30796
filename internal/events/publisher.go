package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// Publisher enqueues pipeline events on the broker. Enqueue returns
// only after the broker has persisted the message, so a nil error
// means the event survives a process crash (delivery remains
// asynchronous and at-least-once).
type Publisher struct {
	client   *asynq.Client
	logger   *slog.Logger
	maxRetry int
}

// NewPublisher wraps an asynq client with the pipeline retry policy.
func NewPublisher(client *asynq.Client, logger *slog.Logger, maxRetry int) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{client: client, logger: logger, maxRetry: maxRetry}
}

// Publish persists the event for asynchronous delivery.
func (p *Publisher) Publish(ctx context.Context, task *asynq.Task) error {
	info, err := p.client.EnqueueContext(ctx, task,
		asynq.MaxRetry(p.maxRetry),
		asynq.Timeout(5*time.Minute),
	)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", task.Type(), err)
	}
	p.logger.Debug("event published",
		slog.String("subject", task.Type()),
		slog.String("task_id", info.ID),
		slog.String("queue", info.Queue),
	)
	return nil
}

// RetryDelay implements the exponential backoff schedule (1s, 2s, 4s
// with the default base). n is the number of times the task has been
// retried so far.
func RetryDelay(base time.Duration) asynq.RetryDelayFunc {
	if base <= 0 {
		base = time.Second
	}
	return func(n int, _ error, _ *asynq.Task) time.Duration {
		d := base
		for i := 0; i < n; i++ {
			d *= 2
		}
		return d
	}
}
