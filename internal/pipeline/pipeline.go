package pipeline

import (
	"context"
	"strings"

	"github.com/hibiken/asynq"
)

// publisher is the broker surface handlers publish follow-up events
// through. *events.Publisher satisfies it.
type publisher interface {
	Publish(ctx context.Context, task *asynq.Task) error
}

// fileFetcher retrieves an uploaded résumé file from object storage.
// *storage.Client satisfies it.
type fileFetcher interface {
	FetchObject(ctx context.Context, objectKey string) ([]byte, error)
}

// isFinalAttempt reports whether the current delivery is the last one
// the broker will make for this task.
func isFinalAttempt(ctx context.Context) bool {
	retryCount, ok1 := asynq.GetRetryCount(ctx)
	maxRetry, ok2 := asynq.GetMaxRetry(ctx)
	if !ok1 || !ok2 {
		return false
	}
	return retryCount >= maxRetry
}

// deliveryRetryCount returns how many retries the broker has performed
// for this delivery, or 0 outside a broker context.
func deliveryRetryCount(ctx context.Context) int {
	n, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return 0
	}
	return n
}

// objectKeyFromURL accepts either a bare object key or a full URL and
// returns the storage key. The gateway publishes bare keys; the URL
// form is tolerated for older producers.
func objectKeyFromURL(tempFileURL string) string {
	key := strings.TrimSpace(tempFileURL)
	if i := strings.Index(key, "://"); i != -1 {
		rest := key[i+3:]
		if j := strings.Index(rest, "/"); j != -1 {
			key = rest[j+1:]
		} else {
			key = ""
		}
	}
	return strings.TrimPrefix(key, "/")
}
