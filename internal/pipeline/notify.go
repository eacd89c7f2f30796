package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// 统一的进度消息协议（通过 Redis Pub/Sub 转发给 WebSocket 客户端）。
// 注意：这里的字段名与前端解析保持一致。
type ProgressMessage struct {
	Stage         string   `json:"stage"`
	Status        string   `json:"status"`
	JobID         string   `json:"job_id"`
	ResumeID      string   `json:"resume_id,omitempty"`
	Score         *float64 `json:"score,omitempty"`
	ErrorMessage  string   `json:"error_message,omitempty"`
	CorrelationID string   `json:"correlation_id,omitempty"`
}

// Progress stages.
const (
	StageResumeFailed = "resume_failed"
	StageReportReady  = "report_ready"
)

// JobNotifyChannel returns the Redis pub/sub channel carrying progress
// messages for one job.
func JobNotifyChannel(jobID string) string {
	return fmt.Sprintf("job_notify:%s", jobID)
}

// Notifier publishes pipeline progress over Redis pub/sub. A nil
// Notifier is valid and drops all messages, which keeps tests and
// notification-less deployments simple.
type Notifier struct {
	redisClient *redis.Client
}

// NewNotifier wraps a Redis client.
func NewNotifier(redisClient *redis.Client) *Notifier {
	return &Notifier{redisClient: redisClient}
}

// NotifyJob publishes a progress message on the job's channel.
func (n *Notifier) NotifyJob(ctx context.Context, msg ProgressMessage) error {
	if n == nil || n.redisClient == nil {
		return nil
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal progress message: %w", err)
	}
	channel := JobNotifyChannel(msg.JobID)
	if err := n.redisClient.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish progress to %q: %w", channel, err)
	}
	return nil
}
