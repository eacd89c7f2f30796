package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"hireflow/internal/database"
	"hireflow/internal/events"
)

// ResumeFailedHandler 消费 job.resume.failed，兜底落库失败状态并向
// 前端推送进度。发布方已经写过失败状态，这里的更新是幂等补偿。
type ResumeFailedHandler struct {
	db       *gorm.DB
	notifier *Notifier
	logger   *slog.Logger
}

// NewResumeFailedHandler 创建任务处理器。notifier 可以为 nil。
func NewResumeFailedHandler(db *gorm.DB, notifier *Notifier, logger *slog.Logger) *ResumeFailedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResumeFailedHandler{db: db, notifier: notifier, logger: logger}
}

// ProcessTask 实现 asynq.Handler。
func (h *ResumeFailedHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload events.ResumeFailed
	if err := events.Decode(t, &payload); err != nil {
		h.logger.Error("invalid resume.failed payload", slog.Any("error", err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	log := h.logger.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.String("job_id", payload.JobID),
		slog.String("resume_id", payload.ResumeID),
	)

	if err := h.db.WithContext(ctx).Model(&database.Resume{}).
		Where("resume_id = ? AND status <> ?", payload.ResumeID, database.ResumeStatusCompleted).
		Updates(map[string]any{
			"status":         database.ResumeStatusFailed,
			"failure_reason": payload.Error,
			"retry_count":    payload.RetryCount,
		}).Error; err != nil {
		log.Error("record resume failure", slog.Any("error", err))
		return err
	}

	if err := h.notifier.NotifyJob(ctx, ProgressMessage{
		Stage:         StageResumeFailed,
		Status:        "failed",
		JobID:         payload.JobID,
		ResumeID:      payload.ResumeID,
		ErrorMessage:  payload.Error,
		CorrelationID: payload.CorrelationID,
	}); err != nil {
		log.Warn("notify resume failure failed", slog.Any("error", err))
	}

	log.Info("resume failure recorded", slog.Int("retry_count", payload.RetryCount))
	return nil
}
