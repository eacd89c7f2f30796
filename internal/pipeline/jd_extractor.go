package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"hireflow/internal/database"
	"hireflow/internal/events"
	"hireflow/internal/llm"
)

// JDExtractHandler 消费 job.jd.submitted，从自由文本 JD 中抽取结构化
// 要求并发布 analysis.jd.extracted。
type JDExtractHandler struct {
	db        *gorm.DB
	publisher publisher
	generator llm.Generator
	timeout   time.Duration
	logger    *slog.Logger

	finalAttempt func(context.Context) bool
}

// NewJDExtractHandler 创建任务处理器。
func NewJDExtractHandler(db *gorm.DB, pub publisher, gen llm.Generator, llmTimeout time.Duration, logger *slog.Logger) *JDExtractHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &JDExtractHandler{
		db:           db,
		publisher:    pub,
		generator:    gen,
		timeout:      llmTimeout,
		logger:       logger,
		finalAttempt: isFinalAttempt,
	}
}

// ProcessTask 实现 asynq.Handler。
func (h *JDExtractHandler) ProcessTask(ctx context.Context, t *asynq.Task) (retErr error) {
	var payload events.JDSubmitted
	if err := events.Decode(t, &payload); err != nil {
		h.logger.Error("invalid jd.submitted payload", slog.Any("error", err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	log := h.logger.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.String("job_id", payload.JobID),
	)

	var job database.Job
	if err := h.db.WithContext(ctx).Where("job_id = ?", payload.JobID).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("job not found, skipping extraction")
			return nil
		}
		log.Error("query job failed", slog.Any("error", err))
		return err
	}

	switch job.Status {
	case database.JobStatusClosed, database.JobStatusFailed:
		log.Info("job is terminal, skipping extraction", slog.String("status", job.Status))
		return nil
	}

	// 重试耗尽后仅标记岗位失败。JD 抽取没有对称的失败事件，
	// 失败状态通过 Job.Status 对外可见。
	defer func() {
		if retErr == nil || !h.finalAttempt(ctx) {
			return
		}
		if err := h.markJobFailed(ctx, payload.JobID); err != nil {
			log.Error("mark job failed", slog.Any("error", err))
		}
	}()

	start := time.Now()
	llmCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	dto, err := llm.ExtractJobRequirements(llmCtx, h.generator, job.Title, job.Description)
	if err != nil {
		if errors.Is(err, llm.ErrUnprocessable) {
			log.Warn("job description is unprocessable", slog.Any("error", err))
			if markErr := h.markJobFailed(ctx, payload.JobID); markErr != nil {
				log.Error("mark job failed", slog.Any("error", markErr))
				return markErr
			}
			return nil
		}
		log.Error("jd extraction failed", slog.Any("error", err))
		return err
	}

	reqJSON, err := json.Marshal(dto)
	if err != nil {
		return fmt.Errorf("marshal extracted requirements: %w", err)
	}

	// Last-write-wins：重复投递时重新套用相同结果是安全的。
	if err := h.db.WithContext(ctx).Model(&database.Job{}).
		Where("job_id = ?", payload.JobID).
		Update("requirements", reqJSON).Error; err != nil {
		log.Error("store extracted requirements", slog.Any("error", err))
		return err
	}
	if err := h.db.WithContext(ctx).Model(&database.Job{}).
		Where("job_id = ? AND status = ?", payload.JobID, database.JobStatusActive).
		Update("status", database.JobStatusProcessing).Error; err != nil {
		log.Error("advance job status", slog.Any("error", err))
		return err
	}

	task, err := events.NewJDExtractedTask(events.JDExtracted{
		JobID:            payload.JobID,
		ExtractedData:    *dto,
		Timestamp:        time.Now().UTC(),
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		CorrelationID:    payload.CorrelationID,
	})
	if err != nil {
		return err
	}
	if err := h.publisher.Publish(ctx, task); err != nil {
		log.Error("publish jd.extracted failed", slog.Any("error", err))
		return err
	}

	log.Info("jd extraction completed",
		slog.Int("skills", len(dto.Skills)),
		slog.Duration("took", time.Since(start)),
	)
	return nil
}

func (h *JDExtractHandler) markJobFailed(ctx context.Context, jobID string) error {
	return h.db.WithContext(ctx).Model(&database.Job{}).
		Where("job_id = ? AND status NOT IN ?", jobID, []string{database.JobStatusClosed, database.JobStatusFailed}).
		Update("status", database.JobStatusFailed).Error
}
