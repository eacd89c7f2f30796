package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"hireflow/internal/database"
	"hireflow/internal/events"
	"hireflow/internal/llm"
)

// ResumeParseHandler 消费 job.resume.submitted：取回文件，调用视觉模型
// 抽取结构化候选人数据，发布 analysis.resume.parsed；重试耗尽后发布
// job.resume.failed 并把简历标记为 failed。
type ResumeParseHandler struct {
	db        *gorm.DB
	storage   fileFetcher
	publisher publisher
	generator llm.Generator
	timeout   time.Duration
	logger    *slog.Logger

	finalAttempt func(context.Context) bool
	maxRetry     func(context.Context) int
}

// NewResumeParseHandler 创建任务处理器。
func NewResumeParseHandler(db *gorm.DB, storage fileFetcher, pub publisher, gen llm.Generator, llmTimeout time.Duration, logger *slog.Logger) *ResumeParseHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResumeParseHandler{
		db:           db,
		storage:      storage,
		publisher:    pub,
		generator:    gen,
		timeout:      llmTimeout,
		logger:       logger,
		finalAttempt: isFinalAttempt,
		maxRetry: func(ctx context.Context) int {
			n, ok := asynq.GetMaxRetry(ctx)
			if !ok {
				return 0
			}
			return n
		},
	}
}

// ProcessTask 实现 asynq.Handler。
func (h *ResumeParseHandler) ProcessTask(ctx context.Context, t *asynq.Task) (retErr error) {
	var payload events.ResumeSubmitted
	if err := events.Decode(t, &payload); err != nil {
		h.logger.Error("invalid resume.submitted payload", slog.Any("error", err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	log := h.logger.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.String("job_id", payload.JobID),
		slog.String("resume_id", payload.ResumeID),
	)

	var resume database.Resume
	if err := h.db.WithContext(ctx).Where("resume_id = ?", payload.ResumeID).First(&resume).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("resume not found, skipping parse")
			return nil
		}
		log.Error("query resume failed", slog.Any("error", err))
		return err
	}

	// 幂等：已完成或已终止的简历直接跳过。
	switch resume.Status {
	case database.ResumeStatusCompleted, database.ResumeStatusFailed:
		log.Info("resume already terminal, skipping", slog.String("status", resume.Status))
		return nil
	}

	// 配对校验：事件里的 jobId 必须与简历记录一致。
	if resume.JobID != payload.JobID {
		log.Error("job id mismatch on resume submission",
			slog.String("resume_job_id", resume.JobID),
		)
		return fmt.Errorf("resume %s belongs to job %s, not %s: %w",
			payload.ResumeID, resume.JobID, payload.JobID, asynq.SkipRetry)
	}

	// 重试耗尽：发布失败事件并终态化简历。
	defer func() {
		if retErr == nil || errors.Is(retErr, asynq.SkipRetry) || !h.finalAttempt(ctx) {
			return
		}
		h.failTerminally(ctx, log, payload, h.maxRetry(ctx), retErr.Error())
	}()

	if err := h.db.WithContext(ctx).Model(&database.Resume{}).
		Where("resume_id = ? AND status = ?", payload.ResumeID, database.ResumeStatusPending).
		Update("status", database.ResumeStatusProcessing).Error; err != nil {
		log.Error("advance resume status", slog.Any("error", err))
		return err
	}
	if err := h.db.WithContext(ctx).Model(&database.Resume{}).
		Where("resume_id = ?", payload.ResumeID).
		Update("retry_count", deliveryRetryCount(ctx)).Error; err != nil {
		log.Error("record retry count", slog.Any("error", err))
		return err
	}

	objectKey := objectKeyFromURL(payload.TempFileURL)
	fileBytes, err := h.storage.FetchObject(ctx, objectKey)
	if err != nil {
		log.Warn("fetch resume file failed", slog.String("object_key", objectKey), slog.Any("error", err))
		return fmt.Errorf("fetch resume file: %w", err)
	}

	start := time.Now()
	llmCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	dto, err := llm.ExtractResumeData(llmCtx, h.generator, fileBytes, mimeTypeFor(payload.OriginalFilename))
	if err != nil {
		if errors.Is(err, llm.ErrUnprocessable) {
			// 文件本身无法解析，重试没有意义。
			log.Warn("resume is unprocessable", slog.Any("error", err))
			h.failTerminally(ctx, log, payload, deliveryRetryCount(ctx), err.Error())
			return nil
		}
		log.Error("resume extraction failed", slog.Any("error", err))
		return err
	}

	parsedJSON, err := json.Marshal(dto)
	if err != nil {
		return fmt.Errorf("marshal parsed resume: %w", err)
	}

	res := h.db.WithContext(ctx).Model(&database.Resume{}).
		Where("resume_id = ? AND status <> ?", payload.ResumeID, database.ResumeStatusCompleted).
		Updates(map[string]any{
			"parsed_data": parsedJSON,
			"status":      database.ResumeStatusCompleted,
		})
	if res.Error != nil {
		log.Error("store parsed resume", slog.Any("error", res.Error))
		return res.Error
	}
	if res.RowsAffected == 0 {
		// 并发投递的另一个消费者已经完成了写入。
		log.Info("resume completed concurrently, skipping publish")
		return nil
	}

	task, err := events.NewResumeParsedTask(events.ResumeParsed{
		JobID:            payload.JobID,
		ResumeID:         payload.ResumeID,
		ResumeDTO:        *dto,
		Timestamp:        time.Now().UTC(),
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		CorrelationID:    payload.CorrelationID,
	})
	if err != nil {
		return err
	}
	if err := h.publisher.Publish(ctx, task); err != nil {
		log.Error("publish resume.parsed failed", slog.Any("error", err))
		return err
	}

	log.Info("resume parsing completed",
		slog.String("candidate", dto.Name),
		slog.Duration("took", time.Since(start)),
	)
	return nil
}

func (h *ResumeParseHandler) failTerminally(ctx context.Context, log *slog.Logger, payload events.ResumeSubmitted, retryCount int, reason string) {
	task, err := events.NewResumeFailedTask(events.ResumeFailed{
		JobID:            payload.JobID,
		ResumeID:         payload.ResumeID,
		OriginalFilename: payload.OriginalFilename,
		Error:            reason,
		RetryCount:       retryCount,
		Timestamp:        time.Now().UTC(),
		CorrelationID:    payload.CorrelationID,
	})
	if err != nil {
		log.Error("build resume.failed event", slog.Any("error", err))
	} else if err := h.publisher.Publish(ctx, task); err != nil {
		log.Error("publish resume.failed event", slog.Any("error", err))
	}

	if err := h.db.WithContext(ctx).Model(&database.Resume{}).
		Where("resume_id = ? AND status <> ?", payload.ResumeID, database.ResumeStatusCompleted).
		Updates(map[string]any{
			"status":         database.ResumeStatusFailed,
			"failure_reason": reason,
			"retry_count":    retryCount,
		}).Error; err != nil {
		log.Error("mark resume failed", slog.Any("error", err))
	}
}

func mimeTypeFor(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if typ := mime.TypeByExtension(ext); typ != "" {
		return typ
	}
	switch ext {
	case ".pdf":
		return "application/pdf"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	default:
		return "application/octet-stream"
	}
}
